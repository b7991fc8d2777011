package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// SplitRecords partitions records into chunks of at most chunkSize,
// preserving order. Concatenating the chunks reconstructs the input
// exactly. Pure; no side effects.
func SplitRecords(records []models.Record, chunkSize int) ([][]models.Record, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	var chunks [][]models.Record
	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks, nil
}

// EncoderConfig carries the prompt and sampling parameters attached to
// every request of a run. Fixed per run, never per record.
type EncoderConfig struct {
	SystemPrompt    string
	PromptTemplate  string
	Temperature     float32
	MaxOutputTokens int
}

// EncodeChunk builds one request envelope per record of a chunk.
// globalOffset is the chunk's starting position in the full dataset and
// feeds synthesized ids for records without a problem_id. seen holds
// every correlation id issued so far in this submission; a collision is
// a fatal construction error for the chunk.
func EncodeChunk(chunk []models.Record, globalOffset int, seen map[string]struct{}, config EncoderConfig) ([]models.RequestEnvelope, error) {
	envelopes := make([]models.RequestEnvelope, 0, len(chunk))

	for j := range chunk {
		record := &chunk[j]

		customID := record.CorrelationID()
		if customID == "" {
			suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
			customID = fmt.Sprintf("request-%d-%s", globalOffset+j, suffix)
		}
		if _, dup := seen[customID]; dup {
			return nil, fmt.Errorf("duplicate correlation id %q at offset %d", customID, globalOffset+j)
		}
		seen[customID] = struct{}{}

		prompt := fmt.Sprintf(config.PromptTemplate, record.Problem, record.Solution)
		envelope := models.RequestEnvelope{
			CustomID: customID,
			Request: models.GenerationRequest{
				Contents: []models.Content{
					{Role: "user", Parts: []models.ContentPart{{Text: prompt}}},
				},
				SystemInstruction: &models.Content{
					Parts: []models.ContentPart{{Text: config.SystemPrompt}},
				},
				GenerationConfig: &models.GenerationConfig{
					Temperature:     config.Temperature,
					MaxOutputTokens: config.MaxOutputTokens,
				},
			},
		}
		envelopes = append(envelopes, envelope)
	}
	return envelopes, nil
}

// MarshalJSONL serializes request envelopes into the line-delimited
// submission payload, one envelope per line.
func MarshalJSONL(envelopes []models.RequestEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	for i := range envelopes {
		line, err := json.Marshal(&envelopes[i])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request %s: %w", envelopes[i].CustomID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
