package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/reasoningbatchflow/internal/gcp"
	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// RetrieverConfig holds configuration for the retriever service.
type RetrieverConfig struct {
	// CheckpointDir is the local directory receiving one merged_<job>.json
	// file per completed job.
	CheckpointDir string
}

// RetrieverFunction downloads a completed job's raw result stream,
// decodes it line by line and writes the per-job checkpoint file so a
// later merge never has to re-download.
type RetrieverFunction struct {
	store  ObjectStore
	config RetrieverConfig
}

// NewRetriever creates a new RetrieverFunction instance.
func NewRetriever(ctx context.Context, config RetrieverConfig) (*RetrieverFunction, error) {
	store, err := gcp.NewGCSStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewRetrieverWithClients(store, config)
}

// NewRetrieverWithClients wires a retriever over an explicit object store.
func NewRetrieverWithClients(store ObjectStore, config RetrieverConfig) (*RetrieverFunction, error) {
	if config.CheckpointDir == "" {
		return nil, fmt.Errorf("CheckpointDir must be set")
	}
	return &RetrieverFunction{store: store, config: config}, nil
}

// CheckpointName returns the checkpoint file name for a job. Job ids are
// resource names; the trailing path segment is unique within a project.
func CheckpointName(jobID string) string {
	short := jobID
	if i := strings.LastIndex(jobID, "/"); i >= 0 {
		short = jobID[i+1:]
	}
	return fmt.Sprintf("merged_%s.json", short)
}

// CheckpointPath returns the local path of a job's checkpoint file.
func (f *RetrieverFunction) CheckpointPath(jobID string) string {
	return filepath.Join(f.config.CheckpointDir, CheckpointName(jobID))
}

// HasCheckpoint reports whether a job's results are already on disk.
func (f *RetrieverFunction) HasCheckpoint(jobID string) bool {
	_, err := os.Stat(f.CheckpointPath(jobID))
	return err == nil
}

// Retrieve downloads every predictions JSONL object under the job's
// output directory, parses the lines and writes the checkpoint file.
// It returns the number of decoded responses and of skipped lines.
func (f *RetrieverFunction) Retrieve(ctx context.Context, job models.Job) (int, int, error) {
	logCtx := slog.With("jobId", job.ID, "chunkIndex", job.ChunkIndex)

	if job.OutputDir == "" {
		return 0, 0, fmt.Errorf("job %s has no output directory recorded", job.ID)
	}

	uris, err := f.store.List(ctx, job.OutputDir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list results for job %s: %w", job.ID, err)
	}

	var responses []models.ResponseEnvelope
	anomalies := 0
	streamCount := 0

	for _, uri := range uris {
		if !strings.HasSuffix(uri, ".jsonl") || !strings.Contains(path.Base(uri), "predictions") {
			continue
		}
		streamCount++

		content, err := f.store.Download(ctx, uri)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to download result stream %s: %w", uri, err)
		}

		decoded, skipped := ParseResults(bytes.NewReader(content))
		responses = append(responses, decoded...)
		anomalies += skipped
	}

	if streamCount == 0 {
		logCtx.Warn("No prediction streams found under output directory.", "outputDir", job.OutputDir)
	}

	if err := f.writeCheckpoint(job.ID, responses); err != nil {
		return 0, 0, err
	}

	logCtx.Info("Retrieved job results.", "responses", len(responses), "skippedLines", anomalies, "streams", streamCount)
	return len(responses), anomalies, nil
}

// resultLine mirrors the shape of one raw result stream line. Only the
// fields the pipeline extracts are declared.
type resultLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	} `json:"response"`
}

// ParseResults decodes a line-delimited result stream. Each line is
// decoded independently; a malformed line or one without a custom_id is
// logged and skipped, never fatal. The second return value counts the
// skipped lines.
func ParseResults(r io.Reader) ([]models.ResponseEnvelope, int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var responses []models.ResponseEnvelope
	anomalies := 0
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var decoded resultLine
		if err := json.Unmarshal(line, &decoded); err != nil {
			slog.Warn("Skipping unparseable result line.", "line", lineNo, "error", err)
			anomalies++
			continue
		}
		if decoded.CustomID == "" {
			slog.Warn("Skipping result line without custom_id.", "line", lineNo)
			anomalies++
			continue
		}

		// An empty reasoning text is kept: it means the upstream call
		// itself produced nothing for this record.
		var reasoning strings.Builder
		if len(decoded.Response.Candidates) > 0 {
			for _, part := range decoded.Response.Candidates[0].Content.Parts {
				reasoning.WriteString(part.Text)
			}
		}

		responses = append(responses, models.ResponseEnvelope{
			CustomID:  decoded.CustomID,
			Reasoning: reasoning.String(),
		})
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("Result stream ended early.", "line", lineNo, "error", err)
		anomalies++
	}
	return responses, anomalies
}

// writeCheckpoint saves the parsed responses atomically so a partially
// written checkpoint is never observed by the merger.
func (f *RetrieverFunction) writeCheckpoint(jobID string, responses []models.ResponseEnvelope) error {
	if err := os.MkdirAll(f.config.CheckpointDir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	if responses == nil {
		responses = []models.ResponseEnvelope{}
	}
	content, err := json.MarshalIndent(responses, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint for job %s: %w", jobID, err)
	}

	target := f.CheckpointPath(jobID)
	tmp, err := os.CreateTemp(f.config.CheckpointDir, CheckpointName(jobID)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}
