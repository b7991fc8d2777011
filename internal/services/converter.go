package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// RawConversationTurn is one turn of an upstream annotation record.
type RawConversationTurn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// RawAnnotation is one record of the upstream conversation-format
// dataset, before conversion into the pipeline's Record schema.
type RawAnnotation struct {
	Conversations []RawConversationTurn `json:"conversations"`
	Image         []string              `json:"image"`
}

// ConverterConfig holds configuration for the dataset converter.
type ConverterConfig struct {
	DataSource string
}

var imageTagRegex = regexp.MustCompile(`<image>\s*`)

// ConvertAnnotations turns upstream conversation records into pipeline
// Records. Problem ids are positional; the human turn becomes the
// problem statement, the gpt turn the solution.
func ConvertAnnotations(raw []RawAnnotation, config ConverterConfig) ([]models.Record, error) {
	if config.DataSource == "" {
		config.DataSource = "RoboLogicTask"
	}

	records := make([]models.Record, 0, len(raw))
	for index, annotation := range raw {
		record, err := convertAnnotation(annotation, index, config.DataSource)
		if err != nil {
			return nil, fmt.Errorf("failed to convert record %d: %w", index, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func convertAnnotation(annotation RawAnnotation, problemID int, dataSource string) (models.Record, error) {
	var humanText, gptText string
	for _, turn := range annotation.Conversations {
		switch turn.From {
		case "human":
			humanText = turn.Value
		case "gpt":
			gptText = turn.Value
		}
	}

	// Strip <image> placeholders; when the instruction spans several
	// lines the task statement is the last non-blank one.
	cleaned := strings.TrimSpace(imageTagRegex.ReplaceAllString(humanText, ""))
	if strings.Contains(cleaned, "\n") {
		for _, part := range strings.Split(cleaned, "\n") {
			if part = strings.TrimSpace(part); part != "" {
				cleaned = part
			}
		}
	}

	path, err := json.Marshal(annotation.Image)
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to marshal image paths: %w", err)
	}

	id := problemID
	return models.Record{
		ProblemID:   &id,
		Problem:     cleaned,
		DataType:    "image",
		ProblemType: "free-form",
		Options:     []string{},
		Process:     fmt.Sprintf("<think>Human: %s\nGPT: %s</think>", humanText, gptText),
		Solution:    fmt.Sprintf("<answer>%s</answer>", gptText),
		Path:        path,
		DataSource:  dataSource,
	}, nil
}
