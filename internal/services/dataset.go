package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// LoadRecords reads a dataset file: a JSON array of Records.
func LoadRecords(path string) ([]models.Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}

	var records []models.Record
	if err := json.Unmarshal(content, &records); err != nil {
		return nil, fmt.Errorf("dataset %s is not a JSON array of records: %w", path, err)
	}
	return records, nil
}

// SaveRecords writes a dataset file, creating parent directories as
// needed.
func SaveRecords(path string, records []models.Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	content, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dataset: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset %s: %w", path, err)
	}
	return nil
}
