package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// ErrBackupRequired blocks the destructive merge step until a backup of
// the pre-merge dataset has been confirmed.
var ErrBackupRequired = errors.New("refusing to update dataset without a confirmed backup")

// MergerConfig holds configuration for the merger service.
type MergerConfig struct {
	CheckpointDir   string
	FinalMergedPath string
	BackupDir       string
}

// MergerFunction reassembles per-job results in original chunk order and
// applies them onto the dataset.
type MergerFunction struct {
	config MergerConfig
}

// NewMerger creates a new MergerFunction instance.
func NewMerger(config MergerConfig) (*MergerFunction, error) {
	if config.CheckpointDir == "" {
		return nil, fmt.Errorf("CheckpointDir must be set")
	}
	return &MergerFunction{config: config}, nil
}

// MergeJobResults concatenates the per-job checkpoint files of the given
// jobs in chunk-index order, regardless of the order the jobs finished
// in, so the final collection tracks the original dataset partitioning.
// A missing checkpoint is logged and skipped, not fatal. When
// FinalMergedPath is set the combined collection is written there.
func (f *MergerFunction) MergeJobResults(jobs []models.Job) ([]models.ResponseEnvelope, error) {
	all := []models.ResponseEnvelope{}

	for _, job := range jobs {
		checkpoint := filepath.Join(f.config.CheckpointDir, CheckpointName(job.ID))
		content, err := os.ReadFile(checkpoint)
		if os.IsNotExist(err) {
			slog.Warn("Checkpoint file not found, skipping job.", "jobId", job.ID, "chunkIndex", job.ChunkIndex, "status", job.Status)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint %s: %w", checkpoint, err)
		}

		var responses []models.ResponseEnvelope
		if err := json.Unmarshal(content, &responses); err != nil {
			slog.Warn("Checkpoint file is unreadable, skipping job.", "jobId", job.ID, "error", err)
			continue
		}
		all = append(all, responses...)
	}

	slog.Info("Merged job results in chunk order.", "jobCount", len(jobs), "responseCount", len(all))

	if f.config.FinalMergedPath != "" {
		content, err := json.MarshalIndent(all, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal merged results: %w", err)
		}
		if err := os.WriteFile(f.config.FinalMergedPath, content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write merged results: %w", err)
		}
		slog.Info("Final merged file saved.", "path", f.config.FinalMergedPath)
	}
	return all, nil
}

// CreateBackup copies the dataset into the backup directory under a
// timestamped name and returns the backup path. The copy is flushed
// before returning; the merge step must not run if this fails.
func (f *MergerFunction) CreateBackup(datasetPath string) (string, error) {
	if f.config.BackupDir == "" {
		return "", fmt.Errorf("BackupDir must be set")
	}
	if err := os.MkdirAll(f.config.BackupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	source, err := os.Open(datasetPath)
	if err != nil {
		return "", fmt.Errorf("failed to open dataset for backup: %w", err)
	}
	defer source.Close()

	timestamp := time.Now().Format("20060102_150405")
	base := filepath.Base(datasetPath)
	backupPath := filepath.Join(f.config.BackupDir, fmt.Sprintf("%s.backup_%s", base, timestamp))

	target, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}

	if _, err := io.Copy(target, source); err != nil {
		target.Close()
		os.Remove(backupPath)
		return "", fmt.Errorf("failed to copy dataset to backup: %w", err)
	}
	if err := target.Sync(); err != nil {
		target.Close()
		os.Remove(backupPath)
		return "", fmt.Errorf("failed to flush backup: %w", err)
	}
	if err := target.Close(); err != nil {
		os.Remove(backupPath)
		return "", fmt.Errorf("failed to close backup: %w", err)
	}
	return backupPath, nil
}

// WrapReasoning wraps generated text in the dataset's canonical
// reasoning annotation.
func WrapReasoning(text string) string {
	return fmt.Sprintf("<think>%s</think>", text)
}

// ApplyToDataset fills each record's reasoning field from the response
// whose correlation id matches. Records without a match are left
// unchanged and reported. backupDone is the caller's confirmation that a
// pre-merge backup exists; without it the operation refuses to mutate
// anything. Applying the same responses twice yields the same dataset.
func ApplyToDataset(records []models.Record, responses []models.ResponseEnvelope, backupDone bool) (int, []string, error) {
	if !backupDone {
		return 0, nil, ErrBackupRequired
	}

	byID := make(map[string]string, len(responses))
	for _, resp := range responses {
		if _, dup := byID[resp.CustomID]; dup {
			slog.Warn("Duplicate correlation id in responses, keeping the last occurrence.", "customId", resp.CustomID)
		}
		byID[resp.CustomID] = resp.Reasoning
	}

	updated := 0
	var unmatched []string
	for i := range records {
		id := records[i].CorrelationID()
		reasoning, ok := byID[id]
		if id == "" || !ok {
			unmatched = append(unmatched, id)
			continue
		}
		records[i].Process = WrapReasoning(reasoning)
		updated++
	}
	return updated, unmatched, nil
}
