package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Lllllllleong/reasoningbatchflow/internal/gcp"
	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
	"github.com/Lllllllleong/reasoningbatchflow/internal/recovery"
)

// SubmitterConfig holds configuration for the submitter service.
type SubmitterConfig struct {
	ProjectID    string
	InputBucket  string
	OutputBucket string
	RunID        string
	ChunkSize    int
	Encoder      EncoderConfig
}

// SubmitterFunction splits the dataset into chunks and registers one
// batch prediction job per chunk, recording each job durably before
// moving on.
type SubmitterFunction struct {
	store    ObjectStore
	batch    BatchService
	recovery *recovery.Store
	config   SubmitterConfig
}

// NewSubmitter creates a new SubmitterFunction instance. Callers supply
// the recovery store; cloud clients are built here.
func NewSubmitter(ctx context.Context, rec *recovery.Store, config SubmitterConfig) (*SubmitterFunction, error) {
	if err := validateSubmitterConfig(&config); err != nil {
		return nil, err
	}

	store, err := gcp.NewGCSStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	region := gcp.GetEnv("VERTEX_AI_REGION", "us-central1")
	model := gcp.GetEnv("BATCH_MODEL", "publishers/google/models/gemini-1.5-pro")
	batch, err := gcp.NewBatchClient(ctx, config.ProjectID, region, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch client: %w", err)
	}

	return &SubmitterFunction{store: store, batch: batch, recovery: rec, config: config}, nil
}

// NewSubmitterWithClients wires a submitter over explicit collaborators.
func NewSubmitterWithClients(store ObjectStore, batch BatchService, rec *recovery.Store, config SubmitterConfig) (*SubmitterFunction, error) {
	if err := validateSubmitterConfig(&config); err != nil {
		return nil, err
	}
	return &SubmitterFunction{store: store, batch: batch, recovery: rec, config: config}, nil
}

func validateSubmitterConfig(config *SubmitterConfig) error {
	if config.ProjectID == "" {
		return fmt.Errorf("ProjectID must be set")
	}
	if config.InputBucket == "" || config.OutputBucket == "" {
		return fmt.Errorf("InputBucket and OutputBucket must be set")
	}
	if config.RunID == "" {
		return fmt.Errorf("RunID must be set")
	}
	if config.ChunkSize < 1 {
		return fmt.Errorf("ChunkSize must be positive, got %d", config.ChunkSize)
	}
	if config.Encoder.SystemPrompt == "" {
		config.Encoder.SystemPrompt = gcp.ReasoningSystemPrompt
	}
	if config.Encoder.PromptTemplate == "" {
		config.Encoder.PromptTemplate = gcp.ReasoningPromptTemplate
	}
	return nil
}

// Process submits every chunk of the dataset, one at a time. Chunks that
// already have a recovery store entry are skipped, so a rerun only
// retries the chunks whose submission previously failed. A failed chunk
// is logged and does not stop later chunks; the combined error is
// returned at the end.
func (f *SubmitterFunction) Process(ctx context.Context, records []models.Record) error {
	chunks, err := SplitRecords(records, f.config.ChunkSize)
	if err != nil {
		return err
	}

	logCtx := slog.With("runId", f.config.RunID)
	logCtx.Info("Submitting dataset.", "recordCount", len(records), "chunkCount", len(chunks), "chunkSize", f.config.ChunkSize)

	seen := make(map[string]struct{}, len(records))
	var errs []error
	submitted := 0

	for i, chunk := range chunks {
		if f.recovery.HasChunk(i) {
			logCtx.Info("SKIPPING: Chunk already submitted.", "chunkIndex", i)
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		jobID, err := f.submitChunk(ctx, i, chunk, seen)
		if err != nil {
			subErr := &SubmissionError{ChunkIndex: i, Err: err}
			logCtx.Error("Chunk submission failed, continuing with remaining chunks.", "chunkIndex", i, "error", err)
			errs = append(errs, subErr)
			continue
		}

		logCtx.Info("Submitted batch job.", "chunkIndex", i, "jobId", jobID)
		submitted++
	}

	logCtx.Info("Submission pass complete.", "submitted", submitted, "failed", len(errs))
	return errors.Join(errs...)
}

// submitChunk encodes, uploads and registers a single chunk. The
// recovery store append is durable before the chunk counts as submitted;
// a crash between job creation and the append leaves an orphaned
// external job, which is logged as a known residual risk.
func (f *SubmitterFunction) submitChunk(ctx context.Context, chunkIndex int, chunk []models.Record, seen map[string]struct{}) (string, error) {
	envelopes, err := EncodeChunk(chunk, chunkIndex*f.config.ChunkSize, seen, f.config.Encoder)
	if err != nil {
		return "", fmt.Errorf("failed to encode chunk: %w", err)
	}

	payload, err := MarshalJSONL(envelopes)
	if err != nil {
		return "", err
	}

	inputURI := fmt.Sprintf("gs://%s/%s/batch_%d.jsonl", f.config.InputBucket, f.config.RunID, chunkIndex+1)
	if err := f.store.Upload(ctx, inputURI, payload); err != nil {
		return "", fmt.Errorf("failed to upload chunk payload: %w", err)
	}

	displayName := f.config.RunID + "-chunk-" + strconv.Itoa(chunkIndex+1)
	outputPrefix := fmt.Sprintf("gs://%s/%s/chunk_%d", f.config.OutputBucket, f.config.RunID, chunkIndex+1)
	jobID, err := f.batch.CreateJob(ctx, displayName, inputURI, outputPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to create batch job: %w", err)
	}

	job := models.Job{
		ID:         jobID,
		ChunkIndex: chunkIndex,
		Status:     models.StatusSubmitted,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := f.recovery.Append(job); err != nil {
		slog.Error("CRITICAL: Job created but not recorded; it is orphaned and will not be tracked.", "jobId", jobID, "chunkIndex", chunkIndex, "error", err)
		return "", fmt.Errorf("failed to record job %s: %w", jobID, err)
	}
	return jobID, nil
}
