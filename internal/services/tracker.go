package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/reasoningbatchflow/internal/gcp"
	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
	"github.com/Lllllllleong/reasoningbatchflow/internal/recovery"
)

// TrackerConfig holds configuration for the tracker service.
type TrackerConfig struct {
	ProjectID string
	// PollInterval is the sleep between tracking passes.
	PollInterval time.Duration
	// PollConcurrency caps how many jobs are polled at once. Jobs are
	// independent, so raising it never changes correctness.
	PollConcurrency int
	// StatusLogPath receives one human-readable line per job per pass.
	StatusLogPath string
}

// TrackerFunction polls every recorded job until it reaches a terminal
// state, persisting each observed transition and handing completed jobs
// to the retriever. It never submits anything: given only the recovery
// store it resumes polling jobs left over from a prior run.
type TrackerFunction struct {
	batch     BatchService
	recovery  *recovery.Store
	retriever *RetrieverFunction
	config    TrackerConfig
}

// NewTracker creates a new TrackerFunction instance.
func NewTracker(ctx context.Context, rec *recovery.Store, retriever *RetrieverFunction, config TrackerConfig) (*TrackerFunction, error) {
	if config.ProjectID == "" {
		return nil, fmt.Errorf("ProjectID must be set")
	}

	region := gcp.GetEnv("VERTEX_AI_REGION", "us-central1")
	model := gcp.GetEnv("BATCH_MODEL", "publishers/google/models/gemini-1.5-pro")
	batch, err := gcp.NewBatchClient(ctx, config.ProjectID, region, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch client: %w", err)
	}
	return NewTrackerWithClients(batch, rec, retriever, config)
}

// NewTrackerWithClients wires a tracker over explicit collaborators.
func NewTrackerWithClients(batch BatchService, rec *recovery.Store, retriever *RetrieverFunction, config TrackerConfig) (*TrackerFunction, error) {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.PollConcurrency < 1 {
		config.PollConcurrency = 1
	}
	return &TrackerFunction{batch: batch, recovery: rec, retriever: retriever, config: config}, nil
}

// Process runs tracking passes until every job is terminal and every
// completed job's results are checkpointed, or ctx is cancelled. Failed
// status checks are absorbed and retried on the next pass; failed and
// expired jobs are recorded and left behind, they never abort tracking.
func (f *TrackerFunction) Process(ctx context.Context) error {
	jobs := f.recovery.Jobs()
	if len(jobs) == 0 {
		slog.Info("Recovery store is empty, nothing to track.")
		return nil
	}
	slog.Info("Tracking batch jobs.", "jobCount", len(jobs))

	for pass := 1; ; pass++ {
		if err := f.pollPass(ctx, pass); err != nil {
			return err
		}

		done, err := f.retrievePass(ctx)
		if err != nil {
			return err
		}
		if done {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.config.PollInterval):
		}
	}

	slog.Info("Tracking complete, all jobs terminal.")
	return nil
}

// pollPass asks the service for the status of every non-terminal job and
// persists observed transitions. The service is authoritative; no state
// is ever inferred locally.
func (f *TrackerFunction) pollPass(ctx context.Context, pass int) error {
	jobs := f.recovery.Jobs()
	lines := make([]string, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.PollConcurrency)

	for i := range jobs {
		job := jobs[i]
		if job.Status.Terminal() {
			lines[i] = statusLine(job)
			continue
		}

		g.Go(func() error {
			status, outputDir, err := f.batch.GetJob(gctx, job.ID)
			if err != nil {
				// A failed status check degrades to a retry on the next
				// pass, it never aborts tracking.
				slog.Warn("Status check failed.", "jobId", job.ID, "pass", pass, "error", err)
				lines[i] = statusLine(job)
				return nil
			}

			if status != job.Status || (outputDir != "" && outputDir != job.OutputDir) {
				if err := f.recovery.SetStatus(job.ID, status, outputDir); err != nil {
					return fmt.Errorf("failed to persist status of job %s: %w", job.ID, err)
				}
				if status == models.StatusFailed || status == models.StatusExpired {
					slog.Error("Job reached a terminal failure state; its records stay without reasoning.",
						"jobId", job.ID, "chunkIndex", job.ChunkIndex, "status", status, "outputDir", outputDir)
				}
			}

			job.Status = status
			lines[i] = statusLine(job)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	f.appendStatusLog(lines)
	return nil
}

// retrievePass fetches results for completed jobs that have no local
// checkpoint yet. It reports whether tracking is finished.
func (f *TrackerFunction) retrievePass(ctx context.Context) (bool, error) {
	done := true
	for _, job := range f.recovery.Jobs() {
		switch {
		case job.Status == models.StatusCompleted:
			if f.retriever.HasCheckpoint(job.ID) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if _, _, err := f.retriever.Retrieve(ctx, job); err != nil {
				// The completed status is preserved, so only retrieval is
				// repeated on the next pass, never the submission.
				slog.Warn("Retrieval failed, will retry.", "jobId", job.ID, "error", err)
				done = false
			}
		case !job.Status.Terminal():
			done = false
		}
	}
	return done, nil
}

func statusLine(job models.Job) string {
	return fmt.Sprintf("Batch ID: %s | Status: %s", job.ID, job.Status)
}

// appendStatusLog writes one line per job to the status log. The log is
// informational; a write failure is logged but never stops tracking.
func (f *TrackerFunction) appendStatusLog(lines []string) {
	if f.config.StatusLogPath == "" {
		return
	}

	file, err := os.OpenFile(f.config.StatusLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("Failed to open status log.", "path", f.config.StatusLogPath, "error", err)
		return
	}
	defer file.Close()

	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(file, line); err != nil {
			slog.Warn("Failed to write status log line.", "path", f.config.StatusLogPath, "error", err)
			return
		}
	}
}
