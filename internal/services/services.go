// Package services implements the stages of the reasoning batch
// pipeline: splitting and encoding the dataset, submitting and tracking
// batch prediction jobs, retrieving and parsing their results, and
// merging the generated reasoning back into the dataset.
package services

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// ObjectStore is the slice of object storage the pipeline uses. URIs are
// gs:// style. gcp.GCSStore is the production implementation.
type ObjectStore interface {
	Upload(ctx context.Context, uri string, content []byte) error
	Download(ctx context.Context, uri string) ([]byte, error)
	List(ctx context.Context, uriPrefix string) ([]string, error)
}

// BatchService is the boundary to the external batch inference service.
// gcp.BatchClient is the production implementation.
type BatchService interface {
	CreateJob(ctx context.Context, displayName, inputURI, outputURIPrefix string) (jobID string, err error)
	GetJob(ctx context.Context, jobID string) (status models.JobStatus, outputDir string, err error)
}

// SubmissionError reports a failed chunk submission. The chunk is not
// recorded in the recovery store, so a rerun retries it.
type SubmissionError struct {
	ChunkIndex int
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission of chunk %d failed: %v", e.ChunkIndex, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
