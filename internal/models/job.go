package models

import "time"

// JobStatus is the pipeline's view of a batch prediction job's state.
// The external service is authoritative; the tracker never infers a
// transition locally.
type JobStatus string

const (
	StatusSubmitted JobStatus = "submitted"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusExpired   JobStatus = "expired"
)

// Terminal reports whether no further status transition can occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Job is one submitted unit of work covering a single chunk of the
// dataset. The durable copy lives in the recovery store; in-memory
// values are rebuilt from it on restart.
type Job struct {
	// ID is the job resource name assigned by the service.
	ID         string    `json:"job_id"`
	ChunkIndex int       `json:"chunk_index"`
	Status     JobStatus `json:"status"`
	// OutputDir is the GCS directory holding the raw result stream,
	// known once the job completes.
	OutputDir string    `json:"output_dir,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
