// Package recovery persists submitted job identifiers and their last
// known status, so an interrupted run can resume polling and retrieval
// without resubmitting work.
package recovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// Store is the durable record of submitted jobs. It owns the file at
// path; all writes are whole-file atomic replacements flushed before the
// calling step reports success.
//
// Two legacy on-disk representations survive in the wild: a plain
// newline-delimited list of job ids, and a JSON array of id strings.
// Both are accepted on load and normalized to the typed-entry form on
// the first write.
type Store struct {
	path string

	mu   sync.Mutex
	jobs []models.Job
	byID map[string]int
}

// Open loads the store at path, normalizing any legacy representation.
// A missing file is an empty store, not an error. Entries that cannot be
// interpreted are logged and skipped.
func Open(path string) (*Store, error) {
	s := &Store{path: path, byID: make(map[string]int)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recovery store %s: %w", path, err)
	}

	jobs, legacy := decodeEntries(raw)
	for _, job := range jobs {
		if _, dup := s.byID[job.ID]; dup {
			slog.Warn("Duplicate job id in recovery store, keeping first entry.", "jobId", job.ID)
			continue
		}
		s.byID[job.ID] = len(s.jobs)
		s.jobs = append(s.jobs, job)
	}

	if legacy && len(s.jobs) > 0 {
		slog.Info("Recovery store is in a legacy format, normalizing.", "path", path, "jobCount", len(s.jobs))
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// decodeEntries interprets the raw store content, returning the decoded
// jobs and whether the file was in a legacy representation.
func decodeEntries(raw []byte) ([]models.Job, bool) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		// Not a JSON array: treat as a plain newline-delimited id list.
		var jobs []models.Job
		for _, line := range strings.Split(string(raw), "\n") {
			id := strings.TrimSpace(line)
			if id == "" {
				continue
			}
			jobs = append(jobs, models.Job{ID: id, ChunkIndex: len(jobs), Status: models.StatusSubmitted})
		}
		return jobs, true
	}

	var jobs []models.Job
	legacy := false
	for i, elem := range elements {
		var id string
		if err := json.Unmarshal(elem, &id); err == nil {
			if id = strings.TrimSpace(id); id != "" {
				jobs = append(jobs, models.Job{ID: id, ChunkIndex: len(jobs), Status: models.StatusSubmitted})
				legacy = true
			}
			continue
		}

		var job models.Job
		if err := json.Unmarshal(elem, &job); err != nil || job.ID == "" {
			slog.Warn("Skipping unreadable recovery store entry.", "index", i)
			continue
		}
		if job.Status == "" {
			job.Status = models.StatusSubmitted
		}
		jobs = append(jobs, job)
	}
	return jobs, legacy
}

// Append records a newly submitted job. The entry is durable on disk
// before Append returns.
func (s *Store) Append(job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byID[job.ID]; dup {
		return fmt.Errorf("job %s already recorded", job.ID)
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now().UTC()
	}
	s.byID[job.ID] = len(s.jobs)
	s.jobs = append(s.jobs, job)
	return s.persistLocked()
}

// SetStatus updates a job's status and, when non-empty, its output
// directory. The update is durable on disk before SetStatus returns.
func (s *Store) SetStatus(jobID string, status models.JobStatus, outputDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[jobID]
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	s.jobs[i].Status = status
	if outputDir != "" {
		s.jobs[i].OutputDir = outputDir
	}
	s.jobs[i].UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

// Jobs returns a copy of all recorded jobs in chunk-index order.
func (s *Store) Jobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]models.Job, len(s.jobs))
	copy(jobs, s.jobs)
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].ChunkIndex < jobs[b].ChunkIndex })
	return jobs
}

// HasChunk reports whether a job for the given chunk index is recorded.
func (s *Store) HasChunk(chunkIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.ChunkIndex == chunkIndex {
			return true
		}
	}
	return false
}

// persistLocked writes the normalized representation atomically: temp
// file in the same directory, fsync, rename over the original.
func (s *Store) persistLocked() error {
	content, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal recovery store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recovery store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp recovery store: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write recovery store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush recovery store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp recovery store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace recovery store: %w", err)
	}
	return nil
}
