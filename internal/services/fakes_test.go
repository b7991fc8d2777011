package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// fakeObjectStore is an in-memory ObjectStore keyed by full gs:// URI.
type fakeObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	downloads int
	failNext  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Upload(_ context.Context, uri string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.uploads++
	if _, exists := s.objects[uri]; exists {
		return nil // precondition write: existing objects are kept
	}
	s.objects[uri] = append([]byte(nil), content...)
	return nil
}

func (s *fakeObjectStore) Download(_ context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}
	s.downloads++
	content, ok := s.objects[uri]
	if !ok {
		return nil, fmt.Errorf("object %s not found", uri)
	}
	return append([]byte(nil), content...), nil
}

func (s *fakeObjectStore) List(_ context.Context, uriPrefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var uris []string
	for uri := range s.objects {
		if strings.HasPrefix(uri, uriPrefix) {
			uris = append(uris, uri)
		}
	}
	sort.Strings(uris)
	return uris, nil
}

// jobScript is the scripted answer sequence for one fake job; the last
// step is sticky once the sequence is exhausted.
type jobScript struct {
	steps []scriptStep
	polls int
}

type scriptStep struct {
	status    models.JobStatus
	outputDir string
	err       error
}

// fakeBatchService hands out sequential job ids and replays scripted
// status sequences.
type fakeBatchService struct {
	mu          sync.Mutex
	createCalls int
	failCreate  error
	nextID      int
	scripts     map[string]*jobScript
}

func newFakeBatchService() *fakeBatchService {
	return &fakeBatchService{scripts: make(map[string]*jobScript)}
}

func (s *fakeBatchService) script(jobID string, steps ...scriptStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[jobID] = &jobScript{steps: steps}
}

func (s *fakeBatchService) CreateJob(_ context.Context, displayName, inputURI, outputURIPrefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.failCreate != nil {
		return "", s.failCreate
	}
	s.nextID++
	jobID := fmt.Sprintf("projects/p/locations/l/batchPredictionJobs/%d", s.nextID)
	if _, ok := s.scripts[jobID]; !ok {
		s.scripts[jobID] = &jobScript{steps: []scriptStep{{status: models.StatusSubmitted}}}
	}
	return jobID, nil
}

func (s *fakeBatchService) GetJob(_ context.Context, jobID string) (models.JobStatus, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	script, ok := s.scripts[jobID]
	if !ok {
		return "", "", fmt.Errorf("unknown job %s", jobID)
	}
	i := script.polls
	if i >= len(script.steps) {
		i = len(script.steps) - 1
	}
	script.polls++
	step := script.steps[i]
	if step.err != nil {
		return "", "", step.err
	}
	return step.status, step.outputDir, nil
}
