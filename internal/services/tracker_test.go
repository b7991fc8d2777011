package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
	"github.com/Lllllllleong/reasoningbatchflow/internal/recovery"
)

func testTrackerConfig(dir string) TrackerConfig {
	return TrackerConfig{
		ProjectID:       "test-project",
		PollInterval:    time.Millisecond,
		PollConcurrency: 2,
		StatusLogPath:   filepath.Join(dir, "batch_status_log.txt"),
	}
}

func newTestTracker(t *testing.T, batch BatchService, rec *recovery.Store, objects *fakeObjectStore) (*TrackerFunction, *RetrieverFunction, string) {
	t.Helper()
	dir := t.TempDir()
	retriever, err := NewRetrieverWithClients(objects, RetrieverConfig{CheckpointDir: dir})
	require.NoError(t, err)
	tracker, err := NewTrackerWithClients(batch, rec, retriever, testTrackerConfig(dir))
	require.NoError(t, err)
	return tracker, retriever, dir
}

func resultObject(objects *fakeObjectStore, outputDir, line string) {
	objects.objects[outputDir+"/predictions.jsonl"] = []byte(line + "\n")
}

func TestTrackerPollsToCompletionAndRetrieves(t *testing.T) {
	rec := openTestStore(t)
	jobID := "projects/p/locations/l/batchPredictionJobs/1"
	require.NoError(t, rec.Append(models.Job{ID: jobID, ChunkIndex: 0, Status: models.StatusSubmitted}))

	outputDir := "gs://out-bucket/run/chunk_1/prediction-model"
	objects := newFakeObjectStore()
	resultObject(objects, outputDir, goodLine)

	batch := newFakeBatchService()
	batch.script(jobID,
		scriptStep{status: models.StatusRunning},
		scriptStep{status: models.StatusCompleted, outputDir: outputDir},
	)

	tracker, retriever, _ := newTestTracker(t, batch, rec, objects)
	require.NoError(t, tracker.Process(context.Background()))

	jobs := rec.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.StatusCompleted, jobs[0].Status)
	assert.Equal(t, outputDir, jobs[0].OutputDir)
	assert.True(t, retriever.HasCheckpoint(jobID))
}

func TestTrackerTerminalFailureDoesNotAbort(t *testing.T) {
	rec := openTestStore(t)
	okID := "projects/p/locations/l/batchPredictionJobs/1"
	badID := "projects/p/locations/l/batchPredictionJobs/2"
	require.NoError(t, rec.Append(models.Job{ID: okID, ChunkIndex: 0, Status: models.StatusSubmitted}))
	require.NoError(t, rec.Append(models.Job{ID: badID, ChunkIndex: 1, Status: models.StatusSubmitted}))

	outputDir := "gs://out-bucket/run/chunk_1/prediction-model"
	objects := newFakeObjectStore()
	resultObject(objects, outputDir, goodLine)

	batch := newFakeBatchService()
	batch.script(okID, scriptStep{status: models.StatusCompleted, outputDir: outputDir})
	batch.script(badID, scriptStep{status: models.StatusExpired})

	tracker, retriever, _ := newTestTracker(t, batch, rec, objects)
	require.NoError(t, tracker.Process(context.Background()))

	jobs := rec.Jobs()
	assert.Equal(t, models.StatusCompleted, jobs[0].Status)
	assert.Equal(t, models.StatusExpired, jobs[1].Status)
	assert.True(t, retriever.HasCheckpoint(okID))
	assert.False(t, retriever.HasCheckpoint(badID))
}

func TestTrackerAbsorbsStatusCheckFailures(t *testing.T) {
	rec := openTestStore(t)
	jobID := "projects/p/locations/l/batchPredictionJobs/1"
	require.NoError(t, rec.Append(models.Job{ID: jobID, ChunkIndex: 0, Status: models.StatusRunning}))

	outputDir := "gs://out-bucket/run/chunk_1/prediction-model"
	objects := newFakeObjectStore()
	resultObject(objects, outputDir, goodLine)

	batch := newFakeBatchService()
	batch.script(jobID,
		scriptStep{err: errors.New("status check timed out")},
		scriptStep{status: models.StatusCompleted, outputDir: outputDir},
	)

	tracker, _, _ := newTestTracker(t, batch, rec, objects)
	require.NoError(t, tracker.Process(context.Background()))
	assert.Equal(t, models.StatusCompleted, rec.Jobs()[0].Status)
}

func TestTrackerRestartScenario(t *testing.T) {
	// Job 1 already completed and checkpointed by a prior run; job 2 was
	// left submitted. Rerunning must poll only job 2 and must not
	// re-download job 1's results.
	rec := openTestStore(t)
	doneID := "projects/p/locations/l/batchPredictionJobs/1"
	pendingID := "projects/p/locations/l/batchPredictionJobs/2"
	doneOutput := "gs://out-bucket/run/chunk_1/prediction-model"
	require.NoError(t, rec.Append(models.Job{ID: doneID, ChunkIndex: 0, Status: models.StatusCompleted, OutputDir: doneOutput}))
	require.NoError(t, rec.Append(models.Job{ID: pendingID, ChunkIndex: 1, Status: models.StatusSubmitted}))

	pendingOutput := "gs://out-bucket/run/chunk_2/prediction-model"
	objects := newFakeObjectStore()
	resultObject(objects, doneOutput, goodLine)
	resultObject(objects, pendingOutput, `{"custom_id":"2","response":{"candidates":[{"content":{"parts":[{"text":"later"}]}}]}}`)

	batch := newFakeBatchService()
	batch.script(pendingID, scriptStep{status: models.StatusCompleted, outputDir: pendingOutput})

	tracker, retriever, _ := newTestTracker(t, batch, rec, objects)

	// Pre-existing checkpoint for the completed job.
	require.NoError(t, retriever.writeCheckpoint(doneID, []models.ResponseEnvelope{{CustomID: "1", Reasoning: "prior"}}))
	downloadsBefore := objects.downloads

	require.NoError(t, tracker.Process(context.Background()))

	assert.Equal(t, 0, batch.createCalls, "tracker must never submit")
	assert.Equal(t, 1, batch.scripts[pendingID].polls, "pending job polled exactly once")
	assert.Equal(t, downloadsBefore+1, objects.downloads, "only the new job's stream is downloaded")
	assert.True(t, retriever.HasCheckpoint(pendingID))

	// The prior checkpoint is untouched.
	content, err := os.ReadFile(retriever.CheckpointPath(doneID))
	require.NoError(t, err)
	assert.Contains(t, string(content), "prior")
}

func TestTrackerWritesStatusLog(t *testing.T) {
	rec := openTestStore(t)
	jobID := "projects/p/locations/l/batchPredictionJobs/1"
	require.NoError(t, rec.Append(models.Job{ID: jobID, ChunkIndex: 0, Status: models.StatusSubmitted}))

	outputDir := "gs://out-bucket/run/chunk_1/prediction-model"
	objects := newFakeObjectStore()
	resultObject(objects, outputDir, goodLine)

	batch := newFakeBatchService()
	batch.script(jobID,
		scriptStep{status: models.StatusRunning},
		scriptStep{status: models.StatusCompleted, outputDir: outputDir},
	)

	tracker, _, dir := newTestTracker(t, batch, rec, objects)
	require.NoError(t, tracker.Process(context.Background()))

	content, err := os.ReadFile(filepath.Join(dir, "batch_status_log.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2, "one line per job per pass")
	assert.Equal(t, "Batch ID: "+jobID+" | Status: running", lines[0])
	assert.Equal(t, "Batch ID: "+jobID+" | Status: completed", lines[1])
}

func TestTrackerHonorsCancellation(t *testing.T) {
	rec := openTestStore(t)
	jobID := "projects/p/locations/l/batchPredictionJobs/1"
	require.NoError(t, rec.Append(models.Job{ID: jobID, ChunkIndex: 0, Status: models.StatusSubmitted}))

	batch := newFakeBatchService()
	batch.script(jobID, scriptStep{status: models.StatusRunning}) // never completes

	tracker, _, _ := newTestTracker(t, batch, rec, newFakeObjectStore())

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := tracker.Process(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTrackerEmptyStoreIsNoOp(t *testing.T) {
	tracker, _, _ := newTestTracker(t, newFakeBatchService(), openTestStore(t), newFakeObjectStore())
	require.NoError(t, tracker.Process(context.Background()))
}
