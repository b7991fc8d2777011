package gcp

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

type fakeJobAPI struct {
	created *aiplatformpb.CreateBatchPredictionJobRequest
	get     *aiplatformpb.BatchPredictionJob
	getErr  error
}

func (f *fakeJobAPI) CreateBatchPredictionJob(_ context.Context, req *aiplatformpb.CreateBatchPredictionJobRequest, _ ...gax.CallOption) (*aiplatformpb.BatchPredictionJob, error) {
	f.created = req
	return &aiplatformpb.BatchPredictionJob{Name: req.GetParent() + "/batchPredictionJobs/123"}, nil
}

func (f *fakeJobAPI) GetBatchPredictionJob(_ context.Context, req *aiplatformpb.GetBatchPredictionJobRequest, _ ...gax.CallOption) (*aiplatformpb.BatchPredictionJob, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.get, nil
}

func TestCreateJobBuildsJSONLJob(t *testing.T) {
	api := &fakeJobAPI{}
	client := NewBatchClientWithAPI(api, "projects/p/locations/us-central1", "publishers/google/models/gemini-1.5-pro")

	jobID, err := client.CreateJob(context.Background(), "run-chunk-1", "gs://in/run/batch_1.jsonl", "gs://out/run/chunk_1")
	require.NoError(t, err)
	assert.Equal(t, "projects/p/locations/us-central1/batchPredictionJobs/123", jobID)

	req := api.created
	require.NotNil(t, req)
	assert.Equal(t, "projects/p/locations/us-central1", req.GetParent())

	job := req.GetBatchPredictionJob()
	assert.Equal(t, "run-chunk-1", job.GetDisplayName())
	assert.Equal(t, "publishers/google/models/gemini-1.5-pro", job.GetModel())
	assert.Equal(t, "jsonl", job.GetInputConfig().GetInstancesFormat())
	assert.Equal(t, []string{"gs://in/run/batch_1.jsonl"}, job.GetInputConfig().GetGcsSource().GetUris())
	assert.Equal(t, "jsonl", job.GetOutputConfig().GetPredictionsFormat())
	assert.Equal(t, "gs://out/run/chunk_1", job.GetOutputConfig().GetGcsDestination().GetOutputUriPrefix())
}

func TestGetJobMapsStateAndOutputDir(t *testing.T) {
	api := &fakeJobAPI{
		get: &aiplatformpb.BatchPredictionJob{
			Name:  "projects/p/locations/l/batchPredictionJobs/123",
			State: aiplatformpb.JobState_JOB_STATE_SUCCEEDED,
			OutputInfo: &aiplatformpb.BatchPredictionJob_OutputInfo{
				OutputLocation: &aiplatformpb.BatchPredictionJob_OutputInfo_GcsOutputDirectory{
					GcsOutputDirectory: "gs://out/run/chunk_1/prediction-model-2026",
				},
			},
		},
	}
	client := NewBatchClientWithAPI(api, "projects/p/locations/l", "m")

	status, outputDir, err := client.GetJob(context.Background(), "projects/p/locations/l/batchPredictionJobs/123")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status)
	assert.Equal(t, "gs://out/run/chunk_1/prediction-model-2026", outputDir)
}

func TestGetJobPropagatesServiceError(t *testing.T) {
	api := &fakeJobAPI{getErr: errors.New("deadline exceeded")}
	client := NewBatchClientWithAPI(api, "projects/p/locations/l", "m")

	_, _, err := client.GetJob(context.Background(), "projects/p/locations/l/batchPredictionJobs/123")
	assert.Error(t, err)
}

func TestMapJobStateCoversAllStates(t *testing.T) {
	expected := map[aiplatformpb.JobState]models.JobStatus{
		aiplatformpb.JobState_JOB_STATE_UNSPECIFIED:         models.StatusSubmitted,
		aiplatformpb.JobState_JOB_STATE_QUEUED:              models.StatusSubmitted,
		aiplatformpb.JobState_JOB_STATE_PENDING:             models.StatusSubmitted,
		aiplatformpb.JobState_JOB_STATE_RUNNING:             models.StatusRunning,
		aiplatformpb.JobState_JOB_STATE_PAUSED:              models.StatusRunning,
		aiplatformpb.JobState_JOB_STATE_UPDATING:            models.StatusRunning,
		aiplatformpb.JobState_JOB_STATE_SUCCEEDED:           models.StatusCompleted,
		aiplatformpb.JobState_JOB_STATE_PARTIALLY_SUCCEEDED: models.StatusCompleted,
		aiplatformpb.JobState_JOB_STATE_FAILED:              models.StatusFailed,
		aiplatformpb.JobState_JOB_STATE_CANCELLING:          models.StatusFailed,
		aiplatformpb.JobState_JOB_STATE_CANCELLED:           models.StatusFailed,
		aiplatformpb.JobState_JOB_STATE_EXPIRED:             models.StatusExpired,
	}

	for state, want := range expected {
		assert.Equal(t, want, MapJobState(state), "state %s", state)
	}
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://my-bucket/run/batch_1.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "run/batch_1.jsonl", object)

	bucket, object, err = ParseGCSURI("gs://my-bucket")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Empty(t, object)

	_, _, err = ParseGCSURI("https://example.com/x")
	assert.Error(t, err)
	_, _, err = ParseGCSURI("gs://")
	assert.Error(t, err)
}
