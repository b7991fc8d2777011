package gcp

import (
	"context"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// --- Reasoning Model Prompts ---
const ReasoningSystemPrompt = "You are a helpful assistant that provides detailed step-by-step reasoning for robotic tasks."
const ReasoningPromptTemplate = `Given the following task and its solution, provide a detailed step-by-step reasoning process.

Task: %s
Solution: %s

Please provide:
1. A breakdown of the task into logical steps
2. For each step, explain why it's necessary
3. If the task is about "next step", clearly identify what the next step should be and why
4. Ensure the final step aligns with the provided solution

Format your response as:
step 1: [description]
reasoning: [why this step is needed]

step 2: [description]
reasoning: [why this step is needed]

[continue for all steps]

Final step: [what needs to be done next]
reasoning: [why this is the correct next step]`

// JobAPI is the slice of the Vertex AI job service the pipeline uses.
// *aiplatform.JobClient satisfies it.
type JobAPI interface {
	CreateBatchPredictionJob(ctx context.Context, req *aiplatformpb.CreateBatchPredictionJobRequest, opts ...gax.CallOption) (*aiplatformpb.BatchPredictionJob, error)
	GetBatchPredictionJob(ctx context.Context, req *aiplatformpb.GetBatchPredictionJobRequest, opts ...gax.CallOption) (*aiplatformpb.BatchPredictionJob, error)
}

// BatchClient wraps the Vertex AI job service for submitting and polling
// batch prediction jobs.
type BatchClient struct {
	jobs   JobAPI
	parent string
	model  string
}

// NewBatchClient creates a new client bound to one project, region and model.
func NewBatchClient(ctx context.Context, projectID, region, model string) (*BatchClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewBatchClient: projectID and region cannot be empty")
	}

	endpoint := fmt.Sprintf("%s-aiplatform.googleapis.com:443", region)
	jobClient, err := aiplatform.NewJobClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("aiplatform.NewJobClient: %w", err)
	}

	return &BatchClient{
		jobs:   jobClient,
		parent: fmt.Sprintf("projects/%s/locations/%s", projectID, region),
		model:  model,
	}, nil
}

// NewBatchClientWithAPI builds a BatchClient over an existing JobAPI.
func NewBatchClientWithAPI(api JobAPI, parent, model string) *BatchClient {
	return &BatchClient{jobs: api, parent: parent, model: model}
}

// CreateJob registers a new batch prediction job reading its request JSONL
// from inputURI and writing predictions under outputURIPrefix. It returns
// the job resource name assigned by the service.
func (c *BatchClient) CreateJob(ctx context.Context, displayName, inputURI, outputURIPrefix string) (string, error) {
	req := &aiplatformpb.CreateBatchPredictionJobRequest{
		Parent: c.parent,
		BatchPredictionJob: &aiplatformpb.BatchPredictionJob{
			DisplayName: displayName,
			Model:       c.model,
			InputConfig: &aiplatformpb.BatchPredictionJob_InputConfig{
				InstancesFormat: "jsonl",
				Source: &aiplatformpb.BatchPredictionJob_InputConfig_GcsSource{
					GcsSource: &aiplatformpb.GcsSource{Uris: []string{inputURI}},
				},
			},
			OutputConfig: &aiplatformpb.BatchPredictionJob_OutputConfig{
				PredictionsFormat: "jsonl",
				Destination: &aiplatformpb.BatchPredictionJob_OutputConfig_GcsDestination{
					GcsDestination: &aiplatformpb.GcsDestination{OutputUriPrefix: outputURIPrefix},
				},
			},
		},
	}

	job, err := c.jobs.CreateBatchPredictionJob(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create batch prediction job: %w", err)
	}
	return job.GetName(), nil
}

// GetJob fetches the service's authoritative view of a job and reduces it
// to the pipeline's status plus, once available, the output directory.
func (c *BatchClient) GetJob(ctx context.Context, jobID string) (models.JobStatus, string, error) {
	job, err := c.jobs.GetBatchPredictionJob(ctx, &aiplatformpb.GetBatchPredictionJobRequest{Name: jobID})
	if err != nil {
		return "", "", fmt.Errorf("failed to retrieve job %s: %w", jobID, err)
	}

	outputDir := ""
	if info := job.GetOutputInfo(); info != nil {
		outputDir = info.GetGcsOutputDirectory()
	}
	return MapJobState(job.GetState()), outputDir, nil
}

// MapJobState reduces the Vertex AI job-state enum to the five statuses
// the pipeline tracks. Cancellation is folded into failed: either way the
// job produced no usable output and will not progress.
func MapJobState(state aiplatformpb.JobState) models.JobStatus {
	switch state {
	case aiplatformpb.JobState_JOB_STATE_QUEUED, aiplatformpb.JobState_JOB_STATE_PENDING:
		return models.StatusSubmitted
	case aiplatformpb.JobState_JOB_STATE_RUNNING,
		aiplatformpb.JobState_JOB_STATE_PAUSED,
		aiplatformpb.JobState_JOB_STATE_UPDATING:
		return models.StatusRunning
	case aiplatformpb.JobState_JOB_STATE_SUCCEEDED,
		aiplatformpb.JobState_JOB_STATE_PARTIALLY_SUCCEEDED:
		return models.StatusCompleted
	case aiplatformpb.JobState_JOB_STATE_FAILED,
		aiplatformpb.JobState_JOB_STATE_CANCELLING,
		aiplatformpb.JobState_JOB_STATE_CANCELLED:
		return models.StatusFailed
	case aiplatformpb.JobState_JOB_STATE_EXPIRED:
		return models.StatusExpired
	default:
		return models.StatusSubmitted
	}
}
