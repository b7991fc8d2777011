package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Lllllllleong/reasoningbatchflow/internal/gcp"
	"github.com/Lllllllleong/reasoningbatchflow/internal/recovery"
	"github.com/Lllllllleong/reasoningbatchflow/internal/services"
)

func main() {
	var (
		datasetPath  = flag.String("dataset", "", "path to the input dataset JSON file")
		recoveryPath = flag.String("recovery", "", "path to the recovery store (default: <dataset dir>/<run>_batches/submitted_batches.json)")
		runID        = flag.String("run", "", "run identifier (default: dataset file name)")
		chunkSize    = flag.Int("chunk-size", 10000, "maximum records per batch job")
		temperature  = flag.Float64("temperature", 0.5, "sampling temperature for every request of the run")
		maxTokens    = flag.Int("max-output-tokens", 500, "maximum generated tokens per request")
	)
	flag.Parse()

	if *datasetPath == "" {
		log.Fatal("-dataset is required")
	}

	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		log.Fatal("GCP_PROJECT environment variable must be set")
	}
	inputBucket := gcp.GetEnv("BATCH_INPUT_BUCKET", "")
	outputBucket := gcp.GetEnv("BATCH_OUTPUT_BUCKET", "")
	if inputBucket == "" || outputBucket == "" {
		log.Fatal("BATCH_INPUT_BUCKET and BATCH_OUTPUT_BUCKET environment variables must be set")
	}

	run := *runID
	if run == "" {
		run = strings.TrimSuffix(filepath.Base(*datasetPath), filepath.Ext(*datasetPath))
	}
	storePath := *recoveryPath
	if storePath == "" {
		storePath = filepath.Join(filepath.Dir(*datasetPath), run+"_batches", "submitted_batches.json")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := services.LoadRecords(*datasetPath)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}

	store, err := recovery.Open(storePath)
	if err != nil {
		log.Fatalf("Failed to open recovery store: %v", err)
	}

	submitter, err := services.NewSubmitter(ctx, store, services.SubmitterConfig{
		ProjectID:    projectID,
		InputBucket:  inputBucket,
		OutputBucket: outputBucket,
		RunID:        run,
		ChunkSize:    *chunkSize,
		Encoder: services.EncoderConfig{
			Temperature:     float32(*temperature),
			MaxOutputTokens: *maxTokens,
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize submitter: %v", err)
	}

	if err := submitter.Process(ctx, records); err != nil {
		log.Fatalf("Submission finished with errors (rerun retries the failed chunks): %v", err)
	}
	log.Printf("All chunks submitted. Recovery store: %s", storePath)
}
