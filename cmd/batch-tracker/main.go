package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Lllllllleong/reasoningbatchflow/internal/gcp"
	"github.com/Lllllllleong/reasoningbatchflow/internal/recovery"
	"github.com/Lllllllleong/reasoningbatchflow/internal/services"
)

func main() {
	var (
		recoveryPath  = flag.String("recovery", "", "path to the recovery store written by batch-submitter")
		outputDir     = flag.String("output-dir", "", "local directory for per-job checkpoint files and the final merged output")
		pollInterval  = flag.Duration("poll-interval", 10*time.Second, "sleep between tracking passes")
		pollWorkers   = flag.Int("poll-concurrency", 1, "how many jobs to poll at once")
		statusLogName = flag.String("status-log", "batch_status_log.txt", "status log file name inside the output directory")
	)
	flag.Parse()

	if *recoveryPath == "" {
		log.Fatal("-recovery is required")
	}
	if *outputDir == "" {
		log.Fatal("-output-dir is required")
	}

	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		log.Fatal("GCP_PROJECT environment variable must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := recovery.Open(*recoveryPath)
	if err != nil {
		log.Fatalf("Failed to open recovery store: %v", err)
	}

	retriever, err := services.NewRetriever(ctx, services.RetrieverConfig{CheckpointDir: *outputDir})
	if err != nil {
		log.Fatalf("Failed to initialize retriever: %v", err)
	}

	tracker, err := services.NewTracker(ctx, store, retriever, services.TrackerConfig{
		ProjectID:       projectID,
		PollInterval:    *pollInterval,
		PollConcurrency: *pollWorkers,
		StatusLogPath:   filepath.Join(*outputDir, *statusLogName),
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracker: %v", err)
	}

	if err := tracker.Process(ctx); err != nil {
		log.Fatalf("Tracking stopped: %v", err)
	}

	merger, err := services.NewMerger(services.MergerConfig{
		CheckpointDir:   *outputDir,
		FinalMergedPath: filepath.Join(*outputDir, "final_merged_output.json"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize merger: %v", err)
	}
	responses, err := merger.MergeJobResults(store.Jobs())
	if err != nil {
		log.Fatalf("Failed to merge job results: %v", err)
	}
	log.Printf("Tracking complete. %d responses merged in chunk order.", len(responses))
}
