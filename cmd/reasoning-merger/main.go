package main

import (
	"flag"
	"log"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/reasoningbatchflow/internal/recovery"
	"github.com/Lllllllleong/reasoningbatchflow/internal/services"
)

func main() {
	var (
		datasetPath   = flag.String("dataset", "", "path to the dataset JSON file to enrich")
		recoveryPath  = flag.String("recovery", "", "path to the recovery store (defines chunk order)")
		checkpointDir = flag.String("checkpoint-dir", "", "directory holding the per-job merged_<job>.json files")
		outputPath    = flag.String("output", "", "path for the updated dataset (default: <dataset>_update.json)")
		backupDir     = flag.String("backup-dir", "", "directory for the pre-merge backup (default: <dataset dir>/backups)")
		force         = flag.Bool("force", false, "proceed even if the backup cannot be created")
	)
	flag.Parse()

	if *datasetPath == "" || *recoveryPath == "" || *checkpointDir == "" {
		log.Fatal("-dataset, -recovery and -checkpoint-dir are required")
	}

	output := *outputPath
	if output == "" {
		ext := filepath.Ext(*datasetPath)
		output = strings.TrimSuffix(*datasetPath, ext) + "_update" + ext
	}
	backups := *backupDir
	if backups == "" {
		backups = filepath.Join(filepath.Dir(*datasetPath), "backups")
	}

	store, err := recovery.Open(*recoveryPath)
	if err != nil {
		log.Fatalf("Failed to open recovery store: %v", err)
	}

	merger, err := services.NewMerger(services.MergerConfig{
		CheckpointDir: *checkpointDir,
		BackupDir:     backups,
	})
	if err != nil {
		log.Fatalf("Failed to initialize merger: %v", err)
	}

	records, err := services.LoadRecords(*datasetPath)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}

	backupDone := false
	backupPath, err := merger.CreateBackup(*datasetPath)
	if err != nil {
		if !*force {
			log.Fatalf("Backup failed, refusing to update the dataset (use -force to override): %v", err)
		}
		log.Printf("WARNING: Backup failed, continuing because -force is set: %v", err)
	} else {
		log.Printf("Created backup at: %s", backupPath)
		backupDone = true
	}

	responses, err := merger.MergeJobResults(store.Jobs())
	if err != nil {
		log.Fatalf("Failed to merge job results: %v", err)
	}
	if len(responses) == 0 {
		log.Fatal("No reasoning data found, nothing to apply.")
	}

	updated, unmatched, err := services.ApplyToDataset(records, responses, backupDone || *force)
	if err != nil {
		log.Fatalf("Failed to apply responses: %v", err)
	}

	if err := services.SaveRecords(output, records); err != nil {
		log.Fatalf("Failed to write updated dataset: %v", err)
	}

	log.Printf("Updated %d of %d records. Saved to: %s", updated, len(records), output)
	if len(unmatched) > 0 {
		preview := unmatched
		if len(preview) > 10 {
			preview = preview[:10]
		}
		log.Printf("WARNING: %d records were not updated. First unmatched ids: %v", len(unmatched), preview)
	}
}
