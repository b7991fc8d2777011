package main

import (
	"flag"
	"log"

	"github.com/Lllllllleong/reasoningbatchflow/internal/services"
)

func main() {
	var (
		inputPath  = flag.String("input", "", "path to the dataset JSON file")
		outputPath = flag.String("output", "", "path for the sampled dataset")
		sampleSize = flag.Int("n", 1000, "number of records to sample")
		seed       = flag.Int64("seed", 42, "random seed, fixed for reproducibility")
	)
	flag.Parse()

	if *inputPath == "" || *outputPath == "" {
		log.Fatal("-input and -output are required")
	}

	records, err := services.LoadRecords(*inputPath)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}

	if *sampleSize > len(records) {
		log.Printf("WARNING: Sample size %d exceeds dataset size %d, sampling everything.", *sampleSize, len(records))
	}

	sample, err := services.SampleRecords(records, *sampleSize, *seed)
	if err != nil {
		log.Fatalf("Sampling failed: %v", err)
	}

	if err := services.SaveRecords(*outputPath, sample); err != nil {
		log.Fatalf("Failed to write sampled dataset: %v", err)
	}
	log.Printf("Sampled %d of %d records. Saved to: %s", len(sample), len(records), *outputPath)
}
