package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/Lllllllleong/reasoningbatchflow/internal/services"
)

func main() {
	var (
		inputPath  = flag.String("input", "", "path to the upstream conversation-format JSON file")
		outputPath = flag.String("output", "", "path for the converted dataset")
		dataSource = flag.String("data-source", "RoboLogicTask", "data_source tag written into every record")
	)
	flag.Parse()

	if *inputPath == "" || *outputPath == "" {
		log.Fatal("-input and -output are required")
	}

	content, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatalf("Failed to read input file: %v", err)
	}

	var raw []services.RawAnnotation
	if err := json.Unmarshal(content, &raw); err != nil {
		log.Fatalf("Input file must contain a JSON array of annotation records: %v", err)
	}

	records, err := services.ConvertAnnotations(raw, services.ConverterConfig{DataSource: *dataSource})
	if err != nil {
		log.Fatalf("Conversion failed: %v", err)
	}

	if err := services.SaveRecords(*outputPath, records); err != nil {
		log.Fatalf("Failed to write converted dataset: %v", err)
	}
	log.Printf("Converted %d records. Saved to: %s", len(records), *outputPath)
}
