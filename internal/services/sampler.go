package services

import (
	"fmt"
	"math/rand"

	"github.com/Lllllllleong/reasoningbatchflow/internal/models"
)

// SampleRecords draws a pseudo-random sample of size n from the dataset,
// without replacement. A fixed seed makes the sample reproducible. When
// n exceeds the dataset size the whole dataset is returned (shuffled).
func SampleRecords(records []models.Record, n int, seed int64) ([]models.Record, error) {
	if n < 0 {
		return nil, fmt.Errorf("sample size must be non-negative, got %d", n)
	}
	if n > len(records) {
		n = len(records)
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(records))

	sample := make([]models.Record, 0, n)
	for _, i := range perm[:n] {
		sample = append(sample, records[i])
	}
	return sample, nil
}
