package queue

import (
	"math"
	"time"
)

// carveBatches splits an ordered list of source IDs into runs of at most
// sizeHint. The final run holds the remainder, so 7 sources with hint 5
// carve into [5, 2]. Input order is preserved within and across runs.
func carveBatches(sourceIDs []string, sizeHint int) ([][]string, error) {
	if sizeHint <= 0 {
		return nil, ErrInvalidBatchSize
	}

	var runs [][]string
	for start := 0; start < len(sourceIDs); start += sizeHint {
		end := min(start+sizeHint, len(sourceIDs))
		runs = append(runs, sourceIDs[start:end])
	}

	return runs, nil
}

// orderByPriority stably partitions source IDs so that every high-priority
// source precedes every normal-priority one, preserving input order inside
// each class. priorities maps source ID to its numeric queue priority.
func orderByPriority(sourceIDs []string, priorities map[string]int) []string {
	ordered := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if priorities[id] > 0 {
			ordered = append(ordered, id)
		}
	}
	for _, id := range sourceIDs {
		if priorities[id] <= 0 {
			ordered = append(ordered, id)
		}
	}

	return ordered
}

// retryDelay computes the backoff before a failed item becomes claimable
// again: base * 2^attempts, capped to avoid overflow on absurd attempt
// counts.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 30 {
		attempts = 30
	}

	factor := math.Pow(2, float64(attempts))

	return time.Duration(float64(base) * factor)
}
