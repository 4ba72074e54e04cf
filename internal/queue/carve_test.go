package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarveBatches(t *testing.T) {
	t.Parallel()

	ids := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = string(rune('a' + i))
		}
		return out
	}

	tests := []struct {
		name     string
		sources  []string
		hint     int
		wantLens []int
	}{
		{name: "seven sources hint five", sources: ids(7), hint: 5, wantLens: []int{5, 2}},
		{name: "exact multiple", sources: ids(6), hint: 3, wantLens: []int{3, 3}},
		{name: "hint larger than input", sources: ids(3), hint: 10, wantLens: []int{3}},
		{name: "single item runs", sources: ids(3), hint: 1, wantLens: []int{1, 1, 1}},
		{name: "empty input", sources: nil, hint: 5, wantLens: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runs, err := carveBatches(tt.sources, tt.hint)
			require.NoError(t, err)
			require.Len(t, runs, len(tt.wantLens))

			var flat []string
			for i, run := range runs {
				assert.Len(t, run, tt.wantLens[i])
				flat = append(flat, run...)
			}
			assert.Equal(t, tt.sources, flat, "carving must preserve order")
		})
	}
}

func TestCarveBatchesInvalidHint(t *testing.T) {
	t.Parallel()

	for _, hint := range []int{0, -1} {
		_, err := carveBatches([]string{"a"}, hint)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
	}
}

func TestOrderByPriority(t *testing.T) {
	t.Parallel()

	priorities := map[string]int{"a": 0, "b": 10, "c": 0, "d": 10}
	got := orderByPriority([]string{"a", "b", "c", "d"}, priorities)

	// High-priority sources first, input order preserved inside each class.
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
}

func TestRetryDelayDoubles(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second

	assert.Equal(t, 30*time.Second, retryDelay(base, 0))
	assert.Equal(t, 60*time.Second, retryDelay(base, 1))
	assert.Equal(t, 120*time.Second, retryDelay(base, 2))
	assert.Equal(t, 240*time.Second, retryDelay(base, 3))
}

func TestRetryDelayClamps(t *testing.T) {
	t.Parallel()

	base := time.Second

	assert.Equal(t, time.Second, retryDelay(base, -5))
	// Huge attempt counts must not overflow into negative durations.
	assert.Positive(t, retryDelay(base, 500))
}
