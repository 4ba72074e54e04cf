package content_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryhq/quarry/internal/content"
	"github.com/quarryhq/quarry/internal/registry"
	"github.com/quarryhq/quarry/internal/testutil"
)

func setupContent(t *testing.T) (*content.Store, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)

	ctx := context.Background()
	reg, err := registry.NewStore(tdb.Pool, nil)
	require.NoError(t, err)
	for _, id := range []string{"go-docs", "pg-docs"} {
		err := reg.UpsertPolicy(ctx, id, registry.PriorityNormal,
			registry.DefaultPolicy(), 384, "https://example.com/"+id)
		require.NoError(t, err)
	}

	return content.NewStore(tdb.Pool, nil), cleanup
}

// unitVector returns a 384-dim unit vector pointing along the given axis,
// giving exact cosine similarities in tests.
func unitVector(axis int) []float32 {
	v := make([]float32, 384)
	v[axis] = 1
	return v
}

func seedChunks(t *testing.T, store *content.Store, sourceID, url string, texts []string) {
	t.Helper()

	chunks := make([]content.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = content.Chunk{
			ChunkNumber: i,
			Content:     text,
			Metadata:    map[string]string{"lang": "en"},
			Dimension:   384,
			Embedding:   unitVector(i),
		}
	}
	require.NoError(t, store.ReplaceChunks(context.Background(), sourceID, url, chunks))
}

func TestReplaceChunksIsIdempotent(t *testing.T) {
	store, cleanup := setupContent(t)
	defer cleanup()

	ctx := context.Background()
	texts := []string{"first chunk about goroutines", "second chunk about channels"}

	// Re-ingesting the same page must replace, never append.
	seedChunks(t, store, "go-docs", "https://example.com/page", texts)
	seedChunks(t, store, "go-docs", "https://example.com/page", texts)

	counts, err := store.CountByDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{384: 2}, counts)
}

func TestReplaceChunksRejectsBadVectors(t *testing.T) {
	store, cleanup := setupContent(t)
	defer cleanup()

	ctx := context.Background()
	bad := []content.Chunk{{
		ChunkNumber: 0,
		Content:     "text",
		Dimension:   384,
		Embedding:   make([]float32, 768),
	}}

	err := store.ReplaceChunks(ctx, "go-docs", "https://example.com/p", bad)
	require.ErrorIs(t, err, content.ErrDimensionMismatch)
}

func TestVectorSearchOrdersBySimilarity(t *testing.T) {
	store, cleanup := setupContent(t)
	defer cleanup()

	ctx := context.Background()
	seedChunks(t, store, "go-docs", "https://example.com/page",
		[]string{"chunk zero", "chunk one", "chunk two"})

	// Query along axis 1 makes chunk 1 the exact match.
	results, err := store.VectorSearch(ctx, unitVector(1), 384, 10, content.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1, results[0].Chunk.ChunkNumber)
	assert.Equal(t, 1, results[0].Rank)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Less(t, results[1].Similarity, results[0].Similarity)
}

func TestVectorSearchEmptyDimension(t *testing.T) {
	store, cleanup := setupContent(t)
	defer cleanup()

	// No 1536-dim chunks exist; that is emptiness, not an error.
	results, err := store.VectorSearch(context.Background(),
		make([]float32, 1536), 1536, 10, content.Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTextSearchRanksByRelevance(t *testing.T) {
	store, cleanup := setupContent(t)
	defer cleanup()

	ctx := context.Background()
	seedChunks(t, store, "go-docs", "https://example.com/page", []string{
		"authentication patterns for web services, covering authentication flows",
		"database connection pooling strategies",
		"a brief mention of authentication",
	})

	results, err := store.TextSearch(ctx, "authentication patterns", 10, content.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// The chunk matching both terms outranks the single-term mention.
	assert.Equal(t, 0, results[0].Chunk.ChunkNumber)
	assert.Equal(t, 1, results[0].Rank)

	for _, r := range results {
		assert.NotEqual(t, 1, r.Chunk.ChunkNumber, "unrelated chunk must not match")
	}
}

func TestSearchFilters(t *testing.T) {
	store, cleanup := setupContent(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.ReplaceChunks(ctx, "go-docs", "https://example.com/go",
		[]content.Chunk{{
			ChunkNumber: 0,
			Content:     "indexing strategies overview",
			Metadata:    map[string]string{"topic": "storage"},
			Dimension:   384,
			Embedding:   unitVector(0),
		}}))
	require.NoError(t, store.ReplaceChunks(ctx, "pg-docs", "https://example.com/pg",
		[]content.Chunk{{
			ChunkNumber: 0,
			Content:     "indexing strategies overview",
			Metadata:    map[string]string{"topic": "search"},
			Dimension:   384,
			Embedding:   unitVector(0),
		}}))

	bySource, err := store.TextSearch(ctx, "indexing strategies", 10,
		content.Filter{Sources: []string{"pg-docs"}})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "pg-docs", bySource[0].Chunk.SourceID)

	byMeta, err := store.VectorSearch(ctx, unitVector(0), 384, 10,
		content.Filter{Metadata: map[string]string{"topic": "storage"}})
	require.NoError(t, err)
	require.Len(t, byMeta, 1)
	assert.Equal(t, "go-docs", byMeta[0].Chunk.SourceID)

	none, err := store.TextSearch(ctx, "indexing", 10,
		content.Filter{Metadata: map[string]string{"topic": "networking"}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConcurrentWritersDistinctKeys(t *testing.T) {
	store, cleanup := setupContent(t)
	defer cleanup()

	ctx := context.Background()
	errs := make(chan error, 4)
	for i := range 4 {
		go func() {
			url := fmt.Sprintf("https://example.com/page-%d", i)
			errs <- store.ReplaceChunks(ctx, "go-docs", url, []content.Chunk{{
				ChunkNumber: 0,
				Content:     "concurrent page",
				Dimension:   384,
				Embedding:   unitVector(i),
			}})
		}()
	}
	for range 4 {
		require.NoError(t, <-errs)
	}

	counts, err := store.CountByDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[384])
}
