package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quarryhq/quarry/internal/content"
	"github.com/quarryhq/quarry/internal/queue"
	"github.com/quarryhq/quarry/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeQueue hands out a fixed list of items and records transitions.
type fakeQueue struct {
	mu        sync.Mutex
	items     []*queue.Item
	completed []uuid.UUID
	failed    map[uuid.UUID]string
	reclaims  int
}

func newFakeQueue(items ...*queue.Item) *fakeQueue {
	return &fakeQueue{items: items, failed: make(map[uuid.UUID]string)}
}

func (f *fakeQueue) ClaimNext(_ context.Context, worker string) (*queue.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, nil
	}
	item := f.items[0]
	f.items = f.items[1:]
	item.Status = queue.StatusInProgress
	item.LeaseOwner = worker
	return item, nil
}

func (f *fakeQueue) Complete(_ context.Context, itemID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, itemID)
	return nil
}

func (f *fakeQueue) Fail(_ context.Context, itemID uuid.UUID, _, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[itemID] = reason
	return nil
}

func (f *fakeQueue) ReclaimExpired(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaims++
	return 0, nil
}

type fakeRegistry struct {
	sources map[string]*registry.Source
}

func (f *fakeRegistry) Get(_ context.Context, id string) (*registry.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return nil, registry.ErrSourceNotFound
	}
	return src, nil
}

type fakeFetcher struct {
	doc string
	err error
}

func (f *fakeFetcher) Fetch(context.Context, *registry.Source) (string, error) {
	return f.doc, f.err
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, dimension int) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, dimension), nil
}

type fakeContentStore struct {
	mu     sync.Mutex
	writes map[string][]content.Chunk // keyed by sourceID + "|" + url
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{writes: make(map[string][]content.Chunk)}
}

func (f *fakeContentStore) ReplaceChunks(_ context.Context, sourceID, url string, chunks []content.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[sourceID+"|"+url] = chunks
	return nil
}

func testSource() *registry.Source {
	return &registry.Source{
		ID:        "go-docs",
		Priority:  registry.PriorityNormal,
		Policy:    registry.DefaultPolicy(),
		Dimension: 384,
		BaseURL:   "https://example.com/doc",
	}
}

func testItem() *queue.Item {
	return &queue.Item{ID: uuid.New(), SourceID: "go-docs", MaxAttempts: 3}
}

const testDoc = "An introductory paragraph long enough to survive the prose filter intact.\n\n" +
	"```go\nfunc main() {\n\tpool, err := pgxpool.New(ctx, dsn)\n\tif err != nil {\n\t\tlog.Fatal(err)\n\t}\n" +
	"\tdefer pool.Close()\n\titems, err := claimAll(ctx, pool)\n\tif err != nil {\n\t\tlog.Fatal(err)\n\t}\n" +
	"\tfor _, it := range items {\n\t\tif err := process(ctx, it); err != nil {\n\t\t\tlog.Warn(\"processing failed\", \"item\", it.ID, \"error\", err)\n\t\t}\n\t}\n" +
	"\tlog.Info(\"drained queue\", \"count\", len(items))\n}\n```"

func newTestWorker(q Queue, fetcher Fetcher, embedder Embedder, store ContentWriter) *Worker {
	reg := &fakeRegistry{sources: map[string]*registry.Source{"go-docs": testSource()}}
	return NewWorker("w-test", q, reg, store, fetcher, embedder, nil, nil)
}

func TestRunOnceIdleOnEmptyQueue(t *testing.T) {
	t.Parallel()

	w := newTestWorker(newFakeQueue(), &fakeFetcher{}, &fakeEmbedder{}, newFakeContentStore())

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestRunOnceHappyPath(t *testing.T) {
	t.Parallel()

	item := testItem()
	q := newFakeQueue(item)
	store := newFakeContentStore()
	embedder := &fakeEmbedder{}
	w := newTestWorker(q, &fakeFetcher{doc: testDoc}, embedder, store)

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	require.Equal(t, []uuid.UUID{item.ID}, q.completed)
	assert.Empty(t, q.failed)

	chunks := store.writes["go-docs|https://example.com/doc"]
	require.NotEmpty(t, chunks)
	assert.Equal(t, embedder.calls, len(chunks))

	// Chunk numbers are sequential per page and vectors match the source's
	// configured dimension.
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkNumber)
		assert.Equal(t, 384, c.Dimension)
		assert.Len(t, c.Embedding, 384)
	}

	kinds := make(map[string]bool)
	for _, c := range chunks {
		kinds[c.Metadata["kind"]] = true
	}
	assert.True(t, kinds["prose"])
	assert.True(t, kinds["code"])
}

func TestRunOnceFetchFailureFailsItem(t *testing.T) {
	t.Parallel()

	item := testItem()
	q := newFakeQueue(item)
	store := newFakeContentStore()
	w := newTestWorker(q, &fakeFetcher{err: errors.New("dial tcp: connection refused")}, &fakeEmbedder{}, store)

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err, "processing failures ride the retry path, not the error return")
	assert.True(t, worked)

	assert.Empty(t, q.completed)
	require.Contains(t, q.failed, item.ID)
	assert.Contains(t, q.failed[item.ID], "connection refused")
	assert.Empty(t, store.writes, "nothing is written on fetch failure")
}

func TestRunOnceEmbedFailureDiscardsPartialWork(t *testing.T) {
	t.Parallel()

	item := testItem()
	q := newFakeQueue(item)
	store := newFakeContentStore()
	w := newTestWorker(q, &fakeFetcher{doc: testDoc}, &fakeEmbedder{err: errors.New("quota exhausted")}, store)

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	require.Contains(t, q.failed, item.ID)
	assert.Empty(t, store.writes, "partial chunks must not survive an embed failure")
}

func TestRunOnceUnknownSourceFailsItem(t *testing.T) {
	t.Parallel()

	item := testItem()
	item.SourceID = "vanished"
	q := newFakeQueue(item)
	w := newTestWorker(q, &fakeFetcher{doc: testDoc}, &fakeEmbedder{}, newFakeContentStore())

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Contains(t, q.failed, item.ID)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := newFakeQueue(testItem(), testItem())
	store := newFakeContentStore()
	w := newTestWorker(q, &fakeFetcher{doc: testDoc}, &fakeEmbedder{}, store)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, 10*time.Millisecond)
	}()

	// Both items drain, then the loop idles until cancel.
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.completed) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestPoolRunsReclaimSweeper(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	pool := NewPool(2, q, &fakeRegistry{sources: map[string]*registry.Source{}},
		newFakeContentStore(), &fakeFetcher{}, &fakeEmbedder{}, 0, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.reclaims >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestExtractedDocProducesStableChunkSet(t *testing.T) {
	t.Parallel()

	// Re-running the same item produces an identical chunk set by key, so
	// re-ingestion replaces rather than accumulates.
	store := newFakeContentStore()
	embedder := &fakeEmbedder{}

	var runs [][]string
	for range 2 {
		q := newFakeQueue(testItem())
		w := newTestWorker(q, &fakeFetcher{doc: testDoc}, embedder, store)
		_, err := w.RunOnce(context.Background())
		require.NoError(t, err)

		require.Len(t, store.writes, 1, "same key replaces, never accumulates")
		var texts []string
		for _, c := range store.writes["go-docs|https://example.com/doc"] {
			texts = append(texts, strings.TrimSpace(c.Content))
		}
		runs = append(runs, texts)
	}

	require.NotEmpty(t, runs[0])
	assert.Equal(t, runs[0], runs[1])
}
