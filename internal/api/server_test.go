package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryhq/quarry/internal/content"
	"github.com/quarryhq/quarry/internal/log"
	"github.com/quarryhq/quarry/internal/queue"
	"github.com/quarryhq/quarry/internal/search"
)

// fakeQueueService replays canned queue state.
type fakeQueueService struct {
	batches    []queue.Batch
	enqueueErr error
	progress   queue.Progress
	review     []queue.Item
	requeueErr error

	gotSourceIDs []string
	gotHint      int
	gotRequeueID uuid.UUID
}

func (f *fakeQueueService) EnqueueBatch(_ context.Context, sourceIDs []string, hint int) ([]queue.Batch, error) {
	f.gotSourceIDs = sourceIDs
	f.gotHint = hint
	return f.batches, f.enqueueErr
}

func (f *fakeQueueService) BatchProgress(context.Context, uuid.UUID) (queue.Progress, error) {
	return f.progress, nil
}

func (f *fakeQueueService) ReviewList(context.Context, int) ([]queue.Item, error) {
	return f.review, nil
}

func (f *fakeQueueService) Requeue(_ context.Context, itemID uuid.UUID) error {
	f.gotRequeueID = itemID
	return f.requeueErr
}

type fakeSearchService struct {
	results []search.Result
	err     error
	gotReq  search.Request
}

func (f *fakeSearchService) Search(_ context.Context, req search.Request) ([]search.Result, error) {
	f.gotReq = req
	return f.results, f.err
}

func newTestServer(t *testing.T, q QueueService, s SearchService) *Server {
	t.Helper()

	srv, err := NewServer(ServerConfig{Queue: q, Search: s, RateBurst: 1000})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestEnqueueBatchEndpoint(t *testing.T) {
	t.Parallel()

	first := queue.Batch{ID: uuid.New(), ItemIDs: []uuid.UUID{uuid.New(), uuid.New()}}
	second := queue.Batch{ID: uuid.New(), ItemIDs: []uuid.UUID{uuid.New()}}
	q := &fakeQueueService{batches: []queue.Batch{first, second}}
	srv := newTestServer(t, q, &fakeSearchService{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/batches", map[string]any{
		"sourceIds":     []string{"a", "b", "c"},
		"batchSizeHint": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[enqueueResponse](t, rec)
	assert.Equal(t, first.ID, resp.BatchID)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, resp.BatchIDs)
	assert.Equal(t, 3, resp.ItemCount)

	assert.Equal(t, []string{"a", "b", "c"}, q.gotSourceIDs)
	assert.Equal(t, 2, q.gotHint)
}

func TestEnqueueBatchValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		queueErr error
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name:     "malformed json",
			body:     nil, // empty body
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_json",
		},
		{
			name:     "empty source list",
			body:     map[string]any{"sourceIds": []string{}, "batchSizeHint": 5},
			wantCode: http.StatusBadRequest,
			wantErr:  "empty_batch",
		},
		{
			name:     "invalid hint",
			queueErr: queue.ErrInvalidBatchSize,
			body:     map[string]any{"sourceIds": []string{"a"}, "batchSizeHint": 0},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_batch_size",
		},
		{
			name:     "unknown source",
			queueErr: fmt.Errorf("source %q: %w", "ghost", queue.ErrUnknownSource),
			body:     map[string]any{"sourceIds": []string{"ghost"}, "batchSizeHint": 5},
			wantCode: http.StatusBadRequest,
			wantErr:  "unknown_source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(t, &fakeQueueService{enqueueErr: tt.queueErr}, &fakeSearchService{})

			rec := doJSON(t, srv, http.MethodPost, "/api/v1/batches", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			resp := decode[errorBody](t, rec)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
		})
	}
}

func TestBatchProgressEndpoint(t *testing.T) {
	t.Parallel()

	batchID := uuid.New()
	q := &fakeQueueService{progress: queue.Progress{
		BatchID: batchID, Queued: 1, Completed: 3, NeedsReview: 1, Total: 5,
	}}
	srv := newTestServer(t, q, &fakeSearchService{})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/batches/"+batchID.String()+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[progressResponse](t, rec)
	assert.Equal(t, 1, resp.Queued)
	assert.Equal(t, 3, resp.Completed)
	assert.Equal(t, 1, resp.NeedsReview)
	assert.Equal(t, 5, resp.Total)
	assert.False(t, resp.Done)

	bad := doJSON(t, srv, http.MethodGet, "/api/v1/batches/not-a-uuid/progress", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestReviewEndpoints(t *testing.T) {
	t.Parallel()

	item := queue.Item{
		ID: uuid.New(), SourceID: "flaky", BatchID: uuid.New(),
		Status: queue.StatusNeedsReview, AttemptCount: 3, MaxAttempts: 3,
		LastError: "connection refused",
	}
	q := &fakeQueueService{review: []queue.Item{item}}
	srv := newTestServer(t, q, &fakeSearchService{})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/review", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string][]reviewItem](t, rec)
	require.Len(t, resp["items"], 1)
	assert.Equal(t, item.ID, resp["items"][0].ItemID)
	assert.Equal(t, "connection refused", resp["items"][0].LastError)

	requeued := doJSON(t, srv, http.MethodPost, "/api/v1/review/"+item.ID.String()+"/requeue", nil)
	assert.Equal(t, http.StatusOK, requeued.Code)
	assert.Equal(t, item.ID, q.gotRequeueID)
}

func TestRequeueErrors(t *testing.T) {
	t.Parallel()

	itemID := uuid.New()

	notFound := newTestServer(t, &fakeQueueService{requeueErr: queue.ErrItemNotFound}, &fakeSearchService{})
	rec := doJSON(t, notFound, http.MethodPost, "/api/v1/review/"+itemID.String()+"/requeue", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	wrongState := newTestServer(t, &fakeQueueService{requeueErr: queue.ErrNotLeased}, &fakeSearchService{})
	rec = doJSON(t, wrongState, http.MethodPost, "/api/v1/review/"+itemID.String()+"/requeue", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()

	hit := search.Result{
		Chunk: content.Chunk{
			ID: uuid.New(), SourceID: "go-docs", URL: "https://example.com/p",
			ChunkNumber: 2, Content: "about goroutines",
		},
		RRFScore:   0.0322,
		Similarity: 0.91,
		MatchType:  search.MatchHybrid,
	}
	s := &fakeSearchService{results: []search.Result{hit}}
	srv := newTestServer(t, &fakeQueueService{}, s)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", map[string]any{
		"queryText":          "goroutines",
		"embeddingDimension": 384,
		"matchCount":         5,
		"sourceFilter":       []string{"go-docs"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string][]searchResult](t, rec)
	require.Len(t, resp["results"], 1)
	got := resp["results"][0]
	assert.Equal(t, hit.Chunk.ID, got.ChunkID)
	assert.Equal(t, "hybrid", got.MatchType)
	assert.InDelta(t, 0.0322, got.RRFScore, 1e-9)

	assert.Equal(t, 384, s.gotReq.Dimension)
	assert.Equal(t, []string{"go-docs"}, s.gotReq.SourceFilter)
}

func TestSearchDefaultsDimension(t *testing.T) {
	t.Parallel()

	s := &fakeSearchService{}
	srv := newTestServer(t, &fakeQueueService{}, s)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", map[string]any{
		"queryText":  "indexes",
		"matchCount": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, search.DefaultDimension, s.gotReq.Dimension)
}

func TestSearchErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		wantCode int
		wantErr  string
	}{
		{search.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"},
		{search.ErrInvalidMatchCount, http.StatusBadRequest, "invalid_match_count"},
		{fmt.Errorf("%w: 512", content.ErrUnsupportedDimension), http.StatusBadRequest, "unsupported_dimension"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "search_failed"},
	}

	for _, tt := range tests {
		srv := newTestServer(t, &fakeQueueService{}, &fakeSearchService{err: tt.err})
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", map[string]any{
			"queryText": "q", "matchCount": 1,
		})
		assert.Equal(t, tt.wantCode, rec.Code)
		resp := decode[errorBody](t, rec)
		assert.Equal(t, tt.wantErr, resp.Error.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeQueueService{}, &fakeSearchService{})

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")

	// nil pool degrades /ready to liveness.
	rec = doJSON(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeQueueService{}, &fakeSearchService{})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/review", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/review", nil)
	req.Header.Set("X-Request-ID", "upstream-id-123")
	echo := httptest.NewRecorder()
	srv.Handler().ServeHTTP(echo, req)
	assert.Equal(t, "upstream-id-123", echo.Header().Get("X-Request-ID"))
}

func TestRateLimitExceeded(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(ServerConfig{
		Queue:     &fakeQueueService{},
		Search:    &fakeSearchService{},
		RateBurst: 2,
	})
	require.NoError(t, err)

	var lastCode int
	for range 5 {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/review", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)

	// Health probes bypass the limiter entirely.
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	logger := log.NewNop()
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(logger)(panicking)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "internal_error"))
}
