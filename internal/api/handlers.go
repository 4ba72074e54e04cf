package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quarryhq/quarry/internal/content"
	"github.com/quarryhq/quarry/internal/queue"
	"github.com/quarryhq/quarry/internal/search"
)

// QueueService is the queue surface the API exposes. Satisfied by
// *queue.Store.
type QueueService interface {
	EnqueueBatch(ctx context.Context, sourceIDs []string, sizeHint int) ([]queue.Batch, error)
	BatchProgress(ctx context.Context, batchID uuid.UUID) (queue.Progress, error)
	ReviewList(ctx context.Context, limit int) ([]queue.Item, error)
	Requeue(ctx context.Context, itemID uuid.UUID) error
}

// SearchService is the retrieval surface the API exposes. Satisfied by
// *search.Engine.
type SearchService interface {
	Search(ctx context.Context, req search.Request) ([]search.Result, error)
}

type batchHandler struct {
	queue  QueueService
	logger *slog.Logger
}

type enqueueRequest struct {
	SourceIDs     []string `json:"sourceIds"`
	BatchSizeHint int      `json:"batchSizeHint"`
}

type enqueueResponse struct {
	BatchID   uuid.UUID   `json:"batchId"`
	BatchIDs  []uuid.UUID `json:"batchIds"`
	ItemCount int         `json:"itemCount"`
}

func (h *batchHandler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	if len(req.SourceIDs) == 0 {
		WriteError(w, http.StatusBadRequest, "empty_batch", "sourceIds must not be empty", h.logger)
		return
	}

	batches, err := h.queue.EnqueueBatch(r.Context(), req.SourceIDs, req.BatchSizeHint)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrInvalidBatchSize):
			WriteError(w, http.StatusBadRequest, "invalid_batch_size", "batchSizeHint must be at least 1", h.logger)
		case errors.Is(err, queue.ErrUnknownSource):
			WriteError(w, http.StatusBadRequest, "unknown_source", err.Error(), h.logger)
		default:
			WriteError(w, http.StatusInternalServerError, "enqueue_failed", "failed to enqueue batch", h.logger)
		}
		return
	}

	resp := enqueueResponse{}
	for _, b := range batches {
		resp.BatchIDs = append(resp.BatchIDs, b.ID)
		resp.ItemCount += len(b.ItemIDs)
	}
	if len(batches) > 0 {
		resp.BatchID = batches[0].ID
	}

	WriteJSON(w, http.StatusCreated, resp)
}

type progressResponse struct {
	BatchID     uuid.UUID `json:"batchId"`
	Queued      int       `json:"queued"`
	InProgress  int       `json:"inProgress"`
	Completed   int       `json:"completed"`
	NeedsReview int       `json:"needsReview"`
	Total       int       `json:"total"`
	Done        bool      `json:"done"`
}

func (h *batchHandler) progress(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_batch_id", "batch id must be a UUID", h.logger)
		return
	}

	p, err := h.queue.BatchProgress(r.Context(), batchID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "progress_failed", "failed to read batch progress", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, progressResponse{
		BatchID:     p.BatchID,
		Queued:      p.Queued,
		InProgress:  p.InProgress,
		Completed:   p.Completed,
		NeedsReview: p.NeedsReview,
		Total:       p.Total,
		Done:        p.Done(),
	})
}

type reviewItem struct {
	ItemID       uuid.UUID  `json:"itemId"`
	SourceID     string     `json:"sourceId"`
	BatchID      uuid.UUID  `json:"batchId"`
	AttemptCount int        `json:"attemptCount"`
	MaxAttempts  int        `json:"maxAttempts"`
	LastError    string     `json:"lastError"`
	ParkedAt     *time.Time `json:"parkedAt"`
}

func (h *batchHandler) review(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.ReviewList(r.Context(), 100)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "review_failed", "failed to list review items", h.logger)
		return
	}

	out := make([]reviewItem, 0, len(items))
	for _, it := range items {
		out = append(out, reviewItem{
			ItemID:       it.ID,
			SourceID:     it.SourceID,
			BatchID:      it.BatchID,
			AttemptCount: it.AttemptCount,
			MaxAttempts:  it.MaxAttempts,
			LastError:    it.LastError,
			ParkedAt:     it.CompletedAt,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *batchHandler) requeue(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_item_id", "item id must be a UUID", h.logger)
		return
	}

	switch err := h.queue.Requeue(r.Context(), itemID); {
	case err == nil:
		WriteJSON(w, http.StatusOK, map[string]string{"status": string(queue.StatusQueued)})
	case errors.Is(err, queue.ErrItemNotFound):
		WriteError(w, http.StatusNotFound, "item_not_found", "no such queue item", h.logger)
	case errors.Is(err, queue.ErrNotLeased):
		WriteError(w, http.StatusConflict, "not_reviewable", "only needs_review items can be requeued", h.logger)
	default:
		WriteError(w, http.StatusInternalServerError, "requeue_failed", "failed to requeue item", h.logger)
	}
}

type searchHandler struct {
	engine SearchService
	logger *slog.Logger
}

type searchRequest struct {
	QueryText          string            `json:"queryText"`
	QueryEmbedding     []float32         `json:"queryEmbedding,omitempty"`
	EmbeddingDimension int               `json:"embeddingDimension,omitempty"`
	MatchCount         int               `json:"matchCount"`
	MetadataFilter     map[string]string `json:"metadataFilter,omitempty"`
	SourceFilter       []string          `json:"sourceFilter,omitempty"`
}

type searchResult struct {
	ChunkID     uuid.UUID         `json:"chunkId"`
	SourceID    string            `json:"sourceId"`
	URL         string            `json:"url"`
	ChunkNumber int               `json:"chunkNumber"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	MatchType   string            `json:"matchType"`
	RRFScore    float64           `json:"rrfScore"`
	Similarity  float64           `json:"similarity,omitempty"`
}

func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}

	engineReq := search.Request{
		QueryText:      req.QueryText,
		QueryEmbedding: req.QueryEmbedding,
		Dimension:      req.EmbeddingDimension,
		MatchCount:     req.MatchCount,
		MetadataFilter: req.MetadataFilter,
		SourceFilter:   req.SourceFilter,
	}

	var (
		results []search.Result
		err     error
	)
	if engineReq.Dimension == 0 {
		results, err = h.engine.Search(r.Context(), withDefaultDimension(engineReq))
	} else {
		results, err = h.engine.Search(r.Context(), engineReq)
	}
	if err != nil {
		switch {
		case errors.Is(err, search.ErrInvalidQuery):
			WriteError(w, http.StatusBadRequest, "invalid_query", "provide queryText or queryEmbedding", h.logger)
		case errors.Is(err, search.ErrInvalidMatchCount):
			WriteError(w, http.StatusBadRequest, "invalid_match_count", "matchCount must be at least 1", h.logger)
		case errors.Is(err, content.ErrUnsupportedDimension):
			WriteError(w, http.StatusBadRequest, "unsupported_dimension", err.Error(), h.logger)
		case errors.Is(err, content.ErrDimensionMismatch):
			WriteError(w, http.StatusBadRequest, "dimension_mismatch", err.Error(), h.logger)
		default:
			WriteError(w, http.StatusInternalServerError, "search_failed", "search failed", h.logger)
		}
		return
	}

	out := make([]searchResult, 0, len(results))
	for _, res := range results {
		out = append(out, searchResult{
			ChunkID:     res.Chunk.ID,
			SourceID:    res.Chunk.SourceID,
			URL:         res.Chunk.URL,
			ChunkNumber: res.Chunk.ChunkNumber,
			Content:     res.Chunk.Content,
			Metadata:    res.Chunk.Metadata,
			MatchType:   string(res.MatchType),
			RRFScore:    res.RRFScore,
			Similarity:  res.Similarity,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]any{"results": out})
}

// withDefaultDimension applies the legacy default when the caller omits the
// dimension.
func withDefaultDimension(req search.Request) search.Request {
	req.Dimension = search.DefaultDimension
	return req
}
