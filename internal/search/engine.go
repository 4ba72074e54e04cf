package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quarryhq/quarry/internal/content"
	"github.com/quarryhq/quarry/internal/observability"
)

// DefaultDimension is the embedding size assumed by the legacy
// single-dimension entry point.
const DefaultDimension = 768

var (
	// ErrInvalidQuery indicates a request carrying neither query text nor a
	// query embedding.
	ErrInvalidQuery = errors.New("query requires text or an embedding")

	// ErrInvalidMatchCount indicates a non-positive match count.
	ErrInvalidMatchCount = errors.New("match count must be at least 1")
)

// Searcher is the content-store surface the engine needs. Satisfied by
// *content.Store.
type Searcher interface {
	VectorSearch(ctx context.Context, embedding []float32, dimension, limit int, filter content.Filter) ([]content.Ranked, error)
	TextSearch(ctx context.Context, queryText string, limit int, filter content.Filter) ([]content.Ranked, error)
}

// Request describes one hybrid search.
type Request struct {
	// QueryText drives the lexical sub-search. Empty skips it.
	QueryText string

	// QueryEmbedding drives the vector sub-search. Nil skips it; otherwise
	// its length must equal Dimension.
	QueryEmbedding []float32

	// Dimension selects which embedding column to search.
	Dimension int

	// MatchCount caps the fused result list. Each sub-search fetches
	// 2*MatchCount candidates so fusion has headroom to reorder.
	MatchCount int

	// MetadataFilter and SourceFilter narrow both sub-searches identically.
	MetadataFilter map[string]string
	SourceFilter   []string
}

// Engine fuses vector and lexical sub-searches over the content store.
// Read-only; safe for concurrent use.
type Engine struct {
	store  Searcher
	logger *slog.Logger
}

// NewEngine creates a hybrid search engine. A nil logger falls back to
// slog.Default().
func NewEngine(store Searcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{store: store, logger: logger}
}

// Search runs both sub-searches and fuses their rankings. A request with no
// embedding degrades to keyword-only; no text degrades to vector-only; a
// dimension with no stored chunks simply contributes an empty vector list.
// Output is ordered by descending RRF score, at most MatchCount long, with
// no duplicate chunks.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.QueryText == "" && req.QueryEmbedding == nil {
		return nil, ErrInvalidQuery
	}
	if req.MatchCount < 1 {
		return nil, ErrInvalidMatchCount
	}

	ctx, span := observability.Tracer("quarry/search").Start(ctx, "search.hybrid")
	defer span.End()

	filter := content.Filter{
		Metadata: req.MetadataFilter,
		Sources:  req.SourceFilter,
	}
	fetch := 2 * req.MatchCount

	var (
		vectorHits []content.Ranked
		textHits   []content.Ranked
		err        error
	)

	if req.QueryEmbedding != nil {
		vectorHits, err = e.store.VectorSearch(ctx, req.QueryEmbedding, req.Dimension, fetch, filter)
		if err != nil {
			return nil, fmt.Errorf("vector sub-search: %w", err)
		}
	}

	if req.QueryText != "" {
		textHits, err = e.store.TextSearch(ctx, req.QueryText, fetch, filter)
		if err != nil {
			return nil, fmt.Errorf("text sub-search: %w", err)
		}
	}

	results := fuse(vectorHits, textHits, req.MatchCount)

	e.logger.Debug("hybrid search",
		"vector_hits", len(vectorHits),
		"text_hits", len(textHits),
		"fused", len(results))

	return results, nil
}

// SearchDefault is the legacy single-dimension entry point: identical
// contract to Search with Dimension fixed to DefaultDimension.
func (e *Engine) SearchDefault(ctx context.Context, req Request) ([]Result, error) {
	req.Dimension = DefaultDimension

	return e.Search(ctx, req)
}
