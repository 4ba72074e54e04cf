package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quarryhq/quarry/internal/content"
	"github.com/quarryhq/quarry/internal/observability"
	"github.com/quarryhq/quarry/internal/queue"
	"github.com/quarryhq/quarry/internal/registry"
)

// Fetcher retrieves a source's content. Implementations own their timeouts;
// a timeout surfaces as an error and rides the queue's retry path.
type Fetcher interface {
	Fetch(ctx context.Context, source *registry.Source) (string, error)
}

// Embedder turns text into a fixed-length vector of the requested dimension.
type Embedder interface {
	Embed(ctx context.Context, text string, dimension int) ([]float32, error)
}

// Queue is the claim/complete/fail surface of the crawl queue. Satisfied by
// *queue.Store.
type Queue interface {
	ClaimNext(ctx context.Context, worker string) (*queue.Item, error)
	Complete(ctx context.Context, itemID uuid.UUID, worker string) error
	Fail(ctx context.Context, itemID uuid.UUID, worker, reason string) error
	ReclaimExpired(ctx context.Context) (int, error)
}

// Registry resolves a source's policy and configuration. Satisfied by
// *registry.Store.
type Registry interface {
	Get(ctx context.Context, id string) (*registry.Source, error)
}

// ContentWriter persists an ingested page's chunks. Satisfied by
// *content.Store.
type ContentWriter interface {
	ReplaceChunks(ctx context.Context, sourceID, url string, chunks []content.Chunk) error
}

// Worker drives queue items to completion one at a time. Multiple workers
// share a queue with no coordination beyond the queue's atomic claim.
type Worker struct {
	id       string
	queue    Queue
	registry Registry
	store    ContentWriter
	fetcher  Fetcher
	embedder Embedder
	chunker  *Chunker
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewWorker wires a worker. A nil limiter disables fetch pacing; a nil
// logger falls back to slog.Default().
func NewWorker(id string, q Queue, reg Registry, store ContentWriter, fetcher Fetcher, embedder Embedder, limiter *rate.Limiter, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:       id,
		queue:    q,
		registry: reg,
		store:    store,
		fetcher:  fetcher,
		embedder: embedder,
		chunker:  NewChunker(0, 0),
		limiter:  limiter,
		logger:   logger.With("worker", id),
	}
}

// RunOnce claims and processes a single item. Returns false when the queue
// had nothing claimable. Processing failures are routed into the queue's
// retry path and do not surface as errors; only infrastructure failures
// (claim, state transitions) do.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	item, err := w.queue.ClaimNext(ctx, w.id)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if item == nil {
		return false, nil
	}

	if err := w.process(ctx, item); err != nil {
		w.logger.Warn("item processing failed",
			"item", item.ID,
			"source", item.SourceID,
			"attempt", item.AttemptCount+1,
			"error", err)

		if failErr := w.queue.Fail(ctx, item.ID, w.id, err.Error()); failErr != nil {
			return true, fmt.Errorf("record failure: %w", failErr)
		}

		return true, nil
	}

	if err := w.queue.Complete(ctx, item.ID, w.id); err != nil {
		return true, fmt.Errorf("record completion: %w", err)
	}

	w.logger.Info("item completed", "item", item.ID, "source", item.SourceID)

	return true, nil
}

// process runs fetch → extract → chunk → embed → store for one claimed
// item. Everything after a successful fetch is all-or-nothing: the chunk
// write is a single transactional replace, so a failure discards partial
// work.
func (w *Worker) process(ctx context.Context, item *queue.Item) error {
	ctx, span := observability.Tracer("quarry/ingest").Start(ctx, "ingest.process")
	defer span.End()

	source, err := w.registry.Get(ctx, item.SourceID)
	if err != nil {
		return fmt.Errorf("resolve source: %w", err)
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("fetch pacing: %w", err)
		}
	}

	doc, err := w.fetcher.Fetch(ctx, source)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", source.BaseURL, err)
	}

	segments := Extract(doc, source.Policy)

	var chunks []content.Chunk
	number := 0
	for _, seg := range segments {
		kind := "prose"
		if seg.IsCode {
			kind = "code"
		}

		for _, piece := range w.chunker.Chunk([]Segment{seg}) {
			vec, err := w.embedder.Embed(ctx, piece, source.Dimension)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", number, err)
			}

			chunks = append(chunks, content.Chunk{
				ChunkNumber: number,
				Content:     piece,
				Metadata: map[string]string{
					"kind":  kind,
					"chunk": strconv.Itoa(number),
				},
				Dimension: source.Dimension,
				Embedding: vec,
			})
			number++
		}
	}

	if err := w.store.ReplaceChunks(ctx, source.ID, source.BaseURL, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	w.logger.Debug("page ingested",
		"source", source.ID,
		"url", source.BaseURL,
		"segments", len(segments),
		"chunks", len(chunks))

	return nil
}

// Run polls the queue until the context is canceled. A successful claim
// loops immediately; an empty queue waits one poll interval.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		worked, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("worker pass failed", "error", err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Pool runs a fixed set of workers plus a single lease-reclaim sweeper.
type Pool struct {
	workers         []*Worker
	queue           Queue
	reclaimInterval time.Duration
	logger          *slog.Logger
}

// NewPool builds count workers sharing the given collaborators. The fetch
// limiter is shared across the pool so pacing is global, not per-worker.
func NewPool(count int, q Queue, reg Registry, store ContentWriter, fetcher Fetcher, embedder Embedder, fetchesPerSecond float64, reclaimInterval time.Duration, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if count <= 0 {
		count = 1
	}
	if reclaimInterval <= 0 {
		reclaimInterval = 30 * time.Second
	}

	var limiter *rate.Limiter
	if fetchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(fetchesPerSecond), 1)
	}

	workers := make([]*Worker, count)
	for i := range workers {
		id := fmt.Sprintf("worker-%d", i)
		workers[i] = NewWorker(id, q, reg, store, fetcher, embedder, limiter, logger)
	}

	return &Pool{
		workers:         workers,
		queue:           q,
		reclaimInterval: reclaimInterval,
		logger:          logger,
	}
}

// Run starts every worker and the reclaim sweeper, blocking until the
// context is canceled and all workers have drained.
func (p *Pool) Run(ctx context.Context, pollInterval time.Duration) {
	var wg sync.WaitGroup

	for _, w := range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(ctx, pollInterval)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()

	wg.Wait()
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.ReclaimExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("lease reclaim failed", "error", err)
				}
				continue
			}
			if n > 0 {
				p.logger.Info("stale leases reclaimed", "count", n)
			}
		}
	}
}
