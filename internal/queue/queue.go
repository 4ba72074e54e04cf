package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Defaults applied when an Options field is zero.
const (
	DefaultMaxAttempts  = 3
	DefaultBackoffBase  = 30 * time.Second
	DefaultLeaseTimeout = 5 * time.Minute
)

// Options tunes queue behavior. The zero value picks the defaults above.
type Options struct {
	// MaxAttempts is the number of processing attempts before an item is
	// parked in needs_review.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; each subsequent
	// retry doubles it.
	BackoffBase time.Duration

	// LeaseTimeout is how long an in_progress item may sit without
	// completing before ReclaimExpired treats its worker as dead.
	LeaseTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = DefaultLeaseTimeout
	}

	return o
}

// Store provides durable queue operations backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *slog.Logger
}

// NewStore creates a queue store. A nil logger falls back to slog.Default().
func NewStore(pool *pgxpool.Pool, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{pool: pool, opts: opts.withDefaults(), logger: logger}
}

const itemCols = `id, source_id, batch_id, priority, position, status,
	attempt_count, max_attempts, coalesce(lease_owner, ''), not_before,
	coalesce(last_error, ''), created_at, started_at, completed_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.SourceID, &it.BatchID, &it.Priority,
		&it.Position, &it.Status, &it.AttemptCount, &it.MaxAttempts,
		&it.LeaseOwner, &it.NotBefore, &it.LastError, &it.CreatedAt,
		&it.StartedAt, &it.CompletedAt)
	if err != nil {
		return nil, err
	}

	return &it, nil
}

// EnqueueBatch inserts crawl items for the given sources. Sources are
// ordered high-priority first (preserving input order inside each class),
// then carved into batches of at most sizeHint items. One Batch is returned
// per carve; a seven-source enqueue with hint 5 yields two batches of five
// and two items.
//
// Every source must already exist in the registry; an unknown ID fails the
// whole call with ErrUnknownSource and nothing is enqueued.
func (s *Store) EnqueueBatch(ctx context.Context, sourceIDs []string, sizeHint int) ([]Batch, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	priorities, err := lookupPriorities(ctx, tx, sourceIDs)
	if err != nil {
		return nil, err
	}

	runs, err := carveBatches(orderByPriority(sourceIDs, priorities), sizeHint)
	if err != nil {
		return nil, err
	}

	batches := make([]Batch, 0, len(runs))
	for _, run := range runs {
		batch, err := insertBatch(ctx, tx, run, priorities, s.opts.MaxAttempts)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}

	s.logger.Info("batch enqueued",
		"sources", len(sourceIDs),
		"batches", len(batches))

	return batches, nil
}

func lookupPriorities(ctx context.Context, tx pgx.Tx, sourceIDs []string) (map[string]int, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, priority_class FROM sources WHERE id = ANY($1)`, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup source priorities: %w", err)
	}
	defer rows.Close()

	priorities := make(map[string]int, len(sourceIDs))
	for rows.Next() {
		var id, class string
		if err := rows.Scan(&id, &class); err != nil {
			return nil, fmt.Errorf("scan source priority: %w", err)
		}
		if class == "high" {
			priorities[id] = 10
		} else {
			priorities[id] = 0
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read source priorities: %w", err)
	}

	for _, id := range sourceIDs {
		if _, ok := priorities[id]; !ok {
			return nil, fmt.Errorf("source %q: %w", id, ErrUnknownSource)
		}
	}

	return priorities, nil
}

func insertBatch(ctx context.Context, tx pgx.Tx, run []string, priorities map[string]int, maxAttempts int) (Batch, error) {
	batch := Batch{ID: uuid.New()}

	err := tx.QueryRow(ctx,
		`INSERT INTO crawl_batches (id) VALUES ($1) RETURNING created_at`,
		batch.ID).Scan(&batch.CreatedAt)
	if err != nil {
		return Batch{}, fmt.Errorf("insert batch: %w", err)
	}

	for pos, sourceID := range run {
		itemID := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO crawl_items
				(id, source_id, batch_id, priority, position, status, max_attempts)
			VALUES ($1, $2, $3, $4, $5, 'queued', $6)`,
			itemID, sourceID, batch.ID, priorities[sourceID], pos, maxAttempts)
		if err != nil {
			return Batch{}, fmt.Errorf("insert item for %q: %w", sourceID, err)
		}
		batch.ItemIDs = append(batch.ItemIDs, itemID)
	}

	return batch, nil
}

// ClaimNext atomically leases the next claimable item for worker. Items are
// ordered by priority (descending), then enqueue time, then position within
// their batch. Items whose not_before lies in the future are invisible.
//
// Returns (nil, nil) when the queue has nothing claimable. The claim is a
// single UPDATE over a SKIP LOCKED subquery, so concurrent workers never
// receive the same item.
func (s *Store) ClaimNext(ctx context.Context, worker string) (*Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `
		UPDATE crawl_items SET
			status = 'in_progress',
			lease_owner = $1,
			started_at = now()
		WHERE id = (
			SELECT id FROM crawl_items
			WHERE status = 'queued'
			  AND (not_before IS NULL OR not_before <= now())
			ORDER BY priority DESC, created_at ASC, position ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemCols, worker))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next item: %w", err)
	}

	s.logger.Debug("item claimed",
		"item", item.ID,
		"source", item.SourceID,
		"worker", worker)

	return item, nil
}

// Complete marks a leased item as successfully processed. The caller must
// hold the lease: completing an item leased by another worker returns
// ErrLeaseConflict, and completing one that is not in_progress returns
// ErrNotLeased.
func (s *Store) Complete(ctx context.Context, itemID uuid.UUID, worker string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_items SET
			status = 'completed',
			lease_owner = NULL,
			completed_at = now()
		WHERE id = $1 AND status = 'in_progress' AND lease_owner = $2`,
		itemID, worker)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainLeaseFailure(ctx, itemID, worker)
	}

	return nil
}

// Fail records a processing failure on a leased item. The attempt counter is
// incremented; if attempts remain, the item returns to queued with a
// not_before of now + base * 2^attempts (so the delay doubles on every
// retry). Once attempts reach the item's max, it is parked in needs_review
// and never claimed again.
func (s *Store) Fail(ctx context.Context, itemID uuid.UUID, worker, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	item, err := scanItem(tx.QueryRow(ctx,
		`SELECT `+itemCols+` FROM crawl_items WHERE id = $1 FOR UPDATE`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock item for fail: %w", err)
	}

	if item.Status != StatusInProgress {
		return fmt.Errorf("item %s in status %q: %w", itemID, item.Status, ErrNotLeased)
	}
	if item.LeaseOwner != worker {
		return fmt.Errorf("item %s leased by %q: %w", itemID, item.LeaseOwner, ErrLeaseConflict)
	}

	attempts := item.AttemptCount + 1
	if attempts >= item.MaxAttempts {
		_, err = tx.Exec(ctx, `
			UPDATE crawl_items SET
				status = 'needs_review',
				attempt_count = $2,
				lease_owner = NULL,
				not_before = NULL,
				last_error = $3,
				completed_at = now()
			WHERE id = $1`,
			itemID, attempts, reason)
		if err != nil {
			return fmt.Errorf("park item for review: %w", err)
		}

		s.logger.Warn("item parked for review",
			"item", itemID,
			"source", item.SourceID,
			"attempts", attempts,
			"error", reason)
	} else {
		delay := retryDelay(s.opts.BackoffBase, attempts)
		_, err = tx.Exec(ctx, `
			UPDATE crawl_items SET
				status = 'queued',
				attempt_count = $2,
				lease_owner = NULL,
				started_at = NULL,
				not_before = now() + make_interval(secs => $3),
				last_error = $4
			WHERE id = $1`,
			itemID, attempts, delay.Seconds(), reason)
		if err != nil {
			return fmt.Errorf("requeue failed item: %w", err)
		}

		s.logger.Info("item requeued after failure",
			"item", itemID,
			"source", item.SourceID,
			"attempt", attempts,
			"retry_in", delay,
			"error", reason)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fail: %w", err)
	}

	return nil
}

// explainLeaseFailure turns a zero-row lease-guarded UPDATE into the precise
// sentinel the caller should see.
func (s *Store) explainLeaseFailure(ctx context.Context, itemID uuid.UUID, worker string) error {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != StatusInProgress {
		return fmt.Errorf("item %s in status %q: %w", itemID, item.Status, ErrNotLeased)
	}
	if item.LeaseOwner != worker {
		return fmt.Errorf("item %s leased by %q: %w", itemID, item.LeaseOwner, ErrLeaseConflict)
	}

	return fmt.Errorf("item %s: %w", itemID, ErrNotLeased)
}

// Get returns a single queue item by ID.
func (s *Store) Get(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemCols+` FROM crawl_items WHERE id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	return item, nil
}

// BatchProgress summarizes a batch by per-status counts. An unknown batch ID
// yields a Progress with Total zero rather than an error, so pollers on a
// just-created batch never race its first insert.
func (s *Store) BatchProgress(ctx context.Context, batchID uuid.UUID) (Progress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM crawl_items
		WHERE batch_id = $1
		GROUP BY status`, batchID)
	if err != nil {
		return Progress{}, fmt.Errorf("query batch progress: %w", err)
	}
	defer rows.Close()

	p := Progress{BatchID: batchID}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Progress{}, fmt.Errorf("scan batch progress: %w", err)
		}

		switch status {
		case StatusQueued:
			p.Queued += n
		case StatusInProgress:
			p.InProgress += n
		case StatusCompleted:
			p.Completed += n
		case StatusNeedsReview:
			p.NeedsReview += n
		}
		p.Total += n
	}
	if err := rows.Err(); err != nil {
		return Progress{}, fmt.Errorf("read batch progress: %w", err)
	}

	return p, nil
}

// ReviewList returns items parked in needs_review, most recently parked
// first.
func (s *Store) ReviewList(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+itemCols+` FROM crawl_items
		WHERE status = 'needs_review'
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query review list: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read review list: %w", err)
	}

	return items, nil
}

// Requeue returns a needs_review item to the queue with a fresh attempt
// budget. Only needs_review items are eligible; anything else returns
// ErrNotLeased wrapped with the item's current status.
func (s *Store) Requeue(ctx context.Context, itemID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_items SET
			status = 'queued',
			attempt_count = 0,
			lease_owner = NULL,
			not_before = NULL,
			last_error = NULL,
			started_at = NULL,
			completed_at = NULL
		WHERE id = $1 AND status = 'needs_review'`, itemID)
	if err != nil {
		return fmt.Errorf("requeue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		item, err := s.Get(ctx, itemID)
		if err != nil {
			return err
		}

		return fmt.Errorf("item %s in status %q, want needs_review: %w",
			itemID, item.Status, ErrNotLeased)
	}

	s.logger.Info("item requeued from review", "item", itemID)

	return nil
}

// ReclaimExpired sweeps in_progress items whose lease has outlived the
// configured timeout, treating each as a failure by its (presumed dead)
// worker: the attempt counter increments and the item either requeues with
// backoff or parks in needs_review. Returns the number of items reclaimed.
func (s *Store) ReclaimExpired(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, coalesce(lease_owner, '') FROM crawl_items
		WHERE status = 'in_progress' AND started_at < now() - make_interval(secs => $1)`,
		s.opts.LeaseTimeout.Seconds())
	if err != nil {
		return 0, fmt.Errorf("query expired leases: %w", err)
	}

	type expired struct {
		id    uuid.UUID
		owner string
	}
	var stale []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.owner); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired lease: %w", err)
		}
		stale = append(stale, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read expired leases: %w", err)
	}

	reclaimed := 0
	for _, e := range stale {
		err := s.Fail(ctx, e.id, e.owner, "lease expired")
		if err != nil {
			// Another sweeper or the original worker got there first.
			if errors.Is(err, ErrNotLeased) || errors.Is(err, ErrLeaseConflict) || errors.Is(err, ErrItemNotFound) {
				continue
			}

			return reclaimed, err
		}
		reclaimed++
	}

	if reclaimed > 0 {
		s.logger.Warn("reclaimed expired leases", "count", reclaimed)
	}

	return reclaimed, nil
}
