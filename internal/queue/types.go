// Package queue implements the durable, priority-ordered crawl queue.
//
// The correctness-critical contract is exactly-once claim: ClaimNext flips a
// queued item to in_progress in a single statement using FOR UPDATE SKIP
// LOCKED, so no two concurrent callers ever receive the same item. All other
// mutations (Complete, Fail) verify lease ownership before touching the row.
//
// State machine per item:
//
//	queued --claim--> in_progress --complete--> completed
//	in_progress --fail, retries remain--> queued (after backoff)
//	in_progress --fail, retries exhausted--> needs_review
//
// completed is terminal; needs_review is terminal for automation and only
// leaves via explicit Requeue.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrInvalidBatchSize indicates a batch size hint <= 0.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrUnknownSource indicates an enqueued source ID with no registry entry.
	ErrUnknownSource = errors.New("unknown source")

	// ErrItemNotFound indicates the referenced queue item does not exist.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrNotLeased indicates a mutation on an item that is not in_progress.
	ErrNotLeased = errors.New("item not leased")

	// ErrLeaseConflict indicates a caller attempted to mutate an item whose
	// lease is held by another worker. This is a programming error in the
	// caller, surfaced rather than retried.
	ErrLeaseConflict = errors.New("lease held by another worker")
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusNeedsReview Status = "needs_review"
)

// Item is a single crawl job in the queue.
type Item struct {
	ID           uuid.UUID
	SourceID     string
	BatchID      uuid.UUID
	Priority     int
	Position     int
	Status       Status
	AttemptCount int
	MaxAttempts  int
	LeaseOwner   string
	NotBefore    *time.Time
	LastError    string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Batch is a grouping label for items enqueued together. It has no behavior
// of its own; it exists for reporting.
type Batch struct {
	ID        uuid.UUID
	ItemIDs   []uuid.UUID // insertion order = enqueue order
	CreatedAt time.Time
}

// Progress is a per-status summary for one batch.
type Progress struct {
	BatchID     uuid.UUID
	Queued      int
	InProgress  int
	Completed   int
	NeedsReview int
	Total       int
}

// Done reports whether every item in the batch reached a terminal state.
func (p Progress) Done() bool {
	return p.Total > 0 && p.Completed+p.NeedsReview == p.Total
}
