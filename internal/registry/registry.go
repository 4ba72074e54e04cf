// Package registry holds per-source identity and extraction policy.
//
// The registry is deliberately the simplest component: sources are written
// by admin configuration, read by the crawl queue (priority class) and by
// the ingestion worker (extraction policy). Policy values are validated at
// write time so readers never see an invalid policy.
package registry

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrSourceNotFound indicates the requested source does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrInvalidPriorityClass indicates an unknown priority class value.
	ErrInvalidPriorityClass = errors.New("invalid priority class")

	// ErrInvalidPolicy indicates an extraction policy failed validation.
	ErrInvalidPolicy = errors.New("invalid extraction policy")
)

// PriorityClass orders sources in the crawl queue. High-priority sources are
// claimed before normal ones regardless of enqueue time.
type PriorityClass string

const (
	PriorityHigh   PriorityClass = "high"
	PriorityNormal PriorityClass = "normal"
)

// Valid reports whether the class is a known value.
func (p PriorityClass) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal
}

// QueuePriority maps the class to the integer priority stored on queue items.
// Higher values are claimed first.
func (p PriorityClass) QueuePriority() int {
	if p == PriorityHigh {
		return 10
	}
	return 0
}

// ExtractionStrategy tunes how aggressively code blocks are retained.
type ExtractionStrategy string

const (
	StrategyAggressive   ExtractionStrategy = "aggressive"
	StrategyBalanced     ExtractionStrategy = "balanced"
	StrategyConservative ExtractionStrategy = "conservative"
)

// Valid reports whether the strategy is a known value.
func (s ExtractionStrategy) Valid() bool {
	switch s {
	case StrategyAggressive, StrategyBalanced, StrategyConservative:
		return true
	}
	return false
}

// Policy defaults. A zero ExtractionPolicy is not valid; use DefaultPolicy.
const (
	DefaultMinCodeLength     = 250
	DefaultCodeIndicatorsMin = 3
)

// ExtractionPolicy controls which fetched code blocks are kept during
// ingestion. A block is kept iff len(block) >= MinCodeLength, OR
// EnableSmallSnippets is set and the block contains at least
// CodeIndicatorsMin recognized code markers (threshold shifted by Strategy).
type ExtractionPolicy struct {
	MinCodeLength       int                `json:"min_code_length"`
	EnableSmallSnippets bool               `json:"enable_small_snippets"`
	SkipProseFilter     bool               `json:"skip_prose_filter"`
	CodeIndicatorsMin   int                `json:"code_indicators_min"`
	Strategy            ExtractionStrategy `json:"extraction_strategy"`
}

// DefaultPolicy returns the documented default extraction policy.
func DefaultPolicy() ExtractionPolicy {
	return ExtractionPolicy{
		MinCodeLength:     DefaultMinCodeLength,
		CodeIndicatorsMin: DefaultCodeIndicatorsMin,
		Strategy:          StrategyBalanced,
	}
}

// Validate checks policy values. Called on every registry write so invalid
// policies are rejected before they are ever persisted.
func (p ExtractionPolicy) Validate() error {
	if p.MinCodeLength < 0 {
		return fmt.Errorf("%w: min_code_length must be >= 0, got %d", ErrInvalidPolicy, p.MinCodeLength)
	}
	if p.CodeIndicatorsMin < 1 {
		return fmt.Errorf("%w: code_indicators_min must be >= 1, got %d", ErrInvalidPolicy, p.CodeIndicatorsMin)
	}
	if !p.Strategy.Valid() {
		return fmt.Errorf("%w: unknown extraction strategy %q", ErrInvalidPolicy, p.Strategy)
	}
	return nil
}

// Source is a registered knowledge source.
type Source struct {
	ID        string
	Priority  PriorityClass
	Policy    ExtractionPolicy
	// Dimension is the embedding dimension produced for this source's chunks.
	Dimension int
	// BaseURL is the crawl entry point handed to the fetch collaborator.
	BaseURL   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
