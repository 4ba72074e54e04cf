package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidDimension indicates an unsupported embedding dimension on write.
var ErrInvalidDimension = errors.New("invalid embedding dimension")

// supportedDimensions mirrors the chunks schema columns.
var supportedDimensions = map[int]bool{
	384: true, 768: true, 1024: true, 1536: true, 3072: true,
}

const sourceCols = `id, priority_class, min_code_length, enable_small_snippets,
	skip_prose_filter, code_indicators_min, extraction_strategy,
	embedding_dimension, base_url, created_at, updated_at`

// Store manages sources backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a registry Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Get returns the source with the given ID.
// Returns ErrSourceNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Source, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sourceCols+` FROM sources WHERE id = $1`, id)

	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrSourceNotFound, id)
		}
		return nil, fmt.Errorf("getting source %q: %w", id, err)
	}
	return src, nil
}

// UpsertPolicy creates or updates a source's priority class and extraction
// policy. All values are validated here, at write time, so queue and worker
// reads never encounter an invalid policy.
func (s *Store) UpsertPolicy(ctx context.Context, id string, class PriorityClass, policy ExtractionPolicy, dimension int, baseURL string) error {
	if id == "" {
		return fmt.Errorf("%w: source id must not be empty", ErrInvalidPolicy)
	}
	if !class.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriorityClass, class)
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	if !supportedDimensions[dimension] {
		return fmt.Errorf("%w: %d (supported: 384, 768, 1024, 1536, 3072)", ErrInvalidDimension, dimension)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, priority_class, min_code_length, enable_small_snippets,
		                      skip_prose_filter, code_indicators_min, extraction_strategy,
		                      embedding_dimension, base_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		     priority_class = EXCLUDED.priority_class,
		     min_code_length = EXCLUDED.min_code_length,
		     enable_small_snippets = EXCLUDED.enable_small_snippets,
		     skip_prose_filter = EXCLUDED.skip_prose_filter,
		     code_indicators_min = EXCLUDED.code_indicators_min,
		     extraction_strategy = EXCLUDED.extraction_strategy,
		     embedding_dimension = EXCLUDED.embedding_dimension,
		     base_url = EXCLUDED.base_url,
		     updated_at = now()`,
		id, class, policy.MinCodeLength, policy.EnableSmallSnippets,
		policy.SkipProseFilter, policy.CodeIndicatorsMin, policy.Strategy,
		dimension, baseURL,
	)
	if err != nil {
		return fmt.Errorf("upserting source %q: %w", id, err)
	}

	s.logger.Debug("source policy upserted", "source_id", id, "priority_class", class)
	return nil
}

// scanSource scans a single source row.
func scanSource(row pgx.Row) (*Source, error) {
	var src Source
	err := row.Scan(
		&src.ID, &src.Priority,
		&src.Policy.MinCodeLength, &src.Policy.EnableSmallSnippets,
		&src.Policy.SkipProseFilter, &src.Policy.CodeIndicatorsMin,
		&src.Policy.Strategy,
		&src.Dimension, &src.BaseURL,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &src, nil
}
