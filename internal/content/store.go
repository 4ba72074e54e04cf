package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store persists chunks in PostgreSQL with pgvector.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a content store. A nil logger falls back to slog.Default().
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{pool: pool, logger: logger}
}

// ReplaceChunks replaces all chunks for (sourceID, url) with the given set in
// a single transaction, so re-ingestion of a page never duplicates or
// interleaves with stale rows. An empty chunk slice just deletes.
func (s *Store) ReplaceChunks(ctx context.Context, sourceID, url string, chunks []Chunk) error {
	for i := range chunks {
		if err := chunks[i].Validate(); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`DELETE FROM chunks WHERE source_id = $1 AND url = $2`, sourceID, url)
	if err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}

	for i := range chunks {
		c := &chunks[i]
		col, _ := EmbeddingColumn(c.Dimension)

		// The column name comes from the vetted dimension map, never from
		// caller input.
		query := fmt.Sprintf(`
			INSERT INTO chunks
				(source_id, url, chunk_number, content, metadata,
				 embedding_dimension, %s)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, col)

		_, err = tx.Exec(ctx, query,
			sourceID, url, c.ChunkNumber, c.Content, c.Metadata,
			c.Dimension, pgvector.NewVector(c.Embedding))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}

	s.logger.Debug("chunks replaced",
		"source", sourceID,
		"url", url,
		"chunks", len(chunks))

	return nil
}

// Filter narrows a sub-search. A nil/empty field applies no constraint.
type Filter struct {
	// Metadata requires every listed key/value pair to be present in the
	// chunk's metadata (JSONB containment).
	Metadata map[string]string

	// Sources restricts results to the listed source IDs.
	Sources []string
}

// appendTo adds the filter's WHERE fragments, returning the grown clause
// list and argument list.
func (f Filter) appendTo(clauses []string, args []any) ([]string, []any) {
	if len(f.Metadata) > 0 {
		args = append(args, f.Metadata)
		clauses = append(clauses, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
	}
	if len(f.Sources) > 0 {
		args = append(args, f.Sources)
		clauses = append(clauses, fmt.Sprintf("source_id = ANY($%d)", len(args)))
	}

	return clauses, args
}

const chunkCols = `id, source_id, url, chunk_number, content, metadata,
	embedding_dimension, created_at`

func scanRankedRows(rows pgx.Rows) ([]Ranked, error) {
	defer rows.Close()

	var out []Ranked
	for rows.Next() {
		var r Ranked
		err := rows.Scan(&r.Chunk.ID, &r.Chunk.SourceID, &r.Chunk.URL,
			&r.Chunk.ChunkNumber, &r.Chunk.Content, &r.Chunk.Metadata,
			&r.Chunk.Dimension, &r.Chunk.CreatedAt, &r.Similarity)
		if err != nil {
			return nil, fmt.Errorf("scan ranked chunk: %w", err)
		}
		r.Rank = len(out) + 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ranked chunks: %w", err)
	}

	return out, nil
}

// VectorSearch returns up to limit chunks of the given dimension ordered by
// descending cosine similarity to the query embedding. Ranks are 1-based in
// result order. A dimension with no stored chunks yields an empty slice, not
// an error.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, dimension, limit int, filter Filter) ([]Ranked, error) {
	col, err := EmbeddingColumn(dimension)
	if err != nil {
		return nil, err
	}
	if len(embedding) != dimension {
		return nil, fmt.Errorf("%w: query vector has %d values, want %d",
			ErrDimensionMismatch, len(embedding), dimension)
	}

	args := []any{pgvector.NewVector(embedding), dimension}
	clauses := []string{
		"embedding_dimension = $2",
		fmt.Sprintf("%s IS NOT NULL", col),
	}
	clauses, args = filter.appendTo(clauses, args)

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT `+chunkCols+`, 1 - (%s <=> $1) AS similarity
		FROM chunks
		WHERE %s
		ORDER BY %s <=> $1 ASC, id ASC
		LIMIT $%d`,
		col, strings.Join(clauses, " AND "), col, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	return scanRankedRows(rows)
}

// TextSearch returns up to limit chunks ordered by descending lexical
// relevance of queryText against the precomputed tsvector, using
// ts_rank_cd with document-length normalization. Ranks are 1-based in
// result order.
func (s *Store) TextSearch(ctx context.Context, queryText string, limit int, filter Filter) ([]Ranked, error) {
	args := []any{queryText}
	clauses := []string{"content_tsv @@ plainto_tsquery('english', $1)"}
	clauses, args = filter.appendTo(clauses, args)

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT `+chunkCols+`,
			ts_rank_cd(content_tsv, plainto_tsquery('english', $1), 1)::float8 AS score
		FROM chunks
		WHERE %s
		ORDER BY score DESC, id ASC
		LIMIT $%d`,
		strings.Join(clauses, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	return scanRankedRows(rows)
}

// CountByDimension reports how many chunks exist at each embedding
// dimension. Used by readiness and status reporting.
func (s *Store) CountByDimension(ctx context.Context) (map[int]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT embedding_dimension, count(*) FROM chunks GROUP BY embedding_dimension`)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var dim, n int
		if err := rows.Scan(&dim, &n); err != nil {
			return nil, fmt.Errorf("scan chunk count: %w", err)
		}
		counts[dim] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chunk counts: %w", err)
	}

	return counts, nil
}
