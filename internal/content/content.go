// Package content implements the durable store for ingested chunks.
//
// Each chunk carries its text, a metadata map, and exactly one embedding at
// one of the supported dimensions. The schema keeps one vector column per
// dimension (sparse, only one populated per row) so each dimension gets its
// own vector index and vectors of different sizes are never compared. A
// generated tsvector column serves lexical search.
package content

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedDimension indicates an embedding size the schema has no
	// column for.
	ErrUnsupportedDimension = errors.New("unsupported embedding dimension")

	// ErrDimensionMismatch indicates a vector whose length disagrees with
	// its declared dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// SupportedDimensions lists the embedding sizes the store accepts, matching
// the per-dimension vector columns in the schema.
var SupportedDimensions = []int{384, 768, 1024, 1536, 3072}

// embeddingColumns maps a dimension to its vector column. Only vetted names
// ever reach SQL text.
var embeddingColumns = map[int]string{
	384:  "embedding_384",
	768:  "embedding_768",
	1024: "embedding_1024",
	1536: "embedding_1536",
	3072: "embedding_3072",
}

// EmbeddingColumn returns the vector column for a dimension, or
// ErrUnsupportedDimension.
func EmbeddingColumn(dimension int) (string, error) {
	col, ok := embeddingColumns[dimension]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedDimension, dimension)
	}

	return col, nil
}

// Chunk is one unit of ingested, searchable content. Chunks are immutable
// once written; re-ingestion of the same (source, url) replaces them
// wholesale.
type Chunk struct {
	ID          uuid.UUID
	SourceID    string
	URL         string
	ChunkNumber int
	Content     string
	Metadata    map[string]string
	Dimension   int
	Embedding   []float32
	CreatedAt   time.Time
}

// Validate checks the chunk is storable.
func (c *Chunk) Validate() error {
	if _, err := EmbeddingColumn(c.Dimension); err != nil {
		return err
	}
	if len(c.Embedding) != c.Dimension {
		return fmt.Errorf("%w: vector has %d values, declared %d",
			ErrDimensionMismatch, len(c.Embedding), c.Dimension)
	}

	return nil
}

// Ranked is a chunk with its position in one sub-search's ordering. Rank is
// 1-based. Similarity is populated by vector search (cosine similarity in
// [0,1]) and lexical score by text search; the fusion layer only consumes
// Rank.
type Ranked struct {
	Chunk      Chunk
	Rank       int
	Similarity float64
}
