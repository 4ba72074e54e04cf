package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingColumn(t *testing.T) {
	t.Parallel()

	for _, dim := range SupportedDimensions {
		col, err := EmbeddingColumn(dim)
		require.NoError(t, err)
		assert.NotEmpty(t, col)
	}

	for _, dim := range []int{0, -1, 512, 100000} {
		_, err := EmbeddingColumn(dim)
		assert.ErrorIs(t, err, ErrUnsupportedDimension, "dimension %d", dim)
	}
}

func TestChunkValidate(t *testing.T) {
	t.Parallel()

	valid := Chunk{
		SourceID:  "go-docs",
		URL:       "https://example.com/page",
		Content:   "some text",
		Dimension: 384,
		Embedding: make([]float32, 384),
	}
	require.NoError(t, valid.Validate())

	badDim := valid
	badDim.Dimension = 512
	assert.ErrorIs(t, badDim.Validate(), ErrUnsupportedDimension)

	mismatch := valid
	mismatch.Embedding = make([]float32, 768)
	assert.ErrorIs(t, mismatch.Validate(), ErrDimensionMismatch)
}
