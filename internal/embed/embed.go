// Package embed implements the embedding collaborator on the Gemini API.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "gemini-embedding-001"

// EmbeddingError reports a failed embedding call. Retryable: workers route
// it into the queue's backoff path.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed with %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Gemini produces embeddings through the Gemini API with a configurable
// output dimensionality. Safe for concurrent use.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates an embedder. An empty model picks DefaultModel; a nil
// logger falls back to slog.Default(). The API key comes from the client
// config or the GEMINI_API_KEY environment variable.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{client: client, model: model, logger: logger}, nil
}

// Embed returns a vector of exactly the requested dimension for the text.
func (g *Gemini) Embed(ctx context.Context, text string, dimension int) ([]float32, error) {
	dim := int32(dimension)

	resp, err := g.client.Models.EmbedContent(ctx, g.model,
		genai.Text(text),
		&genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return nil, &EmbeddingError{Model: g.model, Err: err}
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, &EmbeddingError{Model: g.model, Err: fmt.Errorf("empty embedding response")}
	}

	values := resp.Embeddings[0].Values
	if len(values) != dimension {
		return nil, &EmbeddingError{Model: g.model,
			Err: fmt.Errorf("got %d values, want %d", len(values), dimension)}
	}

	return values, nil
}
