package engram

import (
	"context"
	"fmt"

	"engram/internal/config"
	"engram/internal/llm"
)

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint via
// internal/llm.GenerateEmbeddings, the same HTTP client shape the teacher
// uses for its own embedding calls.
type HTTPEmbedder struct {
	host   string
	apiKey string
	model  string
	dim    int
}

// NewHTTPEmbedder builds an Embedder from the daemon's embedding config.
func NewHTTPEmbedder(cfg config.EmbeddingConfig) *HTTPEmbedder {
	dim := cfg.Dim
	if dim <= 0 {
		dim = 768
	}
	return &HTTPEmbedder{host: cfg.Host, apiKey: cfg.APIKey, model: cfg.Model, dim: dim}
}

// Embed fetches a single embedding, reusing GenerateEmbeddings' batch path
// with a one-element input.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := llm.GenerateEmbeddings(ctx, e.host, e.apiKey, e.model, e.dim, []string{text})
	if err != nil {
		return nil, fmt.Errorf("engram: generate embedding: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("engram: embedding service returned no vectors")
	}
	return vecs[0], nil
}
