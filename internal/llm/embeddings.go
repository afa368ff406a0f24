// internal/llm/embeddings.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"engram/internal/observability"
)

// EmbeddingRequest defines the request structure for generating embeddings.
type EmbeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

// EmbeddingResponse defines the response structure from the embedding service.
type EmbeddingResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
}

// Embedding represents a single embedding result.
type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// GenerateEmbeddings generates embeddings for the provided text chunks against
// an OpenAI-compatible embeddings endpoint, fanning out with bounded
// concurrency. Chunks that are too short or fail to embed fall back to a
// zero vector of width dim so callers get a result slice the same length as
// chunks rather than a partial failure.
func GenerateEmbeddings(ctx context.Context, host, apiKey, model string, dim int, chunks []string) ([][]float32, error) {
	results := make([][]float32, len(chunks))
	var wg sync.WaitGroup
	// limit to 5 concurrent embedding requests
	sem := make(chan struct{}, 5)
	log := observability.LoggerWithTrace(ctx)

	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Skip if chunk is too short to be meaningful
			if len(strings.TrimSpace(chunk)) < 10 {
				log.Warn().Int("index", i).Msg("embedding_chunk_too_short")
				results[i] = make([]float32, dim)
				return
			}

			embeddingRequest := EmbeddingRequest{
				Input:          []string{chunk},
				Model:          model,
				EncodingFormat: "float",
			}

			singleEmbedding, err := FetchEmbeddings(ctx, host, embeddingRequest, apiKey)
			if err != nil {
				log.Warn().Err(err).Int("index", i).Msg("embedding_fetch_failed")
				results[i] = make([]float32, dim)
			} else if len(singleEmbedding) > 0 {
				results[i] = singleEmbedding[0]
			} else {
				log.Warn().Int("index", i).Msg("embedding_empty_result")
				results[i] = make([]float32, dim)
			}
		}(i, chunk)
	}

	wg.Wait()
	return results, nil
}

// FetchEmbeddings sends the embedding request to the specified host and parses the response.
func FetchEmbeddings(ctx context.Context, host string, request EmbeddingRequest, apiKey string) ([][]float32, error) {
	b, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewBuffer(b))
	if err != nil {
		return nil, err
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", apiKey))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status code: %d", resp.StatusCode)
	}

	var result EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Data))
	for _, item := range result.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		embeddings[item.Index] = vec
	}
	return embeddings, nil
}
