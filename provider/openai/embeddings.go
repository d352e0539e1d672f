package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nevindra/lolo"
)

// Embedder calls the /embeddings endpoint.
type Embedder struct {
	provider   *Provider
	model      string
	dimensions int
}

var _ lolo.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedding client sharing the provider's HTTP
// transport and credentials.
func NewEmbedder(apiKey, model, baseURL string, dimensions int, opts ...Option) *Embedder {
	return &Embedder{
		provider:   New(apiKey, model, baseURL, opts...),
		model:      model,
		dimensions: dimensions,
	}
}

// Dimensions returns the configured embedding width.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed returns one vector per input text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := struct {
		Model      string   `json:"model"`
		Input      []string `json:"input"`
		Dimensions int      `json:"dimensions,omitempty"`
	}{Model: e.model, Input: texts, Dimensions: e.dimensions}

	wire, err := e.provider.do(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, &lolo.ErrProvider{Provider: "openai", Message: fmt.Sprintf("decode embeddings: %v", err)}
	}
	if len(resp.Data) != len(texts) {
		return nil, &lolo.ErrProvider{Provider: "openai", Message: fmt.Sprintf("embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))}
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, &lolo.ErrProvider{Provider: "openai", Message: "embeddings: index out of range"}
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// EmbeddingFunc adapts the embedder to chromem's embedding callback.
func (e *Embedder) EmbeddingFunc(logger *slog.Logger) func(ctx context.Context, text string) ([]float32, error) {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := e.Embed(ctx, []string{text})
		if err != nil {
			if logger != nil {
				logger.Warn("embedding failed", "error", err)
			}
			return nil, err
		}
		return vecs[0], nil
	}
}
