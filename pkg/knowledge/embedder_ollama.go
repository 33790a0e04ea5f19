package knowledge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

const defaultOllamaEmbeddingModel = "nomic-embed-text"

// OllamaEmbedder calls a local Ollama server's /api/embed.
type OllamaEmbedder struct {
	client    *api.Client
	model     string
	dimension int
}

// NewOllamaEmbedder creates an embedder against hostURL.
func NewOllamaEmbedder(hostURL, model string, dim int) *OllamaEmbedder {
	if model == "" {
		model = defaultOllamaEmbeddingModel
	}
	u, err := url.Parse(hostURL)
	if err != nil || u.Host == "" {
		u, _ = url.Parse("http://127.0.0.1:11434")
	}
	return &OllamaEmbedder{client: api.NewClient(u, http.DefaultClient), model: model, dimension: dim}
}

// Embed implements Embedder.
func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if err := checkCount(len(resp.Embeddings), len(texts)); err != nil {
		return nil, err
	}
	if o.dimension == 0 && len(resp.Embeddings) > 0 {
		o.dimension = len(resp.Embeddings[0])
	}
	return resp.Embeddings, nil
}

// Dimension implements Embedder.
func (o *OllamaEmbedder) Dimension() int { return o.dimension }

// Name implements Embedder.
func (o *OllamaEmbedder) Name() string { return "ollama/" + o.model }
