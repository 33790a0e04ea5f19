package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultGeminiEmbeddingModel = "gemini-embedding-001"
	geminiRetryDelay            = 6 * time.Second
	geminiMaxRetries            = 5
)

// GeminiEmbedder implements Embedder using Google's Gemini API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGeminiEmbedder creates the genai client eagerly so a bad key fails at
// start-up rather than mid-index.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dim int) (*GeminiEmbedder, error) {
	if model == "" {
		model = defaultGeminiEmbeddingModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, dimension: dim}, nil
}

// Embed implements Embedder. Rate-limited calls are retried with a fixed
// delay.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var cfg *genai.EmbedContentConfig
	if g.dimension > 0 {
		dim := int32(g.dimension)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	var res *genai.EmbedContentResponse
	var err error
	for attempt := 0; attempt <= geminiMaxRetries; attempt++ {
		res, err = g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
		if err == nil {
			break
		}
		if !isRateLimitError(err) || attempt == geminiMaxRetries {
			return nil, fmt.Errorf("failed to embed text: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(geminiRetryDelay):
		}
	}
	if err := checkCount(len(res.Embeddings), len(texts)); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for _, emb := range res.Embeddings {
		out = append(out, emb.Values)
	}
	return out, nil
}

// Dimension implements Embedder.
func (g *GeminiEmbedder) Dimension() int { return g.dimension }

// Name implements Embedder.
func (g *GeminiEmbedder) Name() string { return "gemini/" + g.model }

func isRateLimitError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED")
}
