package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"foamagent/pkg/config"
)

// Embedder turns texts into fixed-size vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	// Name identifies provider and model; an index only accepts query
	// vectors from the embedder that built it.
	Name() string
}

// HashEmbedder is a deterministic feature-hashing embedder. It needs no
// network and is the default for offline indexing and tests.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder returns a hashing embedder of the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = config.DefaultEmbeddingDimension
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed hashes word unigrams and bigrams into buckets and L2-normalizes.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dimension)
	tokens := tokenize(text)
	add := func(feature string, weight float32) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(feature))
		sum := f.Sum64()
		bucket := int(sum % uint64(h.dimension))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[bucket] += weight
	}
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// Dimension implements Embedder.
func (h *HashEmbedder) Dimension() int { return h.dimension }

// Name implements Embedder.
func (h *HashEmbedder) Name() string { return fmt.Sprintf("hash/%d", h.dimension) }

// NewEmbedder builds the embedder named by cfg. Remote providers resolve
// their credentials through secrets.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig, secrets *config.Secrets) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", config.EmbeddingHash:
		return NewHashEmbedder(cfg.Dimension), nil
	case config.EmbeddingOpenAI:
		key, err := config.APIKey(secrets, config.ProviderOpenAI)
		if err != nil {
			return nil, err
		}
		return NewOpenAIEmbedder(key, cfg.Model, cfg.Dimension, cfg.BaseURL), nil
	case config.EmbeddingOllama:
		host := cfg.BaseURL
		if host == "" {
			var err error
			if host, err = config.APIKey(secrets, config.ProviderOllama); err != nil {
				return nil, err
			}
		}
		return NewOllamaEmbedder(host, cfg.Model, cfg.Dimension), nil
	case config.EmbeddingGemini:
		key, err := config.APIKey(secrets, config.ProviderGoogle)
		if err != nil {
			return nil, err
		}
		return NewGeminiEmbedder(ctx, key, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}

func checkCount(got, want int) error {
	if got != want {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", got, want)
	}
	return nil
}
