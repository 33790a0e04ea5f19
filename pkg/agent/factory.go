package agent

import (
	"fmt"
	"sync"
	"time"

	"foamagent/pkg/agent/internal/llmimpl/anthropic"
	"foamagent/pkg/agent/internal/llmimpl/google"
	"foamagent/pkg/agent/internal/llmimpl/ollama"
	"foamagent/pkg/agent/internal/llmimpl/openaiofficial"
	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/middleware/metrics"
	"foamagent/pkg/agent/middleware/resilience/ratelimit"
	"foamagent/pkg/agent/middleware/resilience/retry"
	"foamagent/pkg/agent/middleware/resilience/timeout"
	"foamagent/pkg/config"
	"foamagent/pkg/logx"
	"foamagent/pkg/utils"
)

// Component names the pipeline stage a client serves. It selects the model
// and labels metrics.
type Component string

// Pipeline components backed by an LLM.
const (
	ComponentArchitect Component = "architect"
	ComponentWriter    Component = "writer"
	ComponentReviewer  Component = "reviewer"
)

// RawClientBuilder creates an unwrapped provider client. Tests replace it
// to avoid network access.
type RawClientBuilder func(provider, apiKey, model string) (llm.LLMClient, error)

// ClientFactory creates LLM clients with properly configured middleware chains.
type ClientFactory struct {
	cfg      *config.Config
	secrets  *config.Secrets
	recorder metrics.Recorder
	limiters *ratelimit.LimiterMap
	counter  *utils.TokenCounter
	build    RawClientBuilder

	mu      sync.Mutex
	clients map[Component]llm.LLMClient
}

// NewClientFactory creates a factory. A nil recorder disables metrics.
func NewClientFactory(cfg *config.Config, secrets *config.Secrets, recorder metrics.Recorder) *ClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &ClientFactory{
		cfg:      cfg,
		secrets:  secrets,
		recorder: recorder,
		limiters: ratelimit.NewLimiterMap(ratelimit.Config{
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			Burst:             1,
		}),
		counter: utils.NewTokenCounter(),
		build:   NewRawClient,
		clients: make(map[Component]llm.LLMClient),
	}
}

// WithRawClientBuilder swaps the provider constructor.
func (f *ClientFactory) WithRawClientBuilder(b RawClientBuilder) *ClientFactory {
	f.build = b
	return f
}

// ModelFor returns the configured model for a component.
func (f *ClientFactory) ModelFor(component Component) (string, error) {
	switch component {
	case ComponentArchitect:
		return f.cfg.Models.Architect, nil
	case ComponentWriter:
		return f.cfg.Models.Writer, nil
	case ComponentReviewer:
		return f.cfg.Models.Reviewer, nil
	default:
		return "", fmt.Errorf("unsupported component: %s", component)
	}
}

// Client returns the wrapped client for a component, creating it once.
func (f *ClientFactory) Client(component Component) (llm.LLMClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[component]; ok {
		return c, nil
	}

	model, err := f.ModelFor(component)
	if err != nil {
		return nil, err
	}
	client, err := f.createClientWithMiddleware(model, string(component))
	if err != nil {
		return nil, err
	}
	f.clients[component] = client
	return client, nil
}

// createClientWithMiddleware builds the chain
// Metrics -> Retry -> RateLimit -> Timeout -> RawClient.
func (f *ClientFactory) createClientWithMiddleware(model, component string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", model, err)
	}
	apiKey, err := config.APIKey(f.secrets, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}
	raw, err := f.build(provider, apiKey, model)
	if err != nil {
		return nil, err
	}

	logger := logx.NewLogger(component)
	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:   f.cfg.LLM.MaxAttempts,
		InitialDelay:  time.Duration(f.cfg.LLM.InitialDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(f.cfg.LLM.MaxDelayMs) * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        true,
	}, nil)

	return llm.Chain(raw,
		metrics.Middleware(f.recorder, f.counter, component, logger),
		retry.Middleware(policy, logger),
		ratelimit.Middleware(f.limiters, f.counter, f.recorder),
		timeout.Middleware(time.Duration(f.cfg.LLM.RequestTimeoutSec)*time.Second),
	), nil
}

// NewRawClient is the default RawClientBuilder.
func NewRawClient(provider, apiKey, model string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, model), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, model), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, model), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
