// Package ratelimit paces LLM requests per model with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines pacing for one model.
type Config struct {
	RequestsPerSecond float64 `json:"requests_per_second"` // 0 disables request pacing
	Burst             int     `json:"burst"`
	TokensPerMinute   int     `json:"tokens_per_minute"` // 0 disables token pacing
}

// Limiter paces requests and estimated tokens.
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	tpm      int
}

// NewLimiter builds a limiter from cfg. Zero rates mean unlimited.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{tpm: cfg.TokensPerMinute}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		l.requests = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.TokensPerMinute > 0 {
		l.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), cfg.TokensPerMinute)
	}
	return l
}

// Acquire blocks until a request slot and the estimated tokens are available.
// It returns how long the caller waited.
func (l *Limiter) Acquire(ctx context.Context, tokens int) (time.Duration, error) {
	start := time.Now()
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return time.Since(start), fmt.Errorf("request rate limit: %w", err)
		}
	}
	if l.tokens != nil && tokens > 0 {
		if tokens > l.tpm {
			tokens = l.tpm
		}
		if err := l.tokens.WaitN(ctx, tokens); err != nil {
			return time.Since(start), fmt.Errorf("token rate limit: %w", err)
		}
	}
	return time.Since(start), nil
}

// LimiterMap hands out one limiter per model, created on first use.
type LimiterMap struct {
	limiters map[string]*Limiter
	defaults Config
	mu       sync.Mutex
}

// NewLimiterMap creates a map whose limiters all use cfg.
func NewLimiterMap(cfg Config) *LimiterMap {
	return &LimiterMap{limiters: make(map[string]*Limiter), defaults: cfg}
}

// Get returns the limiter for model.
func (m *LimiterMap) Get(model string) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[model]
	if !ok {
		l = NewLimiter(m.defaults)
		m.limiters[model] = l
	}
	return l
}
