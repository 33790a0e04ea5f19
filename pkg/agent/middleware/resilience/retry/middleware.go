package retry

import (
	"context"
	"fmt"
	"time"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/llmerrors"
	"foamagent/pkg/logx"
)

// Middleware wraps an LLM client with retry logic. When a retryable error
// survives every attempt it is converted into ServiceUnavailable.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var resp llm.CompletionResponse
				err := do(ctx, policy, logger, next.GetModelName(), func() error {
					var callErr error
					resp, callErr = next.Complete(ctx, req)
					return callErr
				})
				return resp, err
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				var ch <-chan llm.StreamChunk
				err := do(ctx, policy, logger, next.GetModelName(), func() error {
					var callErr error
					ch, callErr = next.Stream(ctx, req)
					return callErr
				})
				return ch, err
			},
			next.GetModelName,
		)
	}
}

func do(ctx context.Context, policy *Policy, logger *logx.Logger, model string, call func() error) error {
	var lastErr error

	for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if delay := policy.CalculateDelay(attempt); delay > 0 {
				select {
				case <-ctx.Done():
					return fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !policy.ShouldRetry(lastErr) || attempt >= policy.Config.MaxAttempts {
			break
		}
		if logger != nil {
			logger.Warn("🔁 %s attempt %d/%d failed: %v", model, attempt, policy.Config.MaxAttempts, lastErr)
		}
	}

	if policy.ShouldRetry(lastErr) {
		return llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
	}
	return lastErr
}
