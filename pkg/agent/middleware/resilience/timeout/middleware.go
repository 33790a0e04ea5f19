// Package timeout provides per-request timeout middleware for LLM clients.
package timeout

import (
	"context"
	"time"

	"foamagent/pkg/agent/llm"
)

// Middleware bounds every Complete call by duration. Streams only bound the
// call that opens them; the stream itself lives as long as the caller's ctx.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if duration <= 0 {
					return next.Complete(ctx, req)
				}
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(timeoutCtx, req)
			},
			next.Stream,
			next.GetModelName,
		)
	}
}
