package ratelimit

import (
	"context"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/middleware/metrics"
	"foamagent/pkg/utils"
)

// Middleware waits for the model's limiter before each request. Token demand
// is the prompt estimate plus the requested completion budget.
func Middleware(limiters *LimiterMap, counter *utils.TokenCounter, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	acquire := func(ctx context.Context, model string, req *llm.CompletionRequest) error {
		tokens := counter.CountTokens(req.PromptText()) + req.MaxTokens
		waited, err := limiters.Get(model).Acquire(ctx, tokens)
		recorder.ObserveQueueWait(model, waited)
		if err != nil {
			recorder.IncThrottle(model, "rate_limit")
		}
		return err
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if err := acquire(ctx, next.GetModelName(), &req); err != nil {
					return llm.CompletionResponse{}, err
				}
				return next.Complete(ctx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				if err := acquire(ctx, next.GetModelName(), &req); err != nil {
					return nil, err
				}
				return next.Stream(ctx, req)
			},
			next.GetModelName,
		)
	}
}
