package metrics

import (
	"context"
	"time"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/llmerrors"
	"foamagent/pkg/config"
	"foamagent/pkg/logx"
	"foamagent/pkg/utils"
)

// Middleware records latency, token usage, cost and error type for every
// request made on behalf of component.
func Middleware(recorder Recorder, counter *utils.TokenCounter, component string, logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				errorType := ""
				if err == nil {
					promptTokens = counter.CountTokens(req.PromptText())
					completionTokens = counter.CountTokens(resp.Content)
				} else {
					errorType = llmerrors.Classify(err).String()
				}
				cost := config.CalculateCost(model, promptTokens, completionTokens)

				recorder.ObserveRequest(model, component, promptTokens, completionTokens, cost, err == nil, errorType, duration)

				if logger != nil {
					status := "success"
					if err != nil {
						status = "error"
					}
					logger.Info("🎯 LLM Request: model=%s component=%s tokens=%d+%d status=%s duration=%dms",
						model, component, promptTokens, completionTokens, status, duration.Milliseconds())
				}
				return resp, err //nolint:wrapcheck // middleware passes errors through unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				ch, err := next.Stream(ctx, req)

				errorType := ""
				if err != nil {
					errorType = llmerrors.Classify(err).String()
				}
				// Token counts for streams would require draining the channel.
				recorder.ObserveRequest(next.GetModelName(), component, 0, 0, 0, err == nil, errorType, time.Since(start))
				return ch, err //nolint:wrapcheck // middleware passes errors through unchanged
			},
			next.GetModelName,
		)
	}
}
