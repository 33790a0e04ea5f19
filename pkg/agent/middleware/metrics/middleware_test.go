package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/internal/mocks"
	"foamagent/pkg/agent/llm"
	"foamagent/pkg/utils"
)

func TestMiddlewareRecordsSuccessAndFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(reg)

	mock := mocks.NewScriptedLLM("claude-sonnet-4-5")
	mock.QueueResponse("FoamFile {}")
	mock.QueueError(errors.New("401 Unauthorized"))

	client := llm.Chain(mock, Middleware(recorder, utils.NewTokenCounter(), "writer", nil))
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("write 0/U")})

	_, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), req)
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(recorder.requestsTotal.WithLabelValues("claude-sonnet-4-5", "writer", "success", "")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(recorder.requestsTotal.WithLabelValues("claude-sonnet-4-5", "writer", "error", "auth")), 1e-9)
	assert.Greater(t, testutil.ToFloat64(recorder.tokensTotal.WithLabelValues("claude-sonnet-4-5", "writer", "prompt")), 0.0)
}

func TestNopRecorder(t *testing.T) {
	mock := mocks.NewScriptedLLM("m")
	mock.QueueResponse("x")
	client := llm.Chain(mock, Middleware(Nop(), utils.NewTokenCounter(), "architect", nil))
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	assert.NoError(t, err)
}
