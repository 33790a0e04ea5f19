package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/internal/mocks"
	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/middleware/metrics"
	"foamagent/pkg/config"
)

func testFactory(t *testing.T, mock *mocks.ScriptedLLM) *ClientFactory {
	t.Helper()
	cfg := config.Default()
	cfg.Models.Architect = "qwen2.5-coder:14b"
	cfg.Models.Writer = "qwen2.5-coder:14b"
	cfg.Models.Reviewer = "qwen2.5-coder:14b"
	cfg.LLM.InitialDelayMs = 1
	cfg.LLM.MaxDelayMs = 2
	recorder := metrics.NewPrometheusRecorder(prometheus.NewRegistry())
	return NewClientFactory(cfg, config.NewSecrets(nil), recorder).
		WithRawClientBuilder(func(provider, _, _ string) (llm.LLMClient, error) {
			if provider != config.ProviderOllama {
				return nil, errors.New("unexpected provider")
			}
			return mock, nil
		})
}

func TestClientIsCachedPerComponent(t *testing.T) {
	mock := mocks.NewScriptedLLM("qwen2.5-coder:14b")
	f := testFactory(t, mock)

	a, err := f.Client(ComponentArchitect)
	require.NoError(t, err)
	b, err := f.Client(ComponentArchitect)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "qwen2.5-coder:14b", a.GetModelName())
}

func TestClientRetriesThroughChain(t *testing.T) {
	mock := mocks.NewScriptedLLM("qwen2.5-coder:14b").
		QueueError(errors.New("503 overloaded")).
		QueueResponse("ok")
	f := testFactory(t, mock)

	client, err := f.Client(ComponentWriter)
	require.NoError(t, err)
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, mock.CallCount())
}

func TestUnknownComponent(t *testing.T) {
	f := testFactory(t, mocks.NewScriptedLLM("m"))
	_, err := f.Client(Component("pm"))
	assert.Error(t, err)
}

func TestNewRawClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewRawClient("acme", "k", "m")
	assert.Error(t, err)
}
