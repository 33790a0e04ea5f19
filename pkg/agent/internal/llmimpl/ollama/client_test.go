package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/llmerrors"
)

func TestClassifyError(t *testing.T) {
	assert.True(t, llmerrors.Is(classifyError(errors.New("dial tcp: connection refused")), llmerrors.ErrorTypeTransient))
	assert.True(t, llmerrors.Is(classifyError(errors.New(`model "x" not found`)), llmerrors.ErrorTypeBadPrompt))
}

func TestCompleteAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"qwen2.5-coder:14b","message":{"role":"assistant","content":"hello"},"done":true,"done_reason":"stop"}`))
	}))
	defer srv.Close()

	client := NewOllamaClientWithModel(srv.URL, "qwen2.5-coder:14b")
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
}
