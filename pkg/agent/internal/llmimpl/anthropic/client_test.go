package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/llmerrors"
)

func TestMergeAlternating(t *testing.T) {
	merged, err := mergeAlternating([]llm.CompletionMessage{
		llm.NewUserMessage("a"),
		llm.NewUserMessage("b"),
		llm.NewAssistantMessage("c"),
		llm.NewUserMessage("d"),
	})
	require.NoError(t, err)
	require.Len(t, merged, 3)
	assert.Equal(t, "a\n\nb", merged[0].Content)

	_, err = mergeAlternating([]llm.CompletionMessage{llm.NewAssistantMessage("x")})
	assert.Error(t, err)

	_, err = mergeAlternating(nil)
	assert.Error(t, err)
}

func TestCompleteAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",
"content":[{"type":"text","text":"FoamFile ok"}],"stop_reason":"end_turn",
"usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	client := NewClaudeClientWithModel("test-key", "claude-sonnet-4-5",
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("you write OpenFOAM files"),
		llm.NewUserMessage("write controlDict"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "FoamFile ok", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "claude-sonnet-4-5", client.GetModelName())
}

func TestCompleteClassifiesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"rate limit"}}`))
	}))
	defer srv.Close()

	client := NewClaudeClientWithModel("test-key", "claude-sonnet-4-5",
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))
}
