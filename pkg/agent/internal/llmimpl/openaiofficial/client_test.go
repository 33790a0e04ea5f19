package openaiofficial

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/pkg/agent/llm"
)

func TestFlattenInput(t *testing.T) {
	instructions, input := flattenInput([]llm.CompletionMessage{
		llm.NewSystemMessage("be terse"),
		llm.NewUserMessage("plan the case"),
		llm.NewAssistantMessage("ok"),
		llm.NewUserMessage("now the files"),
	})
	assert.Equal(t, "be terse", instructions)
	assert.Equal(t, "plan the case\n\nAssistant: ok\n\nnow the files", input)
}

func TestCompleteAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp_1","object":"response","created_at":0,"model":"gpt-4o","status":"completed",
"output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed",
"content":[{"type":"output_text","text":"done","annotations":[]}]}]}`))
	}))
	defer srv.Close()

	client := NewOfficialClientWithModel("test-key", "gpt-4o", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "gpt-4o", client.GetModelName())
}

func TestCompleteRejectsEmptyInput(t *testing.T) {
	client := NewOfficialClientWithModel("test-key", "gpt-4o")
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewSystemMessage("only system")}))
	assert.Error(t, err)
}
