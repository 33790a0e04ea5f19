package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"foamagent/pkg/agent/llm"
)

func TestConvertMessages(t *testing.T) {
	contents, system := convertMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("q"),
		llm.NewAssistantMessage("a"),
	})
	assert.Equal(t, "sys", system)
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "a", contents[1].Parts[0].Text)
}

func TestGetModelName(t *testing.T) {
	assert.Equal(t, "gemini-2.5-flash", NewGeminiClientWithModel("k", "gemini-2.5-flash").GetModelName())
}
