package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoClient struct{}

func (echoClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{Content: req.Messages[len(req.Messages)-1].Content}, nil
}

func (e echoClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return CompleteStream(ctx, e, req)
}

func (echoClient) GetModelName() string { return "echo" }

func tagging(tag string, order *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				*order = append(*order, tag)
				return next.Complete(ctx, req)
			},
			next.Stream,
			next.GetModelName,
		)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	client := Chain(echoClient{}, tagging("outer", &order), tagging("inner", &order))

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, "echo", client.GetModelName())
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]CompletionMessage{
		NewSystemMessage("a"),
		NewUserMessage("q"),
		NewSystemMessage("b"),
		NewAssistantMessage("r"),
	})
	assert.Equal(t, "a\n\nb", system)
	require.Len(t, rest, 2)
	assert.Equal(t, RoleUser, rest[0].Role)
	assert.Equal(t, RoleAssistant, rest[1].Role)
}

func TestCollect(t *testing.T) {
	ch := make(chan StreamChunk, 3)
	ch <- StreamChunk{Content: "ab"}
	ch <- StreamChunk{Content: "cd"}
	close(ch)
	out, err := Collect(ch)
	require.NoError(t, err)
	assert.Equal(t, "abcd", out)

	boom := errors.New("boom")
	ch = make(chan StreamChunk, 2)
	ch <- StreamChunk{Content: "x"}
	ch <- StreamChunk{Error: boom}
	close(ch)
	out, err = Collect(ch)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "x", out)
}

func TestNewCompletionRequestDefaults(t *testing.T) {
	req := NewCompletionRequest(nil)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, TemperatureDefault, req.Temperature, 1e-6)
}
