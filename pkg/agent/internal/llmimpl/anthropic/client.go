// Package anthropic provides Anthropic Claude client implementation for LLM interface.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/llmerrors"
)

const providerName = "anthropic"

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient interface.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw Claude client. Middleware is applied by the factory.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// mergeAlternating folds consecutive messages with the same role together.
// The Messages API rejects two user turns in a row, and the first turn must
// be a user turn.
func mergeAlternating(messages []llm.CompletionMessage) ([]llm.CompletionMessage, error) {
	merged := make([]llm.CompletionMessage, 0, len(messages))
	for i := range messages {
		msg := messages[i]
		if n := len(merged); n > 0 && merged[n-1].Role == msg.Role {
			merged[n-1].Content = strings.Join([]string{merged[n-1].Content, msg.Content}, "\n\n")
			continue
		}
		merged = append(merged, msg)
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("no user or assistant messages")
	}
	if merged[0].Role != llm.RoleUser {
		return nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	return merged, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	system, rest := llm.SplitSystem(in.Messages)
	turns, err := mergeAlternating(rest)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for i := range turns {
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(turns[i].Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(turns[i].Content)},
		})
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(err, providerName)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var sb strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			sb.WriteString(resp.Content[i].Text)
		}
	}
	if sb.Len() == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "Claude response contained no text blocks")
	}
	return llm.CompletionResponse{
		Content:    sb.String(),
		StopReason: string(resp.StopReason),
	}, nil
}

// Stream implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.CompleteStream(ctx, c, in)
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}
