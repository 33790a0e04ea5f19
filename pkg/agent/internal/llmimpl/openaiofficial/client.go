// Package openaiofficial provides OpenAI client implementation using the official OpenAI Go package.
package openaiofficial

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/llmerrors"
	"foamagent/pkg/config"
)

const providerName = "openai"

// OfficialClient wraps the official OpenAI Go client to implement llm.LLMClient interface.
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a raw OpenAI client. Middleware is applied by the factory.
func NewOfficialClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// flattenInput renders the conversation as a single Responses API input.
// System text goes into Instructions.
func flattenInput(messages []llm.CompletionMessage) (instructions, input string) {
	system, rest := llm.SplitSystem(messages)
	var sb strings.Builder
	for i := range rest {
		switch rest[i].Role {
		case llm.RoleAssistant:
			fmt.Fprintf(&sb, "Assistant: %s\n\n", rest[i].Content)
		default:
			sb.WriteString(rest[i].Content)
			sb.WriteString("\n\n")
		}
	}
	return system, strings.TrimSpace(sb.String())
}

// Complete implements the llm.LLMClient interface using the Responses API.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, input := flattenInput(in.Messages)
	if input == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "no user input in request")
	}

	// Cap MaxTokens to the model's limit to prevent API errors.
	maxTokens := in.MaxTokens
	if info, ok := config.KnownModels[o.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(err, providerName)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}
	content := resp.OutputText()
	if content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "OpenAI response contained no output text")
	}
	return llm.CompletionResponse{
		Content:    content,
		StopReason: string(resp.Status),
	}, nil
}

// Stream implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *OfficialClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.CompleteStream(ctx, o, in)
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}
