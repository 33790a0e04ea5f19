// Package google provides Google Gemini client implementation for LLM interface.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/llmerrors"
)

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient interface.
type GeminiClient struct {
	client *genai.Client
	err    error
	apiKey string
	model  string
	once   sync.Once
}

// NewGeminiClientWithModel creates a raw Gemini client. The SDK client needs
// a context, so it is built on first use.
func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.client, g.err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if g.err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, g.err, fmt.Sprintf("failed to create Gemini client: %v", g.err))
	}
	return g.client, nil
}

// convertMessages maps conversation turns to Gemini contents. Gemini calls
// the assistant role "model".
func convertMessages(messages []llm.CompletionMessage) (contents []*genai.Content, system string) {
	system, rest := llm.SplitSystem(messages)
	for i := range rest {
		role := genai.Role(genai.RoleUser)
		if rest[i].Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(rest[i].Content, role))
	}
	return contents, system
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, system := convertMessages(in.Messages)
	if len(contents) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "no user messages in request")
	}

	temperature := in.Temperature
	//nolint:gosec // MaxTokens bounded by config validation
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(err, "gemini")
	}
	if result == nil || result.Text() == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	stopReason := "end_turn"
	if len(result.Candidates) > 0 && result.Candidates[0].FinishReason != "" {
		stopReason = string(result.Candidates[0].FinishReason)
	}
	return llm.CompletionResponse{Content: result.Text(), StopReason: stopReason}, nil
}

// Stream implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.CompleteStream(ctx, g, in)
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}
