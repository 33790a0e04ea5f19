// Package llm provides interfaces and types for Large Language Model client implementations.
package llm

import (
	"context"
	"strings"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the assistant.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens caps a single completion unless the caller overrides it.
	DefaultMaxTokens = 4096

	// TemperatureDefault is used for planning and diagnosis.
	TemperatureDefault = 0.3

	// TemperatureDeterministic is used when producing case files.
	TemperatureDeterministic = 0.2
)

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// StreamChunk represents a chunk of streamed completion response.
type StreamChunk struct {
	Error   error
	Content string
	Done    bool
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // established name across providers
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as a stream of chunks.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// GetModelName returns the model name for this client.
	GetModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}

// PromptText joins the content of every message, used for token estimates.
func (r *CompletionRequest) PromptText() string {
	var sb strings.Builder
	for i := range r.Messages {
		sb.WriteString(r.Messages[i].Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// SplitSystem separates system messages from the conversation. Providers
// with a dedicated system field use it.
func SplitSystem(messages []CompletionMessage) (system string, rest []CompletionMessage) {
	var parts []string
	for i := range messages {
		if messages[i].Role == RoleSystem {
			parts = append(parts, messages[i].Content)
			continue
		}
		rest = append(rest, messages[i])
	}
	return strings.Join(parts, "\n\n"), rest
}

// CompleteStream adapts a synchronous Complete into a single-chunk stream.
func CompleteStream(ctx context.Context, client LLMClient, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: resp.Content, Done: true}
	close(ch)
	return ch, nil
}

// Collect drains a stream into a single string.
func Collect(stream <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return sb.String(), chunk.Error
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}
