package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"foamagent/pkg/agent/llm"
)

type scripted struct {
	err     error
	content string
}

// ScriptedLLM implements llm.LLMClient with queued and computed answers.
type ScriptedLLM struct {
	responder func(req llm.CompletionRequest) (string, error)
	modelName string
	queue     []scripted
	calls     []llm.CompletionRequest
	mu        sync.Mutex
}

// NewScriptedLLM creates a mock reporting modelName.
func NewScriptedLLM(modelName string) *ScriptedLLM {
	return &ScriptedLLM{modelName: modelName}
}

// QueueResponse appends a successful answer.
func (m *ScriptedLLM) QueueResponse(content string) *ScriptedLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scripted{content: content})
	return m
}

// QueueError appends a failing answer.
func (m *ScriptedLLM) QueueError(err error) *ScriptedLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scripted{err: err})
	return m
}

// Respond installs a function answering requests once the queue is drained.
func (m *ScriptedLLM) Respond(fn func(req llm.CompletionRequest) (string, error)) *ScriptedLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
	return m
}

// Complete implements llm.LLMClient.
func (m *ScriptedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err //nolint:wrapcheck // mirror provider behavior
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	var next *scripted
	if len(m.queue) > 0 {
		next = &m.queue[0]
		m.queue = m.queue[1:]
	}
	responder := m.responder
	m.mu.Unlock()

	switch {
	case next != nil && next.err != nil:
		return llm.CompletionResponse{}, next.err
	case next != nil:
		return llm.CompletionResponse{Content: next.content, StopReason: "end_turn"}, nil
	case responder != nil:
		content, err := responder(req)
		if err != nil {
			return llm.CompletionResponse{}, err
		}
		return llm.CompletionResponse{Content: content, StopReason: "end_turn"}, nil
	default:
		return llm.CompletionResponse{}, fmt.Errorf("scripted llm: no response left for call %d", m.CallCount())
	}
}

// Stream implements llm.LLMClient as a single chunk.
func (m *ScriptedLLM) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.CompleteStream(ctx, m, req)
}

// GetModelName implements llm.LLMClient.
func (m *ScriptedLLM) GetModelName() string {
	return m.modelName
}

// CallCount returns how many requests were made.
func (m *ScriptedLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of every request received.
func (m *ScriptedLLM) Calls() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastPrompt returns the concatenated text of the last request.
func (m *ScriptedLLM) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1].PromptText()
}

// PromptsContaining counts requests whose text contains substr.
func (m *ScriptedLLM) PromptsContaining(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.calls {
		if strings.Contains(m.calls[i].PromptText(), substr) {
			n++
		}
	}
	return n
}
