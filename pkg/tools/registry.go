// Package tools exposes the pipeline operations as structured tools with a
// JSON schema input, for agents and scripts that drive foamagent.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool name constants - use these instead of magic strings to prevent typos.
const (
	ToolPlanCase         = "plan_case"
	ToolWriteFile        = "write_file"
	ToolRunCase          = "run_case"
	ToolDiagnoseRun      = "diagnose_run"
	ToolSolveRequirement = "solve_requirement"
)

// Property describes one input field.
type Property struct {
	Type                 string               `json:"type"`
	Description          string               `json:"description,omitempty"`
	Items                *Property            `json:"items,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	AdditionalProperties *Property            `json:"additionalProperties,omitempty"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition describes a tool to its caller.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ToolChannel defines the interface for tool implementations. Calls share
// no hidden state: everything a call needs arrives in args.
type ToolChannel interface {
	// Name returns the tool's identifier
	Name() string
	// Definition returns the tool's schema
	Definition() ToolDefinition
	// Exec executes the tool with the given arguments
	Exec(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Registry manages registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolChannel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolChannel)}
}

// Register adds a tool to this registry.
func (r *Registry) Register(tool ToolChannel) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get retrieves a tool from this registry.
func (r *Registry) Get(name string) (ToolChannel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return tool, nil
}

// Definitions returns the definitions of every tool sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Exec looks up name and runs it.
func (r *Registry) Exec(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return tool.Exec(ctx, args)
}
