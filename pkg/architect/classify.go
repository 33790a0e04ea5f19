package architect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/templates"
)

// MaxClassifyAttempts bounds the classification call: one try plus two
// retries with the parse error fed back.
const MaxClassifyAttempts = 3

const classifySystemPrompt = "You are an experienced OpenFOAM engineer. You classify simulation requirements into tutorial case metadata and answer only with JSON."

// CaseInfo is the structured classification of a requirement.
type CaseInfo struct {
	Name        string `json:"case_name"`
	Domain      string `json:"case_domain"`
	Category    string `json:"case_category"`
	Solver      string `json:"case_solver"`
	Description string `json:"description"`
}

// QueryText renders the info the way case layouts are indexed.
func (c *CaseInfo) QueryText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "case %s solver %s domain %s", c.Name, c.Solver, c.Domain)
	if c.Category != "" {
		fmt.Fprintf(&sb, " category %s", c.Category)
	}
	if c.Description != "" {
		sb.WriteString("\n" + c.Description)
	}
	return sb.String()
}

func (a *Architect) classify(ctx context.Context, requirement string) (*CaseInfo, error) {
	solvers, domains, categories := a.retriever.Index().Facets()
	prompt, err := a.renderer.Render(templates.ClassifyTemplate, &templates.TemplateData{
		Requirement: requirement,
		Solvers:     solvers,
		Domains:     domains,
		Categories:  categories,
	})
	if err != nil {
		return nil, err
	}

	messages := []llm.CompletionMessage{
		llm.NewSystemMessage(classifySystemPrompt),
		llm.NewUserMessage(prompt),
	}
	var lastErr error
	for attempt := 1; attempt <= MaxClassifyAttempts; attempt++ {
		req := llm.NewCompletionRequest(messages)
		req.Temperature = llm.TemperatureDeterministic
		resp, err := a.client.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("classification call failed: %w", err)
		}
		info, err := parseCaseInfo(resp.Content)
		if err == nil {
			return info, nil
		}
		lastErr = err
		a.logger.Warn("Classification attempt %d/%d unusable: %v", attempt, MaxClassifyAttempts, err)
		messages = append(messages,
			llm.NewAssistantMessage(resp.Content),
			llm.NewUserMessage(fmt.Sprintf("Your answer could not be used: %v. Reply again with only the JSON object.", err)),
		)
	}
	return nil, fmt.Errorf("classification failed after %d attempts: %w", MaxClassifyAttempts, lastErr)
}

var errNoJSON = errors.New("no JSON object found")

// parseCaseInfo accepts a bare object or one wrapped in prose or fences.
func parseCaseInfo(raw string) (*CaseInfo, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, errNoJSON
	}
	var info CaseInfo
	if err := json.Unmarshal([]byte(raw[start:end+1]), &info); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	info.Solver = strings.TrimSpace(info.Solver)
	if info.Solver == "" {
		return nil, errors.New("case_solver is required")
	}
	info.Name = strings.Join(strings.Fields(info.Name), "_")
	if info.Name == "" {
		info.Name = "case"
	}
	info.Domain = strings.TrimSpace(info.Domain)
	info.Category = strings.TrimSpace(info.Category)
	return &info, nil
}
