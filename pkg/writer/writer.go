// Package writer produces the content of one planned case file at a time
// and commits it only after it agrees with the files it depends on.
package writer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/agent/llmerrors"
	"foamagent/pkg/bundle"
	"foamagent/pkg/config"
	"foamagent/pkg/knowledge"
	"foamagent/pkg/logx"
	"foamagent/pkg/proto"
	"foamagent/pkg/templates"
	"foamagent/pkg/utils"
)

const systemPrompt = "You are an expert OpenFOAM engineer. You write complete, valid OpenFOAM case files that are consistent with the other files of the case."

// ConsistencyViolationError is returned when every attempt produced content
// that disagrees with its dependencies. Nothing was committed.
type ConsistencyViolationError struct {
	Path       string
	Violations []string
	Attempts   int
}

func (e *ConsistencyViolationError) Error() string {
	return fmt.Sprintf("%s is inconsistent after %d attempts: %s", e.Path, e.Attempts, strings.Join(e.Violations, "; "))
}

// WriteRequest asks for one planned file.
type WriteRequest struct {
	Entry       proto.PlannedFile
	Plan        *proto.GenerationPlan
	Requirement string
	Bundle      *bundle.CaseBundle
	Directive   string
}

// WriteResult describes the committed file.
type WriteResult struct {
	Path     string
	Content  string
	Attempts int
	Provided bool
}

// Writer generates case files.
type Writer struct {
	client      llm.LLMClient
	retriever   *knowledge.Retriever
	renderer    *templates.Renderer
	counter     *utils.TokenCounter
	maxAttempts int
	tokenBudget int
	retrieval   config.RetrievalConfig
	logger      *logx.Logger
}

// New creates a Writer.
func New(client llm.LLMClient, retriever *knowledge.Retriever, cfg *config.Config) *Writer {
	attempts := cfg.Writer.MaxConsistencyRetries
	if attempts < 1 {
		attempts = config.DefaultMaxConsistencyRetries
	}
	budget := cfg.Writer.ContextTokenBudget
	if budget < 1 {
		budget = 12000
	}
	return &Writer{
		client:      client,
		retriever:   retriever,
		renderer:    templates.MustRenderer(),
		counter:     utils.NewTokenCounter(),
		maxAttempts: attempts,
		tokenBudget: budget,
		retrieval:   cfg.Retrieval,
		logger:      logx.NewLogger("writer"),
	}
}

// Write generates, checks and commits req.Entry. On success exactly one
// bundle entry is committed.
func (w *Writer) Write(ctx context.Context, req *WriteRequest) (*WriteResult, error) {
	entry := &req.Entry
	if err := bundle.ValidatePath(entry.Path); err != nil {
		return nil, err
	}
	if entry.Provided {
		if err := req.Bundle.Commit(entry.Path, entry.Content); err != nil {
			return nil, err
		}
		logx.Debug(ctx, "writer", "committed provided %s", entry.Path)
		return &WriteResult{Path: entry.Path, Content: entry.Content, Provided: true}, nil
	}

	refs, err := w.gatherContext(ctx, req)
	if err != nil {
		return nil, err
	}
	data := &templates.TemplateData{
		Requirement:        req.Requirement,
		CaseSummary:        req.Plan.Summary(),
		TargetPath:         entry.Path,
		Role:               string(entry.Role),
		References:         refs,
		Dependencies:       dependencyContent(entry, req.Bundle),
		RequiredBoundaries: entry.RequiredBoundaries,
		Directive:          req.Directive,
	}

	var violations []string
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		data.Feedback = violations
		prompt, err := w.renderer.Render(templates.WriteFileTemplate, data)
		if err != nil {
			return nil, err
		}
		logx.Debug(ctx, "writer", "%s prompt: %s", entry.Path, llmerrors.SanitizePrompt(prompt, 400))
		request := llm.NewCompletionRequest([]llm.CompletionMessage{
			llm.NewSystemMessage(systemPrompt),
			llm.NewUserMessage(prompt),
		})
		resp, err := w.client.Complete(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("generating %s: %w", entry.Path, err)
		}
		content := ExtractContent(resp.Content)

		violations = CheckConsistency(entry, content, req.Bundle)
		if len(violations) == 0 {
			if err := req.Bundle.Commit(entry.Path, content); err != nil {
				return nil, err
			}
			w.logger.Info("Wrote %s (attempt %d)", entry.Path, attempt)
			return &WriteResult{Path: entry.Path, Content: content, Attempts: attempt}, nil
		}
		w.logger.Warn("%s attempt %d/%d inconsistent: %s", entry.Path, attempt, w.maxAttempts, strings.Join(violations, "; "))
	}
	return nil, &ConsistencyViolationError{Path: entry.Path, Violations: violations, Attempts: w.maxAttempts}
}

// gatherContext retrieves file templates, dependency rules and, for run
// scripts, command docs concurrently. Results are truncated to the budget.
func (w *Writer) gatherContext(ctx context.Context, req *WriteRequest) ([]templates.Reference, error) {
	entry := &req.Entry
	query := entry.Path + "\n" + req.Plan.Summary()
	var files, rules, commands *knowledge.RetrievalContext

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = w.retriever.Retrieve(gctx, knowledge.Query{
			Text: query, Granularity: knowledge.GranularityFile, K: max(w.retrieval.FileK, 1),
			Filters: knowledge.Filters{Role: entry.Path, Solver: req.Plan.Solver},
		})
		if err != nil || len(files.Results) > 0 {
			return err
		}
		files, err = w.retriever.Retrieve(gctx, knowledge.Query{
			Text: query, Granularity: knowledge.GranularityFile, K: max(w.retrieval.FileK, 1),
			Filters: knowledge.Filters{Role: entry.Path},
		})
		return err
	})
	g.Go(func() error {
		var err error
		rules, err = w.retriever.Retrieve(gctx, knowledge.Query{
			Text: query, Granularity: knowledge.GranularityDependency, K: max(w.retrieval.DependencyK, 1),
			Filters: knowledge.Filters{Role: entry.Path},
		})
		return err
	})
	if entry.Path == proto.PathAllrun {
		g.Go(func() error {
			var err error
			commands, err = w.retriever.Retrieve(gctx, knowledge.Query{
				Text: "Allrun " + req.Requirement, Granularity: knowledge.GranularityCommand, K: max(w.retrieval.CommandK, 1),
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("context retrieval for %s failed: %w", entry.Path, err)
	}

	var refs []templates.Reference
	for _, e := range files.Entries() {
		refs = append(refs, templates.Reference{Title: e.Meta.Case + "/" + e.Meta.Path, Content: e.Content})
	}
	if len(rules.Results) > 0 {
		var sb strings.Builder
		for _, e := range rules.Entries() {
			sb.WriteString("- " + e.Content + "\n")
		}
		refs = append(refs, templates.Reference{Title: "Consistency rules", Content: strings.TrimRight(sb.String(), "\n")})
	}
	if commands != nil {
		for _, e := range commands.Entries() {
			refs = append(refs, templates.Reference{Title: "command " + e.Meta.Path, Content: e.Content})
		}
	}
	logx.Debug(ctx, "writer", "%s: %d references", entry.Path, len(refs))
	return w.truncate(refs), nil
}

// truncate fits references into the token budget in rank order.
func (w *Writer) truncate(refs []templates.Reference) []templates.Reference {
	remaining := w.tokenBudget
	out := make([]templates.Reference, 0, len(refs))
	for _, r := range refs {
		if remaining <= 0 {
			break
		}
		tokens := w.counter.CountTokens(r.Content)
		if tokens > remaining {
			r.Content = w.counter.TruncateToTokenLimit(r.Content, remaining)
			tokens = remaining
		}
		remaining -= tokens
		out = append(out, r)
	}
	return out
}

func dependencyContent(entry *proto.PlannedFile, b *bundle.CaseBundle) []templates.Reference {
	var out []templates.Reference
	for _, dep := range entry.DependsOn {
		if content, ok := b.Get(dep); ok {
			out = append(out, templates.Reference{Title: dep, Content: content})
		}
	}
	return out
}

var fencePattern = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)```")

// ExtractContent returns the first fenced code block of a response, or the
// whole response when it has none.
func ExtractContent(response string) string {
	content := response
	if m := fencePattern.FindStringSubmatch(response); m != nil {
		content = m[1]
	}
	content = strings.TrimSpace(content)
	return content + "\n"
}
