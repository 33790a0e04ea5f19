// Package reviewer turns a failed execution result into a diagnosis: a
// failure kind, the case files to regenerate and a repair directive.
package reviewer

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/bundle"
	"foamagent/pkg/config"
	"foamagent/pkg/knowledge"
	"foamagent/pkg/logx"
	"foamagent/pkg/proto"
	"foamagent/pkg/templates"
	"foamagent/pkg/utils"
)

const (
	adviceSystemPrompt = "You are an expert in OpenFOAM simulation. You review failed runs and propose concrete fixes. Never change parameters stated in the user requirement."
	maxOutputTokens    = 2000
	maxFileTokens      = 1500
)

// Reviewer diagnoses execution results.
type Reviewer struct {
	signatures []*Signature
	advisor    llm.LLMClient
	retriever  *knowledge.Retriever
	commandK   int
	renderer   *templates.Renderer
	counter    *utils.TokenCounter
	logger     *logx.Logger
}

// Option configures a Reviewer.
type Option func(*Reviewer)

// WithAdvisor enables LLM advice for repairable diagnoses. The retriever,
// when non-nil, supplies command docs for the advice prompt.
func WithAdvisor(client llm.LLMClient, retriever *knowledge.Retriever, commandK int) Option {
	return func(r *Reviewer) {
		r.advisor = client
		r.retriever = retriever
		r.commandK = commandK
	}
}

// WithSignatures puts custom signatures ahead of the built-in library.
func WithSignatures(sigs ...*Signature) Option {
	return func(r *Reviewer) {
		r.signatures = append(slices.Clone(sigs), r.signatures...)
	}
}

// New creates a Reviewer with the built-in signature library.
func New(opts ...Option) *Reviewer {
	r := &Reviewer{
		signatures: BuiltinSignatures(),
		renderer:   templates.MustRenderer(),
		counter:    utils.NewTokenCounter(),
		logger:     logx.NewLogger("reviewer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromConfig loads the configured signature file and advisor.
func NewFromConfig(cfg *config.Config, advisor llm.LLMClient, retriever *knowledge.Retriever) (*Reviewer, error) {
	var opts []Option
	if cfg.Reviewer.SignaturesFile != "" {
		sigs, err := LoadSignatures(cfg.Reviewer.SignaturesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSignatures(sigs...))
	}
	if cfg.Reviewer.UseLLMAdvice && advisor != nil {
		opts = append(opts, WithAdvisor(advisor, retriever, cfg.Retrieval.CommandK))
	}
	return New(opts...), nil
}

// Diagnose classifies result. history holds the earlier diagnoses of the
// run, oldest first; directives already given for the same files are listed
// so they are not suggested again.
func (r *Reviewer) Diagnose(ctx context.Context, result *proto.ExecutionResult, b *bundle.CaseBundle, history ...proto.Diagnosis) (*proto.Diagnosis, error) {
	if result.Success() {
		return &proto.Diagnosis{Kind: proto.KindNone}, nil
	}
	output := result.CombinedOutput()

	sig, m := r.match(output)
	if sig == nil {
		r.logger.Warn("No signature matched the %s output", result.Outcome)
		return &proto.Diagnosis{Kind: proto.KindUnknown, Detail: tail(output, 400)}, nil
	}

	files := r.implicate(sig, m, result.WorkDir, b)
	data := directiveData{File: m.File, Detail: m.Detail, Patch: m.Patch, Field: m.Field}
	if resolved := explicitFiles(m, result.WorkDir, b); len(resolved) > 0 {
		data.File = resolved[0]
	}
	directive, err := sig.render(data)
	if err != nil {
		return nil, err
	}
	diag := &proto.Diagnosis{
		Kind:      sig.Kind,
		Signature: sig.Name,
		Files:     files,
		Directive: directive,
		Detail:    m.Detail,
	}
	if diag.Terminal() {
		r.logger.Warn("Signature %s matched but implicates no case file", sig.Name)
		return diag, nil
	}

	previous := previousDirectives(history, files)
	if r.advisor != nil {
		if advice, err := r.advise(ctx, diag, output, b, previous); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("LLM advice unavailable: %v", err)
		} else if advice != "" {
			diag.Directive += "\n" + advice
		}
	}
	if len(previous) > 0 {
		diag.Directive += "\nThese corrections were already tried and did not fix the failure:\n- " +
			strings.Join(previous, "\n- ") + "\nChoose a different fix."
	}
	r.logger.Info("Diagnosed %s via %s, implicating %s", diag.Kind, diag.Signature, strings.Join(files, ", "))
	return diag, nil
}

func (r *Reviewer) match(output string) (*Signature, *Match) {
	for _, sig := range r.signatures {
		if m, ok := sig.Matcher.Match(output); ok {
			return sig, m
		}
	}
	return nil, nil
}

// implicate prefers files the solver named; usual suspects apply only when
// no named file resolves. Only files of the bundle are returned.
func (r *Reviewer) implicate(sig *Signature, m *Match, workDir string, b *bundle.CaseBundle) []string {
	if files := explicitFiles(m, workDir, b); len(files) > 0 {
		return files
	}
	var out []string
	for _, p := range b.Paths() {
		for _, pattern := range sig.Suspects {
			if ok, _ := path.Match(pattern, p); ok {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func explicitFiles(m *Match, workDir string, b *bundle.CaseBundle) []string {
	var out []string
	if p, ok := resolvePath(m.File, workDir, b.Paths()); ok {
		out = append(out, p)
	}
	if m.Field != "" {
		if p, ok := resolvePath(proto.FieldDirPrefix+m.Field, workDir, b.Paths()); ok && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// resolvePath maps a file name reported by the solver to a bundle path.
// Reported names may be absolute and may carry a dictionary scope suffix
// such as ".boundaryField" or "/PIMPLE".
func resolvePath(raw, workDir string, paths []string) (string, bool) {
	raw = strings.Trim(raw, `"'.,:`)
	if raw == "" {
		return "", false
	}
	if workDir != "" {
		raw = strings.TrimPrefix(raw, strings.TrimSuffix(workDir, "/")+"/")
	}
	raw = strings.Replace(raw, "/0.orig/", "/0/", 1)
	if rest, ok := strings.CutPrefix(raw, "0.orig/"); ok {
		raw = "0/" + rest
	}
	s := "/" + raw

	candidates := slices.Clone(paths)
	sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	for _, p := range candidates {
		needle := "/" + p
		i := strings.LastIndex(s, needle)
		if i < 0 {
			continue
		}
		end := i + len(needle)
		if end == len(s) || s[end] == '.' || s[end] == '/' {
			return p, true
		}
	}
	return "", false
}

func previousDirectives(history []proto.Diagnosis, files []string) []string {
	var out []string
	for _, d := range history {
		if d.Directive == "" || slices.Contains(out, d.Directive) {
			continue
		}
		for _, f := range d.Files {
			if slices.Contains(files, f) {
				out = append(out, firstLine(d.Directive))
				break
			}
		}
	}
	return out
}

func (r *Reviewer) advise(ctx context.Context, diag *proto.Diagnosis, output string, b *bundle.CaseBundle, previous []string) (string, error) {
	data := &templates.TemplateData{
		FailureKind:   string(diag.Kind),
		FailureOutput: r.counter.TruncateToTokenLimit(tail(output, 16000), maxOutputTokens),
		History:       previous,
	}
	for _, f := range diag.Files {
		content, _ := b.Get(f)
		data.Implicated = append(data.Implicated, templates.Reference{Title: f, Content: r.counter.TruncateToTokenLimit(content, maxFileTokens)})
	}
	if r.retriever != nil {
		docs, err := r.retriever.Retrieve(ctx, knowledge.Query{
			Text: diag.Directive + "\n" + diag.Detail, Granularity: knowledge.GranularityCommand, K: max(r.commandK, 1),
		})
		if err != nil {
			return "", fmt.Errorf("command retrieval: %w", err)
		}
		for _, e := range docs.Entries() {
			data.Commands = append(data.Commands, templates.Reference{Title: e.Meta.Path, Content: e.Content})
		}
	}
	prompt, err := r.renderer.Render(templates.ReviewAdviceTemplate, data)
	if err != nil {
		return "", err
	}
	resp, err := r.advisor.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(adviceSystemPrompt),
		llm.NewUserMessage(prompt),
	}))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// tail keeps at most the last n bytes of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
