// Package templates renders the LLM prompts used by the architect, writer
// and reviewer from embedded text/template files.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// Reference is a titled block of reference text.
type Reference struct {
	Title   string
	Content string
}

// TemplateData holds the data for template rendering. Each template reads
// the subset it needs.
type TemplateData struct {
	Extra       map[string]any
	Requirement string
	CaseSummary string

	// Classification
	Solvers    []string
	Domains    []string
	Categories []string

	// File generation
	TargetPath         string
	Role               string
	References         []Reference
	Dependencies       []Reference
	RequiredBoundaries []string
	Directive          string
	Feedback           []string

	// Failure review
	FailureKind   string
	FailureOutput string
	Implicated    []Reference
	Commands      []Reference
	History       []string
}

// PromptTemplate names an embedded template file.
type PromptTemplate string

const (
	// ClassifyTemplate turns a requirement into case metadata JSON.
	ClassifyTemplate PromptTemplate = "classify.tpl.md"
	// WriteFileTemplate asks for the content of one case file.
	WriteFileTemplate PromptTemplate = "write_file.tpl.md"
	// ReviewAdviceTemplate asks for a repair directive after a failed run.
	ReviewAdviceTemplate PromptTemplate = "review_advice.tpl.md"
)

// Renderer handles prompt rendering.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[PromptTemplate]*template.Template)}

	for _, name := range []PromptTemplate{ClassifyTemplate, WriteFileTemplate, ReviewAdviceTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"join":     strings.Join,
			"contains": strings.Contains,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// MustRenderer panics if the embedded templates do not parse. They are
// compiled into the binary, so failure is a build defect.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(name PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
