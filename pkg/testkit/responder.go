package testkit

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"foamagent/internal/mocks"
	"foamagent/pkg/agent/llm"
)

var targetPattern = regexp.MustCompile(`Target file: (\S+)`)

// CaseResponder answers architect classification prompts with a fixed JSON
// object and writer prompts with the file named by "Target file:". Scripted
// overrides for a path are consumed in order before the defaults.
type CaseResponder struct {
	mu        sync.Mutex
	classify  string
	files     map[string]string
	overrides map[string][]string
	advice    string
	served    map[string]int
}

// NewCaseResponder answers with files and the classification JSON.
func NewCaseResponder(classifyJSON string, files map[string]string) *CaseResponder {
	return &CaseResponder{
		classify:  classifyJSON,
		files:     files,
		overrides: map[string][]string{},
		served:    map[string]int{},
		advice:    "Rewrite the implicated file so it matches the mesh.",
	}
}

// NewChannelResponder serves the channel fixture.
func NewChannelResponder() *CaseResponder {
	return NewCaseResponder(ChannelJSON, ChannelFiles())
}

// Override queues contents returned for path before the default.
func (r *CaseResponder) Override(path string, contents ...string) *CaseResponder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[path] = append(r.overrides[path], contents...)
	return r
}

// Served returns how many times path was generated.
func (r *CaseResponder) Served(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served[path]
}

// Respond implements the mocks.ScriptedLLM responder signature.
func (r *CaseResponder) Respond(req llm.CompletionRequest) (string, error) {
	prompt := req.PromptText()
	r.mu.Lock()
	defer r.mu.Unlock()

	if m := targetPattern.FindStringSubmatch(prompt); m != nil {
		path := m[1]
		r.served[path]++
		if queued := r.overrides[path]; len(queued) > 0 {
			r.overrides[path] = queued[1:]
			return fence(queued[0]), nil
		}
		content, ok := r.files[path]
		if !ok {
			return "", fmt.Errorf("testkit: no fixture for %s", path)
		}
		return fence(content), nil
	}
	if strings.Contains(prompt, "case_solver") {
		return r.classify, nil
	}
	if strings.Contains(prompt, "Failure kind:") {
		return r.advice, nil
	}
	return "", fmt.Errorf("testkit: unrecognized prompt")
}

// LLM returns a ScriptedLLM driven by the responder.
func (r *CaseResponder) LLM(model string) *mocks.ScriptedLLM {
	return mocks.NewScriptedLLM(model).Respond(r.Respond)
}

func fence(content string) string {
	return "Here is the file:\n```\n" + content + "```\n"
}
