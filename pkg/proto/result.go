package proto

import (
	"sort"
	"strings"
	"time"
)

// Outcome classifies a Runner invocation.
type Outcome string

// Execution outcomes.
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeSolverError Outcome = "solver_error"
	OutcomeTimeout     Outcome = "timeout"
)

// ExecutionResult is the immutable record of one Runner invocation.
type ExecutionResult struct {
	Outcome   Outcome           `json:"outcome"`
	ExitCode  int               `json:"exit_code"`
	Stdout    string            `json:"stdout"`
	Stderr    string            `json:"stderr"`
	Logs      map[string]string `json:"logs,omitempty"` // log.* files by name
	Duration  time.Duration     `json:"duration"`
	StartedAt time.Time         `json:"started_at"`
	WorkDir   string            `json:"work_dir"`
	Command   []string          `json:"command"`
}

// Success reports whether the run completed cleanly.
func (r *ExecutionResult) Success() bool {
	return r != nil && r.Outcome == OutcomeSuccess
}

// CombinedOutput joins stderr, stdout and the log files (by name) into the
// text the Reviewer matches against.
func (r *ExecutionResult) CombinedOutput() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(r.Stderr)
	sb.WriteString("\n")
	sb.WriteString(r.Stdout)
	names := make([]string, 0, len(r.Logs))
	for name := range r.Logs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString("\n==> " + name + " <==\n")
		sb.WriteString(r.Logs[name])
	}
	return sb.String()
}

// FailureKind names the class of a diagnosed failure.
type FailureKind string

// Failure kinds.
const (
	KindNone              FailureKind = "none"
	KindMissingPatchField FailureKind = "missing_patch_field"
	KindMissingKeyword    FailureKind = "missing_keyword"
	KindUnknownEntry      FailureKind = "unknown_entry"
	KindUnknownBCType     FailureKind = "unknown_bc_type"
	KindMissingFile       FailureKind = "missing_file"
	KindDimensionMismatch FailureKind = "dimension_mismatch"
	KindCommandNotFound   FailureKind = "command_not_found"
	KindDivergence        FailureKind = "divergence"
	KindParseError        FailureKind = "parse_error"
	KindTimeout           FailureKind = "timeout"
	KindUnknown           FailureKind = "unknown_failure"
)

// Diagnosis is the Reviewer's verdict on one ExecutionResult.
type Diagnosis struct {
	Kind      FailureKind `json:"kind"`
	Signature string      `json:"signature,omitempty"`
	Files     []string    `json:"files,omitempty"`
	Directive string      `json:"directive,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// Terminal reports whether no automatic repair is possible.
func (d *Diagnosis) Terminal() bool {
	return d == nil || d.Kind == KindUnknown || (d.Kind != KindNone && len(d.Files) == 0)
}
