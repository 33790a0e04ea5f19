package reviewer

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"foamagent/pkg/proto"
)

// Matcher kinds accepted in signature files.
const (
	MatcherSubstring = "substring"
	MatcherRegex     = "regex"
)

// Match is what a matcher extracted from the output.
type Match struct {
	Text   string // the matched text
	File   string // raw file name reported by the solver
	Field  string // field name, implies 0/<field>
	Patch  string
	Detail string
}

// Matcher is one tagged match-rule variant.
type Matcher interface {
	Match(output string) (*Match, bool)
}

// SubstringMatcher matches a literal. Detail is the line that contains it.
type SubstringMatcher struct {
	Needle string
}

// Match implements Matcher.
func (m SubstringMatcher) Match(output string) (*Match, bool) {
	i := strings.Index(output, m.Needle)
	if i < 0 {
		return nil, false
	}
	start := strings.LastIndexByte(output[:i], '\n') + 1
	end := strings.IndexByte(output[i:], '\n')
	if end < 0 {
		end = len(output) - i
	}
	return &Match{Text: m.Needle, Detail: strings.TrimSpace(output[start : i+end])}, true
}

// RegexMatcher matches a regular expression. The named groups file, field,
// patch and detail fill the corresponding Match fields.
type RegexMatcher struct {
	Re *regexp.Regexp
}

// Match implements Matcher.
func (m RegexMatcher) Match(output string) (*Match, bool) {
	sub := m.Re.FindStringSubmatch(output)
	if sub == nil {
		return nil, false
	}
	match := &Match{Text: sub[0]}
	for i, name := range m.Re.SubexpNames() {
		switch name {
		case "file":
			match.File = sub[i]
		case "field":
			match.Field = sub[i]
		case "patch":
			match.Patch = sub[i]
		case "detail":
			match.Detail = sub[i]
		}
	}
	return match, true
}

// Signature maps a recognizable failure to a kind, implicated files and a
// directive.
type Signature struct {
	Name      string
	Kind      proto.FailureKind
	Matcher   Matcher
	Suspects  []string // glob patterns used when nothing explicit resolves
	Directive *template.Template
}

// directiveData is available to directive templates.
type directiveData struct {
	File   string
	Detail string
	Patch  string
	Field  string
}

func (s *Signature) render(data directiveData) (string, error) {
	if s.Directive == nil {
		return fmt.Sprintf("Fix the %s failure reported by the solver.", s.Kind), nil
	}
	var buf bytes.Buffer
	if err := s.Directive.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("signature %s: %w", s.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// SignatureSpec is the serialized form used by signature files.
type SignatureSpec struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Matcher   string   `yaml:"matcher"`
	Pattern   string   `yaml:"pattern"`
	Suspects  []string `yaml:"suspects"`
	Directive string   `yaml:"directive"`
}

// Compile validates the definition and builds a Signature.
func (s SignatureSpec) Compile() (*Signature, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("signature without name")
	}
	if s.Pattern == "" {
		return nil, fmt.Errorf("signature %s: empty pattern", s.Name)
	}
	sig := &Signature{Name: s.Name, Kind: proto.FailureKind(s.Kind), Suspects: s.Suspects}
	if sig.Kind == "" {
		sig.Kind = proto.KindUnknown
	}
	switch s.Matcher {
	case MatcherSubstring, "":
		sig.Matcher = SubstringMatcher{Needle: s.Pattern}
	case MatcherRegex:
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", s.Name, err)
		}
		sig.Matcher = RegexMatcher{Re: re}
	default:
		return nil, fmt.Errorf("signature %s: unknown matcher %q", s.Name, s.Matcher)
	}
	if s.Directive != "" {
		tmpl, err := template.New(s.Name).Option("missingkey=zero").Parse(s.Directive)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", s.Name, err)
		}
		sig.Directive = tmpl
	}
	return sig, nil
}

type signatureFile struct {
	Signatures []SignatureSpec `yaml:"signatures"`
}

// LoadSignatures reads a YAML signature file in order.
func LoadSignatures(path string) ([]*Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signatures: %w", err)
	}
	var f signatureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	out := make([]*Signature, 0, len(f.Signatures))
	for _, spec := range f.Signatures {
		sig, err := spec.Compile()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, sig)
	}
	return out, nil
}

// TimeoutSignatureName names the signature that catches timeouts with no
// more specific match.
const TimeoutSignatureName = "timeout"

// BuiltinSignatures returns the built-in library, most specific first.
func BuiltinSignatures() []*Signature {
	specs := []SignatureSpec{
		{
			Name:      "missing_patch_field",
			Kind:      string(proto.KindMissingPatchField),
			Matcher:   MatcherRegex,
			Pattern:   `(?s)Cannot find patchField entry for (?P<patch>\S+)(?:.*?file: (?P<file>\S+))?`,
			Suspects:  []string{"0/*"},
			Directive: `Add a boundaryField entry for patch {{.Patch}}{{with .File}} in {{.}}{{end}}. Every mesh patch needs an entry with a type that matches the mesh.`,
		},
		{
			Name:      "undefined_keyword",
			Kind:      string(proto.KindMissingKeyword),
			Matcher:   MatcherRegex,
			Pattern:   `keyword (?P<detail>\S+) is undefined in dictionary "(?P<file>[^"]+)"`,
			Directive: `Define the keyword {{.Detail}} exactly as written{{with .File}} in {{.}}{{end}}. Take it literally and do not reinterpret its characters.`,
		},
		{
			Name:      "entry_not_found",
			Kind:      string(proto.KindMissingKeyword),
			Matcher:   MatcherRegex,
			Pattern:   `Entry '(?P<detail>[^']+)' not found in dictionary "(?P<file>[^"]+)"`,
			Directive: `Define the entry {{.Detail}} exactly as written{{with .File}} in {{.}}{{end}}.`,
		},
		{
			Name:      "unknown_scheme",
			Kind:      string(proto.KindUnknownEntry),
			Matcher:   MatcherRegex,
			Pattern:   `(?s)Unknown (?P<detail>[\w ]*?scheme \S+)(?:.*?file: (?P<file>\S+))?`,
			Suspects:  []string{"system/fvSchemes"},
			Directive: `Replace the unknown {{.Detail}}{{with .File}} in {{.}}{{end}} with a scheme the solver lists as valid.`,
		},
		{
			Name:      "unknown_solver",
			Kind:      string(proto.KindUnknownEntry),
			Matcher:   MatcherRegex,
			Pattern:   `(?s)Unknown (?P<detail>[\w ]*?(?:solver|smoother|preconditioner) \S+)(?:.*?file: (?P<file>\S+))?`,
			Suspects:  []string{"system/fvSolution"},
			Directive: `Replace the unknown {{.Detail}}{{with .File}} in {{.}}{{end}} with one the solver lists as valid.`,
		},
		{
			Name:      "unknown_bc_type",
			Kind:      string(proto.KindUnknownBCType),
			Matcher:   MatcherRegex,
			Pattern:   `Unknown patchField type (?P<detail>\S+) for patch (?P<patch>\S+) of field (?P<field>\w+)`,
			Suspects:  []string{"0/*"},
			Directive: `Patch {{.Patch}} of field {{.Field}} uses the unknown boundary condition {{.Detail}}. Use a valid condition type for that patch.`,
		},
		{
			Name:      "missing_file",
			Kind:      string(proto.KindMissingFile),
			Matcher:   MatcherRegex,
			Pattern:   `(?i)cannot (?:find|open) file "?(?P<file>[^"\s]+)`,
			Suspects:  []string{"Allrun"},
			Directive: `The case looked for {{.File}}, which does not exist. Make sure the run script and dictionaries only refer to files of the case.`,
		},
		{
			Name:      "dimension_mismatch",
			Kind:      string(proto.KindDimensionMismatch),
			Matcher:   MatcherRegex,
			Pattern:   `(?:(?P<detail>(?:LHS and RHS of \S+ have different|inconsistent) dimensions)|different dimensions for)`,
			Suspects:  []string{"0/*", "constant/transportProperties", "constant/physicalProperties"},
			Directive: `Dimensions are inconsistent ({{.Detail}}). Check the dimensions entries of fields and physical properties.`,
		},
		{
			Name:      "command_not_found",
			Kind:      string(proto.KindCommandNotFound),
			Matcher:   MatcherRegex,
			Pattern:   `(?P<detail>[\w.-]+): (?:command )?not found`,
			Suspects:  []string{"Allrun"},
			Directive: `The run script calls {{.Detail}}, which is not available. Use only standard OpenFOAM utilities and the solver named in controlDict.`,
		},
		{
			Name:      "floating_point_exception",
			Kind:      string(proto.KindDivergence),
			Matcher:   MatcherRegex,
			Pattern:   `(?P<detail>Floating point exception|sigFpe|Maximum number of iterations exceeded|[Cc]ontinuity error.*?nan)`,
			Suspects:  []string{"system/controlDict", "system/fvSchemes", "system/fvSolution"},
			Directive: `The solution diverged ({{.Detail}}). Reduce deltaT, use more robust schemes and tighten the solver controls.`,
		},
		{
			Name:      "parse_error",
			Kind:      string(proto.KindParseError),
			Matcher:   MatcherRegex,
			Pattern:   `(?s)FOAM FATAL IO ERROR:\s*\n?\s*(?P<detail>[^\n]*).*?file: (?P<file>\S+)`,
			Directive: `{{with .File}}{{.}} cannot be read{{else}}A dictionary cannot be read{{end}}: {{.Detail}}. Rewrite it with valid OpenFOAM syntax.`,
		},
		{
			Name:      TimeoutSignatureName,
			Kind:      string(proto.KindTimeout),
			Matcher:   MatcherSubstring,
			Pattern:   "execution exceeded the time limit",
			Suspects:  []string{"system/controlDict"},
			Directive: `The run did not finish in time. Shorten endTime or enlarge deltaT and writeInterval in system/controlDict while keeping the requested physics.`,
		},
	}
	out := make([]*Signature, len(specs))
	for i, spec := range specs {
		sig, err := spec.Compile()
		if err != nil {
			// Built-in patterns are constants.
			panic(err)
		}
		out[i] = sig
	}
	return out
}
