package foamfile

import (
	"fmt"
	"regexp"
	"strings"

	"foamagent/pkg/proto"
)

// ConstraintTypesInclude is the #includeEtc argument that sets boundary
// conditions for every constraint patch.
const ConstraintTypesInclude = "caseDicts/setConstraintTypes"

// BoundaryEntry is one boundaryField item of a field file.
type BoundaryEntry struct {
	Key     string
	Pattern bool
	Type    string
	Line    int
	re      *regexp.Regexp
}

// BoundaryField is the parsed boundaryField dictionary.
type BoundaryField struct {
	Entries []BoundaryEntry
	// ConstraintInclude is set when the file includes setConstraintTypes.
	ConstraintInclude bool
}

// ParseBoundaryField extracts boundaryField from a 0/* field file.
func ParseBoundaryField(content string) (*BoundaryField, error) {
	d, err := Parse(content)
	if err != nil {
		return nil, err
	}
	bf := d.SubDict("boundaryField")
	if bf == nil {
		return nil, fmt.Errorf("no boundaryField dictionary")
	}
	out := &BoundaryField{ConstraintInclude: bf.HasDirective("#includeEtc", ConstraintTypesInclude)}
	for _, e := range bf.Entries {
		if e.Dict == nil || e.Key == "" {
			continue
		}
		be := BoundaryEntry{Key: e.Key, Pattern: e.Pattern, Line: e.Line}
		be.Type, _ = e.Dict.Word("type")
		if e.Pattern {
			re, err := regexp.Compile("^(?:" + e.Key + ")$")
			if err != nil {
				return nil, &ParseError{Line: e.Line, Msg: fmt.Sprintf("invalid patch pattern %q: %v", e.Key, err)}
			}
			be.re = re
		}
		out.Entries = append(out.Entries, be)
	}
	return out, nil
}

// Resolve returns the entry that applies to patch p: an exact name first,
// then a group name, then the last matching pattern.
func (b *BoundaryField) Resolve(p proto.Patch) (*BoundaryEntry, bool) {
	for i := range b.Entries {
		if !b.Entries[i].Pattern && b.Entries[i].Key == p.Name {
			return &b.Entries[i], true
		}
	}
	for i := range b.Entries {
		if b.Entries[i].Pattern {
			continue
		}
		for _, g := range p.Groups {
			if b.Entries[i].Key == g {
				return &b.Entries[i], true
			}
		}
	}
	for i := len(b.Entries) - 1; i >= 0; i-- {
		if b.Entries[i].Pattern && b.Entries[i].re.MatchString(p.Name) {
			return &b.Entries[i], true
		}
	}
	return nil, false
}

// ExactKeys returns the unquoted entry keys.
func (b *BoundaryField) ExactKeys() []string {
	var out []string
	for _, e := range b.Entries {
		if !e.Pattern {
			out = append(out, e.Key)
		}
	}
	return out
}

// auxiliarySolvers are solver entries that do not correspond to a field file.
//
//nolint:gochecknoglobals // static lookup table
var auxiliarySolvers = map[string]bool{
	"pcorr":            true,
	"Phi":              true,
	"cellDisplacement": true,
	"cellMotionU":      true,
	"yPsi":             true,
	// Energy is solved as h or e while the case carries 0/T.
	"h": true,
	"e": true,
	// Radiation intensity and incident radiation solvers.
	"Ii": true,
	"G":  true,
}

// SolverFields returns the field names named by unquoted keys of
// fvSolution's solvers dictionary, with the Final suffix removed and
// auxiliary solvers skipped. Order follows the file; duplicates are dropped.
func SolverFields(content string) ([]string, error) {
	d, err := Parse(content)
	if err != nil {
		return nil, err
	}
	solvers := d.SubDict("solvers")
	if solvers == nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range solvers.Entries {
		if e.Pattern || e.Key == "" {
			continue
		}
		name := strings.TrimSuffix(e.Key, "Final")
		if name == "" || auxiliarySolvers[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// Application returns the application entry of a controlDict.
func Application(content string) (string, error) {
	d, err := Parse(content)
	if err != nil {
		return "", err
	}
	app, ok := d.Word("application")
	if !ok {
		return "", fmt.Errorf("controlDict has no application entry")
	}
	return app, nil
}
