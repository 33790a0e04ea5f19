package writer

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"foamagent/pkg/bundle"
	"foamagent/pkg/foamfile"
	"foamagent/pkg/proto"
)

// Dependency classes, derived from the paths on both ends of an edge.
const (
	classBoundary    = "boundary"
	classField       = "field"
	classApplication = "application"
)

// dependencyClass names the check an edge from consumer to provider needs,
// or "" when the edge only orders generation.
func dependencyClass(consumer, provider string) string {
	switch {
	case proto.RoleForPath(consumer) == proto.RoleField &&
		(provider == proto.PathBlockMeshDict || provider == proto.PathPolyMeshBound):
		return classBoundary
	case consumer == proto.PathFvSolution && proto.RoleForPath(provider) == proto.RoleField:
		return classField
	case consumer == proto.PathAllrun && provider == proto.PathControlDict:
		return classApplication
	default:
		return ""
	}
}

// CheckConsistency validates content for entry against the committed
// content of its dependencies. It returns one message per violation.
func CheckConsistency(entry *proto.PlannedFile, content string, b *bundle.CaseBundle) []string {
	var violations []string
	if entry.Path != proto.PathAllrun {
		if _, err := foamfile.Parse(content); err != nil {
			return []string{fmt.Sprintf("content is not a valid OpenFOAM dictionary: %v", err)}
		}
	}

	var patches []proto.Patch
	var fieldDeps bool
	for _, dep := range entry.DependsOn {
		provided, ok := b.Get(dep)
		if !ok {
			continue
		}
		switch dependencyClass(entry.Path, dep) {
		case classBoundary:
			ps, err := foamfile.MeshPatches(dep, provided)
			if err != nil {
				violations = append(violations, fmt.Sprintf("%s cannot be read: %v", dep, err))
				continue
			}
			patches = mergePatches(patches, ps)
		case classField:
			fieldDeps = true
		case classApplication:
			violations = append(violations, checkApplication(content, provided)...)
		}
	}

	if proto.RoleForPath(entry.Path) == proto.RoleField && (len(patches) > 0 || len(entry.RequiredBoundaries) > 0) {
		violations = append(violations, checkBoundaries(content, patches, entry.RequiredBoundaries)...)
	}
	if fieldDeps {
		violations = append(violations, checkSolverFields(content, b)...)
	}
	return violations
}

func mergePatches(have, more []proto.Patch) []proto.Patch {
	for _, p := range more {
		if !slices.ContainsFunc(have, func(q proto.Patch) bool { return q.Name == p.Name }) {
			have = append(have, p)
		}
	}
	return have
}

func checkBoundaries(content string, patches []proto.Patch, required []string) []string {
	bf, err := foamfile.ParseBoundaryField(content)
	if err != nil {
		return []string{fmt.Sprintf("boundaryField cannot be read: %v", err)}
	}
	var violations []string

	if len(patches) > 0 {
		known := map[string]bool{}
		for _, p := range patches {
			known[p.Name] = true
			for _, g := range p.Groups {
				known[g] = true
			}
		}
		for _, key := range bf.ExactKeys() {
			if !known[key] {
				violations = append(violations, fmt.Sprintf("boundaryField entry %q does not name a mesh patch (patches: %s)", key, strings.Join(patchNames(patches), ", ")))
			}
		}
	}

	all := slices.Clone(patches)
	for _, name := range required {
		if !slices.ContainsFunc(all, func(p proto.Patch) bool { return p.Name == name }) {
			all = append(all, proto.Patch{Name: name})
		}
	}
	for _, p := range all {
		entry, ok := resolve(bf, p)
		switch {
		case !ok && foamfile.IsConstraintType(p.Type) && bf.ConstraintInclude:
		case !ok:
			violations = append(violations, fmt.Sprintf("patch %q has no boundaryField entry", p.Name))
		case foamfile.IsConstraintType(p.Type) && entry.Type != p.Type:
			violations = append(violations, fmt.Sprintf("patch %q is of constraint type %s but its condition is %q", p.Name, p.Type, entry.Type))
		case p.Type != "" && !foamfile.IsConstraintType(p.Type) && foamfile.IsConstraintType(entry.Type):
			violations = append(violations, fmt.Sprintf("patch %q of type %s cannot use constraint condition %s", p.Name, p.Type, entry.Type))
		}
	}
	return violations
}

// resolve applies OpenFOAM precedence. With setConstraintTypes included a
// constraint patch without an exact entry takes the included group entry.
func resolve(bf *foamfile.BoundaryField, p proto.Patch) (*foamfile.BoundaryEntry, bool) {
	if bf.ConstraintInclude && foamfile.IsConstraintType(p.Type) {
		for i := range bf.Entries {
			if !bf.Entries[i].Pattern && bf.Entries[i].Key == p.Name {
				return &bf.Entries[i], true
			}
		}
		return nil, false
	}
	return bf.Resolve(p)
}

func patchNames(patches []proto.Patch) []string {
	out := make([]string, len(patches))
	for i := range patches {
		out[i] = patches[i].Name
	}
	return out
}

func checkSolverFields(content string, b *bundle.CaseBundle) []string {
	fields, err := foamfile.SolverFields(content)
	if err != nil {
		return []string{fmt.Sprintf("solvers cannot be read: %v", err)}
	}
	var violations []string
	for _, f := range fields {
		if !b.Has(proto.FieldDirPrefix + f) {
			violations = append(violations, fmt.Sprintf("solver entry %q has no field file 0/%s", f, f))
		}
	}
	return violations
}

func checkApplication(allrun, controlDict string) []string {
	app, err := foamfile.Application(controlDict)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", proto.PathControlDict, err)}
	}
	if strings.Contains(allrun, "getApplication") {
		return nil
	}
	re := regexp.MustCompile(`(^|[^\w])` + regexp.QuoteMeta(app) + `([^\w]|$)`)
	if !re.MatchString(allrun) {
		return []string{fmt.Sprintf("Allrun never runs the controlDict application %s", app)}
	}
	return nil
}
