// Package knowledge builds and searches the hierarchical reference index:
// whole-case layouts, per-file templates, cross-file dependency rules and
// utility command docs drawn from a corpus of reference cases.
package knowledge

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// EntryKind is the granularity an index entry belongs to.
type EntryKind string

// Index entry kinds.
const (
	KindCaseLayout     EntryKind = "case_layout"
	KindFileTemplate   EntryKind = "file_template"
	KindDependencyRule EntryKind = "dependency_rule"
	KindCommandDoc     EntryKind = "command_doc"
)

// Dependency classes decide which consistency check applies to an edge.
const (
	ClassBoundary    = "boundary"
	ClassField       = "field"
	ClassApplication = "application"
)

// ErrInvalidK is returned for a result cap below 1.
var ErrInvalidK = errors.New("k must be at least 1")

// Metadata is the structured part of an index entry.
type Metadata struct {
	Case        string   `json:"case,omitempty"`
	Solver      string   `json:"solver,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Path        string   `json:"path,omitempty"`
	Files       []string `json:"files,omitempty"`      // case_layout
	DependsOn   string   `json:"depends_on,omitempty"` // dependency_rule
	Class       string   `json:"class,omitempty"`      // dependency_rule
	Note        string   `json:"note,omitempty"`       // dependency_rule
}

// IndexEntry is one immutable reference artifact.
type IndexEntry struct {
	Seq       int
	ID        string
	Kind      EntryKind
	Meta      Metadata
	Content   string
	Embedding []float32
}

// EntryID formats the stable identifier of an entry.
func EntryID(kind EntryKind, casePath, p string) string {
	return fmt.Sprintf("%s:%s:%s", kind, casePath, p)
}

// DependencyRule states that files matching File must stay consistent with
// files matching DependsOn. Both are path.Match globs.
type DependencyRule struct {
	File      string `yaml:"file" json:"file"`
	DependsOn string `yaml:"depends_on" json:"depends_on"`
	Class     string `yaml:"class" json:"class"`
	Note      string `yaml:"note" json:"note"`
}

func (r DependencyRule) key() string {
	return r.File + "->" + r.DependsOn
}

// Rule returns the dependency rule carried by a dependency_rule entry.
func (e *IndexEntry) Rule() DependencyRule {
	return DependencyRule{File: e.Meta.Path, DependsOn: e.Meta.DependsOn, Class: e.Meta.Class, Note: e.Meta.Note}
}

// BuiltinRules are applied to every plan regardless of corpus content.
func BuiltinRules() []DependencyRule {
	return []DependencyRule{
		{File: "0/*", DependsOn: "system/blockMeshDict", Class: ClassBoundary, Note: "patch names and constraint types come from the mesh definition"},
		{File: "0/*", DependsOn: "constant/polyMesh/boundary", Class: ClassBoundary, Note: "patch names and constraint types come from the mesh"},
		{File: "system/fvSolution", DependsOn: "0/*", Class: ClassField, Note: "every solved field needs a solver entry"},
		{File: "Allrun", DependsOn: "system/controlDict", Class: ClassApplication, Note: "Allrun must run the controlDict application"},
	}
}

// Index is the ordered, immutable set of entries plus the embedder that
// produced their vectors.
type Index struct {
	Entries   []IndexEntry
	Embedder  string
	Dimension int
	byID      map[string]int
}

// NewIndex wraps entries, which must already carry sequence numbers.
func NewIndex(entries []IndexEntry, embedder string, dimension int) *Index {
	idx := &Index{Entries: entries, Embedder: embedder, Dimension: dimension, byID: make(map[string]int, len(entries))}
	for i := range entries {
		idx.byID[entries[i].ID] = i
	}
	return idx
}

// Get returns the entry with id.
func (idx *Index) Get(id string) (*IndexEntry, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return nil, false
	}
	return &idx.Entries[i], true
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.Entries)
}

// CountByKind tallies entries per kind.
func (idx *Index) CountByKind() map[EntryKind]int {
	out := make(map[EntryKind]int)
	for i := range idx.Entries {
		out[idx.Entries[i].Kind]++
	}
	return out
}

// CountFor returns how many entries of kind belong to casePath.
func (idx *Index) CountFor(kind EntryKind, casePath string) int {
	n := 0
	for i := range idx.Entries {
		if idx.Entries[i].Kind == kind && idx.Entries[i].Meta.Case == casePath {
			n++
		}
	}
	return n
}

// embeddingText is what gets embedded for an entry. File templates are
// prefixed with their case and path so role and solver influence ranking.
func embeddingText(e *IndexEntry) string {
	const maxChars = 4000
	var sb strings.Builder
	switch e.Kind {
	case KindFileTemplate:
		fmt.Fprintf(&sb, "%s %s %s %s\n", e.Meta.Path, e.Meta.Solver, e.Meta.Domain, e.Meta.Case)
	case KindCommandDoc:
		fmt.Fprintf(&sb, "command %s\n", e.Meta.Path)
	}
	sb.WriteString(e.Content)
	s := sb.String()
	if len(s) > maxChars {
		s = s[:maxChars]
	}
	return s
}

// Facets lists the distinct solvers, domains and categories of the indexed
// cases, sorted.
func (idx *Index) Facets() (solvers, domains, categories []string) {
	seen := map[string]map[string]bool{"s": {}, "d": {}, "c": {}}
	add := func(set, v string, out *[]string) {
		if v == "" || seen[set][v] {
			return
		}
		seen[set][v] = true
		*out = append(*out, v)
	}
	for i := range idx.Entries {
		e := &idx.Entries[i]
		if e.Kind != KindCaseLayout {
			continue
		}
		add("s", e.Meta.Solver, &solvers)
		add("d", e.Meta.Domain, &domains)
		add("c", e.Meta.Category, &categories)
	}
	sort.Strings(solvers)
	sort.Strings(domains)
	sort.Strings(categories)
	return solvers, domains, categories
}
