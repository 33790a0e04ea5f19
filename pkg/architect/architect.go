// Package architect turns a requirement and an optional external mesh into
// a dependency-ordered GenerationPlan using the reference index.
package architect

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"foamagent/pkg/agent/llm"
	"foamagent/pkg/config"
	"foamagent/pkg/foamfile"
	"foamagent/pkg/knowledge"
	"foamagent/pkg/logx"
	"foamagent/pkg/proto"
	"foamagent/pkg/templates"
)

// ErrNoReference is returned when the index holds no case layout at all.
var ErrNoReference = errors.New("no reference case found in the index")

// Architect plans which files a case needs and in which order.
type Architect struct {
	client    llm.LLMClient
	retriever *knowledge.Retriever
	renderer  *templates.Renderer
	caseK     int
	depK      int
	logger    *logx.Logger
}

// New creates an Architect.
func New(client llm.LLMClient, retriever *knowledge.Retriever, cfg config.RetrievalConfig) *Architect {
	caseK, depK := cfg.CaseK, cfg.DependencyK
	if caseK < 1 {
		caseK = 2
	}
	if depK < 1 {
		depK = 16
	}
	return &Architect{
		client:    client,
		retriever: retriever,
		renderer:  templates.MustRenderer(),
		caseK:     caseK,
		depK:      depK,
		logger:    logx.NewLogger("architect"),
	}
}

// Plan classifies the requirement, picks the closest reference case and
// returns its input files in dependency order. mesh may be nil.
func (a *Architect) Plan(ctx context.Context, requirement string, mesh *proto.MeshDescriptor) (*proto.GenerationPlan, error) {
	info, err := a.classify(ctx, requirement)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Classified requirement: solver=%s domain=%s case=%s", info.Solver, info.Domain, info.Name)

	layout, rules, err := a.gatherReferences(ctx, info)
	if err != nil {
		return nil, err
	}
	logx.Debug(ctx, "architect", "reference layout %s, %d retrieved rules", layout.ID, len(rules))

	plan := &proto.GenerationPlan{
		CaseName:    info.Name,
		Domain:      info.Domain,
		Category:    info.Category,
		Solver:      info.Solver,
		Description: info.Description,
	}
	if plan.Domain == "" {
		plan.Domain = layout.Meta.Domain
	}
	files := standardFiles(layout.Meta.Files)
	if mesh != nil {
		files = applyMesh(files, mesh)
	}
	addDependencies(files, append(knowledge.BuiltinRules(), rules...))

	sorted, err := SortFiles(files)
	if err != nil {
		return nil, err
	}
	plan.Files = sorted
	a.logger.Info("Planned %d files: %s", len(sorted), strings.Join(plan.Paths(), ", "))
	return plan, nil
}

// gatherReferences picks the best case layout, then fetches the dependency
// rules that case declares. Rules of other reference cases never enter the
// plan graph.
func (a *Architect) gatherReferences(ctx context.Context, info *CaseInfo) (*knowledge.IndexEntry, []knowledge.DependencyRule, error) {
	query := info.QueryText()
	cases, err := a.retriever.Retrieve(ctx, knowledge.Query{
		Text: query, Granularity: knowledge.GranularityCase, K: a.caseK,
		Filters: knowledge.Filters{Solver: info.Solver},
	})
	if err == nil && len(cases.Results) == 0 {
		a.logger.Warn("No reference case for solver %s, searching all cases", info.Solver)
		cases, err = a.retriever.Retrieve(ctx, knowledge.Query{Text: query, Granularity: knowledge.GranularityCase, K: a.caseK})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reference retrieval failed: %w", err)
	}
	if len(cases.Results) == 0 {
		return nil, nil, ErrNoReference
	}
	layout := cases.Results[0].Entry

	n := a.retriever.Index().CountFor(knowledge.KindDependencyRule, layout.Meta.Case)
	if n == 0 {
		return layout, nil, nil
	}
	deps, err := a.retriever.Retrieve(ctx, knowledge.Query{
		Text: query, Granularity: knowledge.GranularityDependency, K: max(n, a.depK),
		Filters: knowledge.Filters{Case: layout.Meta.Case},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dependency retrieval failed: %w", err)
	}
	rules := make([]knowledge.DependencyRule, 0, len(deps.Results))
	for _, e := range deps.Entries() {
		rules = append(rules, e.Rule())
	}
	return layout, rules, nil
}

// standardFiles keeps the input files of a reference layout. Mesh output,
// clean scripts and documentation are dropped; Allrun is always present.
func standardFiles(layout []string) []proto.PlannedFile {
	var files []proto.PlannedFile
	hasAllrun := false
	for _, p := range layout {
		base := path.Base(p)
		switch {
		case strings.HasPrefix(p, proto.PathPolyMeshPrefix):
			continue
		case strings.HasPrefix(base, "Allclean"), strings.HasPrefix(strings.ToUpper(base), "README"):
			continue
		case p == proto.PathAllrun:
			hasAllrun = true
		}
		files = append(files, proto.PlannedFile{Path: p, Role: proto.RoleForPath(p)})
	}
	if !hasAllrun {
		files = append(files, proto.PlannedFile{Path: proto.PathAllrun, Role: proto.RoleScript})
	}
	return files
}

// applyMesh swaps blockMeshDict for the provided boundary file and makes
// every field file cover the mesh patches.
func applyMesh(files []proto.PlannedFile, mesh *proto.MeshDescriptor) []proto.PlannedFile {
	content := mesh.Source
	if content == "" {
		content = foamfile.RenderBoundary(mesh.Patches)
	}
	patches := mesh.PatchNames()
	out := make([]proto.PlannedFile, 0, len(files)+1)
	for _, f := range files {
		if f.Path == proto.PathBlockMeshDict {
			continue
		}
		if f.Role == proto.RoleField {
			f.RequiredBoundaries = slices.Clone(patches)
		}
		out = append(out, f)
	}
	return append(out, proto.PlannedFile{
		Path:     proto.PathPolyMeshBound,
		Role:     proto.RoleMesh,
		Provided: true,
		Content:  content,
	})
}

// addDependencies applies every rule to every (consumer, provider) pair of
// planned files.
func addDependencies(files []proto.PlannedFile, rules []knowledge.DependencyRule) {
	for i := range files {
		consumer := &files[i]
		for _, r := range rules {
			if ok, _ := path.Match(r.File, consumer.Path); !ok {
				continue
			}
			for j := range files {
				provider := files[j].Path
				if provider == consumer.Path || slices.Contains(consumer.DependsOn, provider) {
					continue
				}
				if ok, _ := path.Match(r.DependsOn, provider); ok {
					consumer.DependsOn = append(consumer.DependsOn, provider)
				}
			}
		}
		slices.Sort(consumer.DependsOn)
	}
}
