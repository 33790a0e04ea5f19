package architect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/internal/mocks"
	"foamagent/pkg/config"
	"foamagent/pkg/knowledge"
	"foamagent/pkg/proto"
)

const cavityJSON = `{"case_name": "lid driven cavity", "case_domain": "incompressible", "case_category": "cavity", "case_solver": "icoFoam", "description": "2D cavity"}`

func cavityCase() knowledge.ReferenceCase {
	paths := []string{
		"0/U", "0/p", "Allclean", "Allrun", "README.md",
		"constant/polyMesh/boundary", "constant/transportProperties",
		"system/blockMeshDict", "system/controlDict", "system/fvSchemes", "system/fvSolution",
	}
	rc := knowledge.ReferenceCase{
		Path: "incompressible/icoFoam/cavity/cavity", Name: "cavity",
		Solver: "icoFoam", Domain: "incompressible", Category: "cavity",
	}
	for _, p := range paths {
		rc.Files = append(rc.Files, knowledge.CaseFile{Path: p, Content: p})
	}
	return rc
}

func newTestArchitect(t *testing.T, client *mocks.ScriptedLLM, cases ...knowledge.ReferenceCase) *Architect {
	t.Helper()
	emb := knowledge.NewHashEmbedder(32)
	idx, err := knowledge.NewIndexer(emb, 0).Build(context.Background(), &knowledge.Corpus{Cases: cases})
	require.NoError(t, err)
	r, err := knowledge.NewRetriever(idx, emb, 16)
	require.NoError(t, err)
	return New(client, r, config.RetrievalConfig{})
}

func assertTopological(t *testing.T, plan *proto.GenerationPlan) {
	t.Helper()
	pos := map[string]int{}
	for i, p := range plan.Paths() {
		pos[p] = i
	}
	for i := range plan.Files {
		for _, dep := range plan.Files[i].DependsOn {
			if j, ok := pos[dep]; ok {
				assert.Less(t, j, i, "%s must precede %s", dep, plan.Files[i].Path)
			}
		}
	}
}

func TestPlanWithoutMesh(t *testing.T) {
	client := mocks.NewScriptedLLM("architect").QueueResponse("```json\n" + cavityJSON + "\n```")
	a := newTestArchitect(t, client, cavityCase())

	plan, err := a.Plan(context.Background(), "lid driven cavity at Re 10", nil)
	require.NoError(t, err)
	assert.Equal(t, "lid_driven_cavity", plan.CaseName)
	assert.Equal(t, "icoFoam", plan.Solver)
	assert.Equal(t, []string{
		"system/blockMeshDict",
		"system/controlDict",
		"system/fvSchemes",
		"constant/transportProperties",
		"0/U",
		"0/p",
		"system/fvSolution",
		"Allrun",
	}, plan.Paths())
	assertTopological(t, plan)

	u, ok := plan.Lookup("0/U")
	require.True(t, ok)
	assert.Equal(t, []string{"system/blockMeshDict"}, u.DependsOn)
	assert.Equal(t, proto.RoleField, u.Role)
	fvSolution, _ := plan.Lookup("system/fvSolution")
	assert.Equal(t, []string{"0/U", "0/p"}, fvSolution.DependsOn)
	allrun, _ := plan.Lookup("Allrun")
	assert.Equal(t, []string{"system/controlDict"}, allrun.DependsOn)

	assert.Contains(t, client.LastPrompt(), "case_solver must be one of: icoFoam.")
}

func TestPlanWithMesh(t *testing.T) {
	client := mocks.NewScriptedLLM("architect").QueueResponse(cavityJSON)
	a := newTestArchitect(t, client, cavityCase())
	mesh := &proto.MeshDescriptor{
		Patches: []proto.Patch{{Name: "inlet", Type: "patch"}, {Name: "walls", Type: "wall"}},
		Source:  "2\n(\ninlet { type patch; }\nwalls { type wall; }\n)\n",
	}

	plan, err := a.Plan(context.Background(), "cavity on my mesh", mesh)
	require.NoError(t, err)
	_, hasBlockMesh := plan.Lookup("system/blockMeshDict")
	assert.False(t, hasBlockMesh)

	boundary, ok := plan.Lookup(proto.PathPolyMeshBound)
	require.True(t, ok)
	assert.True(t, boundary.Provided)
	assert.Equal(t, mesh.Source, boundary.Content)

	p, _ := plan.Lookup("0/p")
	assert.Equal(t, []string{"inlet", "walls"}, p.RequiredBoundaries)
	assert.Equal(t, []string{proto.PathPolyMeshBound}, p.DependsOn)
	assertTopological(t, plan)
}

func TestPlanRendersBoundaryWithoutSource(t *testing.T) {
	client := mocks.NewScriptedLLM("architect").QueueResponse(cavityJSON)
	a := newTestArchitect(t, client, cavityCase())
	plan, err := a.Plan(context.Background(), "cavity", &proto.MeshDescriptor{
		Patches: []proto.Patch{{Name: "frontAndBack", Type: "empty"}},
	})
	require.NoError(t, err)
	boundary, ok := plan.Lookup(proto.PathPolyMeshBound)
	require.True(t, ok)
	assert.Contains(t, boundary.Content, "frontAndBack")
}

func TestPlanCycle(t *testing.T) {
	rc := cavityCase()
	rc.Rules = []knowledge.DependencyRule{{File: "system/blockMeshDict", DependsOn: "0/*", Class: "custom"}}
	client := mocks.NewScriptedLLM("architect").QueueResponse(cavityJSON)
	a := newTestArchitect(t, client, rc)

	_, err := a.Plan(context.Background(), "cavity", nil)
	var cycle *PlanCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"0/U", "0/p", "system/blockMeshDict"}, cycle.Files)
}

func TestPlanClassificationRetries(t *testing.T) {
	client := mocks.NewScriptedLLM("architect").
		QueueResponse("I think this is a cavity flow.").
		QueueResponse(`{"case_name": "cavity", "case_solver": ""}`).
		QueueResponse(cavityJSON)
	a := newTestArchitect(t, client, cavityCase())

	plan, err := a.Plan(context.Background(), "cavity", nil)
	require.NoError(t, err)
	assert.Equal(t, "icoFoam", plan.Solver)
	assert.Equal(t, 3, client.CallCount())
	assert.Equal(t, 2, client.PromptsContaining("could not be used"))
}

func TestPlanClassificationExhausted(t *testing.T) {
	client := mocks.NewScriptedLLM("architect")
	for i := 0; i < MaxClassifyAttempts; i++ {
		client.QueueResponse("{not json")
	}
	a := newTestArchitect(t, client, cavityCase())
	_, err := a.Plan(context.Background(), "cavity", nil)
	require.Error(t, err)
	assert.Equal(t, MaxClassifyAttempts, client.CallCount())
}

func TestPlanLLMError(t *testing.T) {
	boom := errors.New("service down")
	client := mocks.NewScriptedLLM("architect").QueueError(boom)
	a := newTestArchitect(t, client, cavityCase())
	_, err := a.Plan(context.Background(), "cavity", nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, client.CallCount())
}

func TestPlanFallsBackToAnySolver(t *testing.T) {
	client := mocks.NewScriptedLLM("architect").
		QueueResponse(`{"case_name": "cavity", "case_solver": "pisoFoam"}`)
	a := newTestArchitect(t, client, cavityCase())
	plan, err := a.Plan(context.Background(), "cavity", nil)
	require.NoError(t, err)
	assert.Equal(t, "pisoFoam", plan.Solver)
	assert.Equal(t, "incompressible", plan.Domain, "domain falls back to the reference case")
	assert.NotEmpty(t, plan.Files)
}

func TestPlanNoReference(t *testing.T) {
	client := mocks.NewScriptedLLM("architect").QueueResponse(cavityJSON)
	a := newTestArchitect(t, client)
	_, err := a.Plan(context.Background(), "cavity", nil)
	require.ErrorIs(t, err, ErrNoReference)
}

func TestPlanAddsAllrun(t *testing.T) {
	rc := cavityCase()
	var files []knowledge.CaseFile
	for _, f := range rc.Files {
		if f.Path != "Allrun" {
			files = append(files, f)
		}
	}
	rc.Files = files
	client := mocks.NewScriptedLLM("architect").QueueResponse(cavityJSON)
	plan, err := newTestArchitect(t, client, rc).Plan(context.Background(), "cavity", nil)
	require.NoError(t, err)
	allrun, ok := plan.Lookup(proto.PathAllrun)
	require.True(t, ok)
	assert.Equal(t, proto.RoleScript, allrun.Role)
}

func foreignCase(name string, rule knowledge.DependencyRule) knowledge.ReferenceCase {
	rc := knowledge.ReferenceCase{
		Path: "incompressible/simpleFoam/" + name, Name: name,
		Solver: "simpleFoam", Domain: "incompressible", Category: name,
		Rules: []knowledge.DependencyRule{rule},
	}
	for _, p := range []string{"0/U", "system/controlDict", "constant/transportProperties"} {
		rc.Files = append(rc.Files, knowledge.CaseFile{Path: p, Content: p})
	}
	return rc
}

func TestPlanIgnoresRulesOfOtherCases(t *testing.T) {
	b := foreignCase("b", knowledge.DependencyRule{File: "system/controlDict", DependsOn: "constant/transportProperties", Class: "custom"})
	c := foreignCase("c", knowledge.DependencyRule{File: "constant/transportProperties", DependsOn: "system/controlDict", Class: "custom"})
	client := mocks.NewScriptedLLM("architect").QueueResponse(cavityJSON)
	a := newTestArchitect(t, client, cavityCase(), b, c)

	plan, err := a.Plan(context.Background(), "lid driven cavity", nil)
	require.NoError(t, err)
	controlDict, _ := plan.Lookup("system/controlDict")
	transport, _ := plan.Lookup("constant/transportProperties")
	assert.Empty(t, controlDict.DependsOn)
	assert.Empty(t, transport.DependsOn)
}

func TestPlanKeepsEveryRuleOfTheChosenCase(t *testing.T) {
	rc := cavityCase()
	rc.Rules = []knowledge.DependencyRule{
		{File: "system/controlDict", DependsOn: "constant/transportProperties", Class: "custom"},
		{File: "system/fvSchemes", DependsOn: "constant/transportProperties", Class: "custom"},
		{File: "system/fvSolution", DependsOn: "system/fvSchemes", Class: "custom"},
	}
	emb := knowledge.NewHashEmbedder(32)
	idx, err := knowledge.NewIndexer(emb, 0).Build(context.Background(), &knowledge.Corpus{Cases: []knowledge.ReferenceCase{rc}})
	require.NoError(t, err)
	r, err := knowledge.NewRetriever(idx, emb, 16)
	require.NoError(t, err)
	client := mocks.NewScriptedLLM("architect").QueueResponse(cavityJSON)
	a := New(client, r, config.RetrievalConfig{DependencyK: 1})

	plan, err := a.Plan(context.Background(), "cavity", nil)
	require.NoError(t, err)
	controlDict, _ := plan.Lookup("system/controlDict")
	fvSchemes, _ := plan.Lookup("system/fvSchemes")
	fvSolution, _ := plan.Lookup("system/fvSolution")
	assert.Equal(t, []string{"constant/transportProperties"}, controlDict.DependsOn)
	assert.Equal(t, []string{"constant/transportProperties"}, fvSchemes.DependsOn)
	assert.Contains(t, fvSolution.DependsOn, "system/fvSchemes")
	assertTopological(t, plan)
}
