package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/pkg/agent"
	"foamagent/pkg/agent/llm"
	"foamagent/pkg/config"
	"foamagent/pkg/knowledge"
	"foamagent/pkg/orchestrator"
	"foamagent/pkg/persistence"
	"foamagent/pkg/proto"
	"foamagent/pkg/testkit"
)

const channelRequirement = "Laminar flow in a 2D channel with a velocity inlet of 1 m/s and a pressure outlet, icoFoam."

type clientSourceFunc func(agent.Component) (llm.LLMClient, error)

func (f clientSourceFunc) Client(c agent.Component) (llm.LLMClient, error) { return f(c) }

func newTestRegistry(t *testing.T, script string) *Registry {
	t.Helper()
	cfg := config.Default()
	cfg.Runner.WorkRoot = t.TempDir()
	cfg.Runner.Command = []string{"sh", "-c", script}
	cfg.Orchestrator.MaxIterations = 2

	emb := knowledge.NewHashEmbedder(64)
	idx, err := knowledge.NewIndexer(emb, 0).Build(context.Background(), testkit.ChannelCorpus())
	require.NoError(t, err)
	retriever, err := knowledge.NewRetriever(idx, emb, 32)
	require.NoError(t, err)

	client := testkit.NewChannelResponder().LLM("scripted")
	clients := clientSourceFunc(func(agent.Component) (llm.LLMClient, error) { return client, nil })
	deps, err := orchestrator.BuildDeps(cfg, clients, retriever, persistence.NewFileStore(t.TempDir()), nil)
	require.NoError(t, err)

	reg, err := NewCaseRegistry(deps, orchestrator.New(deps, cfg), cfg.RunnerTimeout())
	require.NoError(t, err)
	return reg
}

func channelFilesArg(skip string) map[string]any {
	out := map[string]any{}
	for p, c := range testkit.ChannelFiles() {
		if p != skip {
			out[p] = c
		}
	}
	return out
}

func TestRegistryDefinitions(t *testing.T) {
	reg := newTestRegistry(t, "echo End")

	var names []string
	for _, def := range reg.Definitions() {
		names = append(names, def.Name)
		assert.Equal(t, "object", def.InputSchema.Type)
		assert.NotEmpty(t, def.Description)
	}
	assert.Equal(t, []string{ToolDiagnoseRun, ToolPlanCase, ToolRunCase, ToolSolveRequirement, ToolWriteFile}, names)

	_, err := reg.Get("nope")
	assert.Error(t, err)
	assert.Error(t, reg.Register(NewPlanCaseTool(nil)), "duplicate name")
	assert.Error(t, reg.Register(nil))
}

func TestPlanThenWriteFile(t *testing.T) {
	reg := newTestRegistry(t, "echo End")
	ctx := context.Background()

	planned, err := reg.Exec(ctx, ToolPlanCase, map[string]any{"requirement": channelRequirement})
	require.NoError(t, err)
	plan := planned["plan"]
	require.NotNil(t, plan)

	out, err := reg.Exec(ctx, ToolWriteFile, map[string]any{
		"requirement": channelRequirement,
		"plan":        plan,
		"path":        "0/U",
		"files":       channelFilesArg("0/U"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0/U", out["path"])
	assert.Contains(t, out["content"], "boundaryField")
	assert.EqualValues(t, 1, out["attempts"])

	_, err = reg.Exec(ctx, ToolWriteFile, map[string]any{"plan": plan, "path": "constant/nothing"})
	assert.ErrorContains(t, err, "not part of the plan")
}

func TestPlanCaseRequiresRequirement(t *testing.T) {
	reg := newTestRegistry(t, "echo End")
	_, err := reg.Exec(context.Background(), ToolPlanCase, map[string]any{})
	assert.ErrorContains(t, err, "requirement is required")
}

func TestRunCaseAndDiagnose(t *testing.T) {
	script := `echo '--> FOAM FATAL IO ERROR:' >&2
echo 'Unknown patchField type fixedValu for patch inlet of field p' >&2
exit 1`
	reg := newTestRegistry(t, script)
	ctx := context.Background()
	files := channelFilesArg("")

	result, err := reg.Exec(ctx, ToolRunCase, map[string]any{"case_name": "channel", "files": files, "timeout_sec": 5.0})
	require.NoError(t, err)
	assert.Equal(t, string(proto.OutcomeSolverError), result["outcome"])
	assert.EqualValues(t, 1, result["exit_code"])

	diag, err := reg.Exec(ctx, ToolDiagnoseRun, map[string]any{"result": result, "files": files})
	require.NoError(t, err)
	assert.Equal(t, string(proto.KindUnknownBCType), diag["kind"])
	assert.Equal(t, []any{"0/p"}, diag["files"])
	assert.Contains(t, diag["directive"], "fixedValu")
}

func TestRunCaseRequiresFiles(t *testing.T) {
	reg := newTestRegistry(t, "echo End")
	_, err := reg.Exec(context.Background(), ToolRunCase, map[string]any{"case_name": "x"})
	assert.ErrorContains(t, err, "files are required")
}

func TestSolveRequirement(t *testing.T) {
	reg := newTestRegistry(t, "echo End")
	out, err := reg.Exec(context.Background(), ToolSolveRequirement, map[string]any{"requirement": channelRequirement})
	require.NoError(t, err)
	assert.Equal(t, string(proto.StatusDone), out["status"])
	record, ok := out["record"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, record["iterations"], 1)
}

func TestSolveRequirementFailureIsAResult(t *testing.T) {
	reg := newTestRegistry(t, "echo 'Segmentation fault' >&2; exit 139")
	out, err := reg.Exec(context.Background(), ToolSolveRequirement, map[string]any{"requirement": channelRequirement})
	require.NoError(t, err)
	assert.Equal(t, string(proto.StatusFailed), out["status"])
	assert.Contains(t, out["reason"], "unrecognized failure")
}

func TestMeshInput(t *testing.T) {
	m := &meshInput{Boundary: `
2
(
    inlet { type patch; nFaces 10; startFace 100; }
    walls { type wall; inGroups List<word> 1(wall); nFaces 20; startFace 110; }
)
`}
	desc, err := m.descriptor()
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, []string{"inlet", "walls"}, desc.PatchNames())
	assert.Equal(t, m.Boundary, desc.Source)

	desc, err = (&meshInput{Patches: []proto.Patch{{Name: "a", Type: "patch"}}}).descriptor()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, desc.PatchNames())

	desc, err = (*meshInput)(nil).descriptor()
	require.NoError(t, err)
	assert.Nil(t, desc)
}

func TestIntArgOrDefault(t *testing.T) {
	args := map[string]any{"f": 3.0, "i": 4, "neg": -1, "s": "x"}
	assert.Equal(t, 3, intArgOrDefault(args, "f", 9))
	assert.Equal(t, 4, intArgOrDefault(args, "i", 9))
	assert.Equal(t, 9, intArgOrDefault(args, "neg", 9))
	assert.Equal(t, 9, intArgOrDefault(args, "s", 9))
	assert.Equal(t, 9, intArgOrDefault(args, "missing", 9))
}
