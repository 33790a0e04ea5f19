package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/pkg/agent"
	"foamagent/pkg/agent/llm"
	"foamagent/pkg/architect"
	"foamagent/pkg/bundle"
	"foamagent/pkg/config"
	"foamagent/pkg/knowledge"
	"foamagent/pkg/persistence"
	"foamagent/pkg/proto"
	"foamagent/pkg/testkit"
	"foamagent/pkg/writer"
)

const channelRequirement = "Laminar flow in a 2D channel with a velocity inlet of 1 m/s and a pressure outlet, icoFoam."

type clientSourceFunc func(agent.Component) (llm.LLMClient, error)

func (f clientSourceFunc) Client(c agent.Component) (llm.LLMClient, error) { return f(c) }

// countingStore records how often a run was persisted.
type countingStore struct {
	*persistence.FileStore
	mu    sync.Mutex
	saves int
}

func (s *countingStore) SaveRun(ctx context.Context, rec *proto.RunRecord) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return s.FileStore.SaveRun(ctx, rec)
}

type harness struct {
	orch      *Orchestrator
	responder *testkit.CaseResponder
	store     *countingStore
}

func newHarness(t *testing.T, script string, corpus *knowledge.Corpus, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Runner.WorkRoot = t.TempDir()
	cfg.Runner.Command = []string{"sh", "-c", script}
	cfg.Runner.TimeoutSec = 20
	cfg.Orchestrator.MaxIterations = 3
	if mutate != nil {
		mutate(cfg)
	}
	if corpus == nil {
		corpus = testkit.ChannelCorpus()
	}

	emb := knowledge.NewHashEmbedder(64)
	idx, err := knowledge.NewIndexer(emb, 0).Build(context.Background(), corpus)
	require.NoError(t, err)
	retriever, err := knowledge.NewRetriever(idx, emb, 32)
	require.NoError(t, err)

	responder := testkit.NewChannelResponder()
	client := responder.LLM("scripted")
	store := &countingStore{FileStore: persistence.NewFileStore(t.TempDir())}
	orch, err := Build(cfg, clientSourceFunc(func(agent.Component) (llm.LLMClient, error) { return client, nil }), retriever, store, nil)
	require.NoError(t, err)
	return &harness{orch: orch, responder: responder, store: store}
}

func states(rec *proto.RunRecord) []string {
	out := make([]string, len(rec.Transitions))
	for i, tr := range rec.Transitions {
		out[i] = string(tr.From) + "->" + string(tr.To)
	}
	return out
}

func TestChannelFlowDoneInOneIteration(t *testing.T) {
	h := newHarness(t, "grep -q outlet 0/U && grep -q outlet 0/p && echo End", nil, nil)

	rec, err := h.orch.Run(context.Background(), Request{Requirement: channelRequirement})
	require.NoError(t, err)
	testkit.AssertIterations(t, rec, proto.StatusDone, 1)
	testkit.AssertTopologicalOrder(t, rec.Plan)
	testkit.AssertBoundaryNamesMatch(t, bundle.FromFiles(rec.Iterations[0].Files))

	iter := rec.Iterations[0]
	assert.Equal(t, rec.Plan.Paths(), iter.PlanDelta)
	assert.Equal(t, proto.OutcomeSuccess, iter.Result.Outcome)
	assert.Equal(t, proto.KindNone, iter.Diagnosis.Kind)
	assert.Equal(t, []string{
		"PLANNING->WRITING", "WRITING->RUNNING", "RUNNING->REVIEWING", "REVIEWING->DONE",
	}, states(rec))

	stored, err := h.store.LoadRun(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusDone, stored.Status)
	assert.Equal(t, 2, h.store.saves)
}

const badInletScript = `if grep -q 'fixedValu;' 0/p; then
  echo '--> FOAM FATAL IO ERROR:' >&2
  echo 'Unknown patchField type fixedValu for patch inlet of field p' >&2
  exit 1
fi
echo End`

func TestErrorInOneFileRegeneratesOnlyThatFile(t *testing.T) {
	h := newHarness(t, badInletScript, nil, nil)
	broken := strings.Replace(testkit.ChannelFiles()["0/p"], "zeroGradient;", "fixedValu;", 1)
	h.responder.Override("0/p", broken)

	rec, err := h.orch.Run(context.Background(), Request{Requirement: channelRequirement})
	require.NoError(t, err)
	testkit.AssertIterations(t, rec, proto.StatusDone, 2)

	first, second := rec.Iterations[0], rec.Iterations[1]
	assert.Equal(t, proto.KindUnknownBCType, first.Diagnosis.Kind)
	assert.Equal(t, []string{"0/p"}, first.Diagnosis.Files)
	assert.Equal(t, []string{"0/p"}, second.PlanDelta)
	assert.Contains(t, second.Directive, "fixedValu")

	for path, content := range first.Files {
		if path != "0/p" {
			assert.Equal(t, content, second.Files[path], path)
		}
	}
	assert.NotEqual(t, first.Files["0/p"], second.Files["0/p"])
	assert.Equal(t, 2, h.responder.Served("0/p"))
	assert.Equal(t, 1, h.responder.Served("0/U"))
}

func TestPersistentFailureStopsAtMaxIterations(t *testing.T) {
	script := "echo 'Unknown patchField type fixedValu for patch inlet of field p' >&2; exit 1"
	h := newHarness(t, script, nil, nil)

	rec, err := h.orch.Run(context.Background(), Request{Requirement: channelRequirement})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Same(t, rec, runErr.Record)
	testkit.AssertIterations(t, rec, proto.StatusFailed, 3)
	assert.Contains(t, rec.Reason, "after 3 iterations")
	for _, iter := range rec.Iterations[1:] {
		assert.Equal(t, []string{"0/p"}, iter.PlanDelta)
	}
	assert.Contains(t, rec.Iterations[2].Directive, "already tried")
	assert.Equal(t, 4, h.store.saves)
}

func TestTimeoutReachesReviewerWithPartialOutput(t *testing.T) {
	h := newHarness(t, "echo 'Time = 0.005'; sleep 30", nil, func(c *config.Config) {
		c.Runner.TimeoutSec = 1
		c.Orchestrator.MaxIterations = 1
	})

	start := time.Now()
	rec, err := h.orch.Run(context.Background(), Request{Requirement: channelRequirement})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 15*time.Second)
	testkit.AssertIterations(t, rec, proto.StatusFailed, 1)

	iter := rec.Iterations[0]
	assert.Equal(t, proto.OutcomeTimeout, iter.Result.Outcome)
	assert.Contains(t, iter.Result.Stdout, "Time = 0.005")
	assert.Equal(t, proto.KindTimeout, iter.Diagnosis.Kind)
	assert.Equal(t, []string{proto.PathControlDict}, iter.Diagnosis.Files)
}

func TestPlanCycleFailsWithoutRunning(t *testing.T) {
	corpus := testkit.ChannelCorpus()
	corpus.Cases[0].Rules = []knowledge.DependencyRule{{File: "system/blockMeshDict", DependsOn: "0/*", Class: "custom"}}
	h := newHarness(t, "echo should-not-run; exit 1", corpus, nil)

	rec, err := h.orch.Run(context.Background(), Request{Requirement: channelRequirement})
	var cycle *architect.PlanCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, cycle.Files, "system/blockMeshDict")
	testkit.AssertIterations(t, rec, proto.StatusFailed, 0)
	assert.Contains(t, rec.Reason, "plan cycle")
	assert.Equal(t, []string{"PLANNING->FAILED"}, states(rec))
}

func TestConsistencyViolationIsFatal(t *testing.T) {
	h := newHarness(t, "echo End", nil, nil)
	bad := strings.ReplaceAll(testkit.ChannelFiles()["0/U"], "walls", "sides")
	h.responder.Override("0/U", bad, bad, bad)

	rec, err := h.orch.Run(context.Background(), Request{Requirement: channelRequirement})
	var violation *writer.ConsistencyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "0/U", violation.Path)
	testkit.AssertIterations(t, rec, proto.StatusFailed, 0)
	assert.Contains(t, rec.Reason, "consistency violation")
}

func TestUnknownFailureIsTerminal(t *testing.T) {
	h := newHarness(t, "echo 'Segmentation fault' >&2; exit 139", nil, nil)

	rec, err := h.orch.Run(context.Background(), Request{Requirement: channelRequirement})
	require.Error(t, err)
	testkit.AssertIterations(t, rec, proto.StatusFailed, 1)
	assert.Equal(t, proto.KindUnknown, rec.Iterations[0].Diagnosis.Kind)
	assert.Equal(t, "unrecognized failure: Segmentation fault", rec.Reason)
}

func TestCanceledBeforeStart(t *testing.T) {
	h := newHarness(t, "echo End", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := h.orch.Run(ctx, Request{Requirement: channelRequirement})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, proto.StatusFailed, rec.Status)
	assert.Equal(t, "canceled in PLANNING", rec.Reason)
	assert.Equal(t, 1, h.store.saves)
}

// Fakes for the paths the real components rarely take.

type fixedPlanner struct{ plan *proto.GenerationPlan }

func (p fixedPlanner) Plan(context.Context, string, *proto.MeshDescriptor) (*proto.GenerationPlan, error) {
	return p.plan.Clone(), nil
}

type commitWriter struct{}

func (commitWriter) Write(_ context.Context, req *writer.WriteRequest) (*writer.WriteResult, error) {
	return &writer.WriteResult{Path: req.Entry.Path}, req.Bundle.Commit(req.Entry.Path, "x")
}

type failingRunner struct{}

func (failingRunner) Execute(context.Context, string, string, *bundle.CaseBundle, time.Duration) (*proto.ExecutionResult, error) {
	return &proto.ExecutionResult{Outcome: proto.OutcomeSolverError, ExitCode: 1}, nil
}

type staticDiagnoser struct{ diag proto.Diagnosis }

func (d staticDiagnoser) Diagnose(context.Context, *proto.ExecutionResult, *bundle.CaseBundle, ...proto.Diagnosis) (*proto.Diagnosis, error) {
	out := d.diag
	return &out, nil
}

func fakeDeps(diag proto.Diagnosis) Deps {
	plan := &proto.GenerationPlan{CaseName: "c", Files: []proto.PlannedFile{{Path: "system/controlDict"}, {Path: "Allrun"}}}
	return Deps{Planner: fixedPlanner{plan}, Writer: commitWriter{}, Runner: failingRunner{}, Reviewer: staticDiagnoser{diag}}
}

func TestNoImplicatedFilesIsTerminal(t *testing.T) {
	o := New(fakeDeps(proto.Diagnosis{Kind: proto.KindDivergence}), config.Default())
	rec, err := o.Run(context.Background(), Request{Requirement: "x"})
	require.Error(t, err)
	testkit.AssertIterations(t, rec, proto.StatusFailed, 1)
	assert.Contains(t, rec.Reason, "implicates no case file")
}

func TestImplicatedFileOutsidePlanFails(t *testing.T) {
	o := New(fakeDeps(proto.Diagnosis{Kind: proto.KindMissingFile, Files: []string{"0/T"}}), config.Default())
	rec, err := o.Run(context.Background(), Request{Requirement: "x"})
	require.Error(t, err)
	assert.Contains(t, rec.Reason, "not part of the plan")
	assert.Equal(t, "REPLANNING->FAILED", states(rec)[len(rec.Transitions)-1])
}

func TestRunErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&RunError{Reason: "x", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "run failed: x", err.Error())
}
