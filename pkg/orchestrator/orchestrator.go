// Package orchestrator drives a requirement through planning, writing,
// running and reviewing until the case runs or the run fails for good.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"foamagent/pkg/agent/llmerrors"
	"foamagent/pkg/architect"
	"foamagent/pkg/bundle"
	"foamagent/pkg/config"
	"foamagent/pkg/logx"
	"foamagent/pkg/metrics"
	"foamagent/pkg/proto"
	"foamagent/pkg/writer"
)

// Planner produces a generation plan.
type Planner interface {
	Plan(ctx context.Context, requirement string, mesh *proto.MeshDescriptor) (*proto.GenerationPlan, error)
}

// FileWriter commits one planned file into a bundle.
type FileWriter interface {
	Write(ctx context.Context, req *writer.WriteRequest) (*writer.WriteResult, error)
}

// CaseRunner executes a bundle.
type CaseRunner interface {
	Execute(ctx context.Context, runID, caseName string, b *bundle.CaseBundle, timeout time.Duration) (*proto.ExecutionResult, error)
}

// Diagnoser classifies an execution result.
type Diagnoser interface {
	Diagnose(ctx context.Context, result *proto.ExecutionResult, b *bundle.CaseBundle, history ...proto.Diagnosis) (*proto.Diagnosis, error)
}

// RecordStore persists run records.
type RecordStore interface {
	SaveRun(ctx context.Context, rec *proto.RunRecord) error
}

// Request is one requirement to solve.
type Request struct {
	Requirement string
	Mesh        *proto.MeshDescriptor
}

// RunError reports a FAILED run. Record holds the full history; Err is the
// fatal cause when there was one.
type RunError struct {
	Reason string
	Record *proto.RunRecord
	Err    error
}

func (e *RunError) Error() string {
	return "run failed: " + e.Reason
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Deps are the components a run uses. Store and Metrics are optional.
type Deps struct {
	Planner  Planner
	Writer   FileWriter
	Runner   CaseRunner
	Reviewer Diagnoser
	Store    RecordStore
	Metrics  metrics.RunRecorder
}

// Orchestrator runs the state machine. It holds no per-run state, so one
// Orchestrator may serve concurrent runs.
type Orchestrator struct {
	deps          Deps
	maxIterations int
	timeout       time.Duration
	logger        *logx.Logger
}

// New creates an Orchestrator.
func New(deps Deps, cfg *config.Config) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	maxIter := cfg.Orchestrator.MaxIterations
	if maxIter < 1 {
		maxIter = config.DefaultMaxIterations
	}
	return &Orchestrator{
		deps:          deps,
		maxIterations: maxIter,
		timeout:       cfg.RunnerTimeout(),
		logger:        logx.NewLogger("orchestrator"),
	}
}

// run is the state of one Run call.
type run struct {
	o         *Orchestrator
	rec       *proto.RunRecord
	state     proto.State
	bundle    *bundle.CaseBundle
	current   *proto.GenerationPlan
	directive string
	history   []proto.Diagnosis
	cause     error
}

// Run drives req to DONE or FAILED. A FAILED run returns its record inside
// a *RunError as well.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*proto.RunRecord, error) {
	rec := &proto.RunRecord{
		ID:          uuid.NewString(),
		Requirement: req.Requirement,
		Mesh:        req.Mesh,
		Status:      proto.StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	ctx = logx.WithRunID(ctx, rec.ID)
	r := &run{o: o, rec: rec, state: StatePlanning, bundle: bundle.New()}
	o.logger.Info("Run %s started", rec.ID)

	for !IsTerminalState(r.state) {
		if err := ctx.Err(); err != nil {
			r.fail(fmt.Sprintf("canceled in %s", r.state), err)
			break
		}
		logx.DebugFlow(ctx, "orchestrator", string(r.state), "enter", fmt.Sprintf("iteration %d", len(rec.Iterations)))
		next, err := r.step(ctx)
		if err != nil {
			r.fail(reasonFor(r.state, err), err)
			break
		}
		r.transition(next, "")
	}

	rec.FinishedAt = time.Now().UTC()
	if r.state == StateDone {
		rec.Status = proto.StatusDone
	} else {
		rec.Status = proto.StatusFailed
	}
	o.deps.Metrics.ObserveRun(string(rec.Status), len(rec.Iterations))
	r.persist(context.WithoutCancel(ctx))
	o.logger.Info("Run %s finished: %s after %d iteration(s) %s", rec.ID, rec.Status, len(rec.Iterations), rec.Reason)

	if rec.Status == proto.StatusFailed {
		return rec, &RunError{Reason: rec.Reason, Record: rec, Err: r.cause}
	}
	return rec, nil
}

func (r *run) step(ctx context.Context) (proto.State, error) {
	switch r.state {
	case StatePlanning:
		return r.plan(ctx)
	case StateWriting:
		return r.write(ctx)
	case StateRunning:
		return r.execute(ctx)
	case StateReviewing:
		return r.review(ctx)
	case StateReplanning:
		return r.replan()
	default:
		return StateFailed, fmt.Errorf("no handler for state %s", r.state)
	}
}

func (r *run) plan(ctx context.Context) (proto.State, error) {
	plan, err := r.o.deps.Planner.Plan(ctx, r.rec.Requirement, r.rec.Mesh)
	if err != nil {
		return StateFailed, err
	}
	r.rec.Plan = plan
	r.current = plan.Clone()
	logx.Debug(ctx, "orchestrator", "plan: %v", plan.Paths())
	return StateWriting, nil
}

func (r *run) write(ctx context.Context) (proto.State, error) {
	for _, entry := range r.current.Files {
		if err := ctx.Err(); err != nil {
			return StateFailed, err
		}
		_, err := r.o.deps.Writer.Write(ctx, &writer.WriteRequest{
			Entry:       entry,
			Plan:        r.rec.Plan,
			Requirement: r.rec.Requirement,
			Bundle:      r.bundle,
			Directive:   r.directive,
		})
		if err != nil {
			return StateFailed, err
		}
	}
	if missing := r.bundle.Missing(r.rec.Plan); len(missing) > 0 {
		return StateFailed, fmt.Errorf("bundle is missing planned files: %v", missing)
	}
	return StateRunning, nil
}

func (r *run) execute(ctx context.Context) (proto.State, error) {
	snap := r.bundle.Snapshot()
	r.rec.Iterations = append(r.rec.Iterations, proto.IterationRecord{
		Number:     len(r.rec.Iterations) + 1,
		PlanDelta:  r.current.Paths(),
		Directive:  r.directive,
		SnapshotID: snap.ID,
		Files:      snap.Files,
	})
	iter := r.rec.LastIteration()

	result, err := r.o.deps.Runner.Execute(ctx, r.rec.ID, r.rec.Plan.CaseName, r.bundle, r.o.timeout)
	if err != nil {
		return StateFailed, err
	}
	iter.Result = result
	r.o.deps.Metrics.ObserveExecution(string(result.Outcome), result.Duration)
	return StateReviewing, nil
}

func (r *run) review(ctx context.Context) (proto.State, error) {
	iter := r.rec.LastIteration()
	diag, err := r.o.deps.Reviewer.Diagnose(ctx, iter.Result, r.bundle, r.history...)
	if err != nil {
		return StateFailed, err
	}
	iter.Diagnosis = diag
	r.o.deps.Metrics.ObserveDiagnosis(string(diag.Kind))
	r.persist(ctx)

	switch {
	case iter.Result.Success():
		return StateDone, nil
	case diag.Kind == proto.KindUnknown:
		r.rec.Reason = "unrecognized failure: " + lastLine(diag.Detail)
		return StateFailed, nil
	case len(diag.Files) == 0:
		r.rec.Reason = fmt.Sprintf("%s failure implicates no case file", diag.Kind)
		return StateFailed, nil
	case iter.Number >= r.o.maxIterations:
		r.rec.Reason = fmt.Sprintf("still failing (%s) after %d iterations", diag.Kind, iter.Number)
		return StateFailed, nil
	}
	r.history = append(r.history, *diag)
	return StateReplanning, nil
}

func (r *run) replan() (proto.State, error) {
	diag := r.rec.LastIteration().Diagnosis
	sub := r.rec.Plan.Restrict(diag.Files)
	if len(sub.Files) == 0 {
		r.rec.Reason = fmt.Sprintf("implicated files %v are not part of the plan", diag.Files)
		return StateFailed, nil
	}
	r.current = sub
	r.directive = diag.Directive
	return StateWriting, nil
}

func (r *run) transition(to proto.State, note string) {
	from := r.state
	if !IsValidTransition(from, to) {
		r.o.logger.Error("Invalid transition %s -> %s", from, to)
		note = fmt.Sprintf("invalid transition to %s", to)
		to = StateFailed
		if r.rec.Reason == "" {
			r.rec.Reason = note
		}
	}
	r.rec.Transitions = append(r.rec.Transitions, proto.Transition{From: from, To: to, At: time.Now().UTC(), Note: note})
	r.o.deps.Metrics.ObserveTransition(string(from), string(to))
	r.o.logger.Debug("%s -> %s", from, to)
	r.state = to
}

func (r *run) fail(reason string, cause error) {
	r.rec.Reason = reason
	r.cause = cause
	r.transition(StateFailed, reason)
}

func (r *run) persist(ctx context.Context) {
	if r.o.deps.Store == nil {
		return
	}
	if err := r.o.deps.Store.SaveRun(ctx, r.rec); err != nil {
		r.o.logger.Error("Failed to persist run %s: %v", r.rec.ID, err)
	}
}

func reasonFor(state proto.State, err error) string {
	var cycle *architect.PlanCycleError
	var violation *writer.ConsistencyViolationError
	switch {
	case errors.As(err, &cycle):
		return "plan cycle: " + cycle.Error()
	case errors.As(err, &violation):
		return "consistency violation: " + violation.Error()
	case llmerrors.IsServiceUnavailable(err):
		return "LLM service unavailable: " + err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("canceled in %s", state)
	default:
		return fmt.Sprintf("%s failed: %v", state, err)
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	return s[strings.LastIndexByte(s, '\n')+1:]
}
