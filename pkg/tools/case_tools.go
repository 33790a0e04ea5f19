package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foamagent/pkg/bundle"
	"foamagent/pkg/foamfile"
	"foamagent/pkg/logx"
	"foamagent/pkg/orchestrator"
	"foamagent/pkg/proto"
	"foamagent/pkg/utils"
	"foamagent/pkg/writer"
)

// Schema fragments shared by several tools.
var (
	filesProperty = Property{ //nolint:gochecknoglobals // schema constant
		Type:                 "object",
		Description:          "Case files keyed by relative path",
		AdditionalProperties: &Property{Type: "string"},
	}
	meshProperty = Property{ //nolint:gochecknoglobals // schema constant
		Type:        "object",
		Description: "External mesh: a patch list or the text of constant/polyMesh/boundary",
		Properties: map[string]*Property{
			"patches": {Type: "array", Items: &Property{Type: "object", Properties: map[string]*Property{
				"name": {Type: "string"},
				"type": {Type: "string"},
			}}},
			"boundary": {Type: "string", Description: "Content of a polyMesh boundary file"},
		},
	}
)

type meshInput struct {
	Patches  []proto.Patch `json:"patches"`
	Boundary string        `json:"boundary"`
}

func (m *meshInput) descriptor() (*proto.MeshDescriptor, error) {
	if m == nil || (len(m.Patches) == 0 && m.Boundary == "") {
		return nil, nil
	}
	if len(m.Patches) > 0 {
		return &proto.MeshDescriptor{Patches: m.Patches, Source: m.Boundary}, nil
	}
	patches, err := foamfile.MeshPatches(proto.PathPolyMeshBound, m.Boundary)
	if err != nil {
		return nil, fmt.Errorf("mesh boundary: %w", err)
	}
	return &proto.MeshDescriptor{Patches: patches, Source: m.Boundary}, nil
}

func decodeArgs(args map[string]any, out any) error {
	if err := utils.DecodeMap(args, out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// PlanCaseTool plans the files of a case.
type PlanCaseTool struct {
	planner orchestrator.Planner
}

// NewPlanCaseTool creates a plan_case tool.
func NewPlanCaseTool(planner orchestrator.Planner) *PlanCaseTool {
	return &PlanCaseTool{planner: planner}
}

// Name returns the tool name.
func (t *PlanCaseTool) Name() string { return ToolPlanCase }

// Definition returns the tool definition.
func (t *PlanCaseTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolPlanCase,
		Description: "Plan the files of an OpenFOAM case for a requirement, in generation order.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"requirement": {Type: "string", Description: "Natural-language case requirement"},
				"mesh":        meshProperty,
			},
			Required: []string{"requirement"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *PlanCaseTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in struct {
		Requirement string     `json:"requirement"`
		Mesh        *meshInput `json:"mesh"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Requirement == "" {
		return nil, fmt.Errorf("requirement is required")
	}
	mesh, err := in.Mesh.descriptor()
	if err != nil {
		return nil, err
	}
	plan, err := t.planner.Plan(ctx, in.Requirement, mesh)
	if err != nil {
		return nil, err
	}
	encoded, err := utils.EncodeMap(plan)
	if err != nil {
		return nil, err
	}
	return map[string]any{"plan": encoded}, nil
}

// WriteFileTool generates one planned file against the given files.
type WriteFileTool struct {
	writer orchestrator.FileWriter
}

// NewWriteFileTool creates a write_file tool.
func NewWriteFileTool(w orchestrator.FileWriter) *WriteFileTool {
	return &WriteFileTool{writer: w}
}

// Name returns the tool name.
func (t *WriteFileTool) Name() string { return ToolWriteFile }

// Definition returns the tool definition.
func (t *WriteFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolWriteFile,
		Description: "Generate one planned case file consistent with the files already written.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"requirement": {Type: "string", Description: "Natural-language case requirement"},
				"plan":        {Type: "object", Description: "Plan returned by plan_case"},
				"path":        {Type: "string", Description: "Relative path of the planned file to write"},
				"files":       filesProperty,
				"directive":   {Type: "string", Description: "Correction from a previous diagnosis"},
			},
			Required: []string{"plan", "path"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *WriteFileTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in struct {
		Requirement string                `json:"requirement"`
		Plan        *proto.GenerationPlan `json:"plan"`
		Path        string                `json:"path"`
		Files       map[string]string     `json:"files"`
		Directive   string                `json:"directive"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Plan == nil {
		return nil, fmt.Errorf("plan is required")
	}
	entry, ok := in.Plan.Lookup(in.Path)
	if !ok {
		return nil, fmt.Errorf("%s is not part of the plan", in.Path)
	}
	res, err := t.writer.Write(ctx, &writer.WriteRequest{
		Entry:       *entry,
		Plan:        in.Plan,
		Requirement: in.Requirement,
		Bundle:      bundle.FromFiles(in.Files),
		Directive:   in.Directive,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": res.Path, "content": res.Content, "attempts": res.Attempts}, nil
}

// RunCaseTool executes a set of case files.
type RunCaseTool struct {
	runner         orchestrator.CaseRunner
	defaultTimeout time.Duration
}

// NewRunCaseTool creates a run_case tool.
func NewRunCaseTool(r orchestrator.CaseRunner, defaultTimeout time.Duration) *RunCaseTool {
	return &RunCaseTool{runner: r, defaultTimeout: defaultTimeout}
}

// Name returns the tool name.
func (t *RunCaseTool) Name() string { return ToolRunCase }

// Definition returns the tool definition.
func (t *RunCaseTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolRunCase,
		Description: "Run a case under a time limit and return the classified execution result.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"case_name":   {Type: "string", Description: "Name of the working directory"},
				"files":       filesProperty,
				"timeout_sec": {Type: "integer", Description: "Time limit in seconds"},
			},
			Required: []string{"files"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *RunCaseTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in struct {
		CaseName string            `json:"case_name"`
		Files    map[string]string `json:"files"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if len(in.Files) == 0 {
		return nil, fmt.Errorf("files are required")
	}
	timeout := t.defaultTimeout
	if sec := intArgOrDefault(args, "timeout_sec", 0); sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	b := bundle.New()
	for _, p := range sortedKeys(in.Files) {
		if err := b.Commit(p, in.Files[p]); err != nil {
			return nil, err
		}
	}
	res, err := t.runner.Execute(ctx, "", in.CaseName, b, timeout)
	if err != nil {
		return nil, err
	}
	return utils.EncodeMap(res)
}

// DiagnoseRunTool diagnoses an execution result.
type DiagnoseRunTool struct {
	reviewer orchestrator.Diagnoser
}

// NewDiagnoseRunTool creates a diagnose_run tool.
func NewDiagnoseRunTool(r orchestrator.Diagnoser) *DiagnoseRunTool {
	return &DiagnoseRunTool{reviewer: r}
}

// Name returns the tool name.
func (t *DiagnoseRunTool) Name() string { return ToolDiagnoseRun }

// Definition returns the tool definition.
func (t *DiagnoseRunTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolDiagnoseRun,
		Description: "Classify a failed run and name the files to regenerate with a repair directive.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"result":  {Type: "object", Description: "Execution result returned by run_case"},
				"files":   filesProperty,
				"history": {Type: "array", Description: "Earlier diagnoses of the same run", Items: &Property{Type: "object"}},
			},
			Required: []string{"result", "files"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *DiagnoseRunTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in struct {
		Result  *proto.ExecutionResult `json:"result"`
		Files   map[string]string      `json:"files"`
		History []proto.Diagnosis      `json:"history"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Result == nil {
		return nil, fmt.Errorf("result is required")
	}
	diag, err := t.reviewer.Diagnose(ctx, in.Result, bundle.FromFiles(in.Files), in.History...)
	if err != nil {
		return nil, err
	}
	return utils.EncodeMap(diag)
}

// SolveRequirementTool runs the whole loop.
type SolveRequirementTool struct {
	orch   *orchestrator.Orchestrator
	logger *logx.Logger
}

// NewSolveRequirementTool creates a solve_requirement tool.
func NewSolveRequirementTool(o *orchestrator.Orchestrator) *SolveRequirementTool {
	return &SolveRequirementTool{orch: o, logger: logx.NewLogger("tools")}
}

// Name returns the tool name.
func (t *SolveRequirementTool) Name() string { return ToolSolveRequirement }

// Definition returns the tool definition.
func (t *SolveRequirementTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSolveRequirement,
		Description: "Plan, write, run and repair a case until it runs or cannot be fixed. Returns the run record.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"requirement": {Type: "string", Description: "Natural-language case requirement"},
				"mesh":        meshProperty,
			},
			Required: []string{"requirement"},
		},
	}
}

// Exec executes the tool with the given arguments. A FAILED run is a
// result, not an error.
func (t *SolveRequirementTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in struct {
		Requirement string     `json:"requirement"`
		Mesh        *meshInput `json:"mesh"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Requirement == "" {
		return nil, fmt.Errorf("requirement is required")
	}
	mesh, err := in.Mesh.descriptor()
	if err != nil {
		return nil, err
	}
	rec, err := t.orch.Run(ctx, orchestrator.Request{Requirement: in.Requirement, Mesh: mesh})
	var runErr *orchestrator.RunError
	if err != nil && !errors.As(err, &runErr) {
		return nil, err
	}
	t.logger.Info("solve_requirement finished: %s", rec.Status)
	encoded, err := utils.EncodeMap(rec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": string(rec.Status), "reason": rec.Reason, "record": encoded}, nil
}

// NewCaseRegistry registers the five case tools.
func NewCaseRegistry(deps orchestrator.Deps, orch *orchestrator.Orchestrator, defaultTimeout time.Duration) (*Registry, error) {
	r := NewRegistry()
	for _, tool := range []ToolChannel{
		NewPlanCaseTool(deps.Planner),
		NewWriteFileTool(deps.Writer),
		NewRunCaseTool(deps.Runner, defaultTimeout),
		NewDiagnoseRunTool(deps.Reviewer),
		NewSolveRequirementTool(orch),
	} {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}
