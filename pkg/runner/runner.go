// Package runner materializes a case bundle into a working directory and
// runs the case under a time limit.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"foamagent/pkg/bundle"
	"foamagent/pkg/config"
	"foamagent/pkg/exec"
	"foamagent/pkg/logx"
	"foamagent/pkg/proto"
	"foamagent/pkg/utils"
)

// MaxLogBytes caps how much of each log.* file is kept (the tail survives).
const MaxLogBytes = 64 * 1024

// Markers that turn a zero exit code into a solver error.
var errorMarkers = []string{"FOAM FATAL", "ERROR:"} //nolint:gochecknoglobals // constant table

// Runner executes case bundles.
type Runner struct {
	executor exec.Executor
	cfg      config.RunnerConfig
	logger   *logx.Logger
}

// New creates a Runner. A nil executor selects exec.LocalExec.
func New(cfg config.RunnerConfig, executor exec.Executor) *Runner {
	if executor == nil {
		executor = exec.NewLocalExec()
	}
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"bash", "./Allrun"}
	}
	return &Runner{executor: executor, cfg: cfg, logger: logx.NewLogger("runner")}
}

// WorkDir returns the directory run runID of caseName executes in. Each run
// gets its own directory so concurrent runs of the same case never share one.
func (r *Runner) WorkDir(runID, caseName string) string {
	name := safeName(caseName, "case")
	if id := safeName(runID, ""); id != "" {
		name += "-" + id
	}
	return filepath.Join(r.cfg.WorkRoot, name)
}

func safeName(s, fallback string) string {
	name := filepath.Base(s)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return fallback
	}
	return name
}

// Execute materializes b into the work directory of runID and runs the
// configured command. An empty runID gets a fresh one. It returns an error
// only when the case could not be started or ctx was canceled; solver
// failures and timeouts are results.
func (r *Runner) Execute(ctx context.Context, runID, caseName string, b *bundle.CaseBundle, timeout time.Duration) (*proto.ExecutionResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	dir := r.WorkDir(runID, caseName)
	if err := r.materialize(dir, b); err != nil {
		return nil, logx.Wrap(err, "case "+caseName)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	command := r.command()
	opts := &exec.Opts{WorkDir: abs, Timeout: timeout, Env: r.env()}
	r.logger.Info("Running %s in %s (limit %s)", strings.Join(command, " "), abs, timeout)

	started := time.Now()
	res, err := r.executor.Run(ctx, command, opts)
	if err != nil {
		return nil, fmt.Errorf("case %s did not run to completion: %w", caseName, err)
	}

	result := &proto.ExecutionResult{
		ExitCode:  res.ExitCode,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Logs:      collectLogs(abs),
		Duration:  res.Duration,
		StartedAt: started,
		WorkDir:   abs,
		Command:   command,
	}
	result.Outcome = classify(res.TimedOut, result)
	if result.Outcome == proto.OutcomeTimeout {
		result.Stderr = fmt.Sprintf("execution exceeded the time limit of %d s\n%s", int(timeout.Seconds()), result.Stderr)
	}
	r.logger.Info("Case %s finished: %s (exit %d, %s)", caseName, result.Outcome, result.ExitCode, result.Duration.Round(time.Millisecond))
	return result, nil
}

func (r *Runner) materialize(dir string, b *bundle.CaseBundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	if err := utils.CleanDirectoryContents(dir, nil); err != nil {
		return err
	}
	if r.cfg.MeshDir != "" {
		if err := os.CopyFS(filepath.Join(dir, "constant", "polyMesh"), os.DirFS(r.cfg.MeshDir)); err != nil {
			return fmt.Errorf("failed to copy mesh from %s: %w", r.cfg.MeshDir, err)
		}
	}
	if err := b.Materialize(dir); err != nil {
		return fmt.Errorf("failed to materialize case: %w", err)
	}
	return nil
}

// command prefixes the configured command with the OpenFOAM environment
// when a bashrc is set.
func (r *Runner) command() []string {
	if r.cfg.Bashrc == "" {
		return append([]string(nil), r.cfg.Command...)
	}
	quoted := make([]string, len(r.cfg.Command))
	for i, arg := range r.cfg.Command {
		quoted[i] = shellQuote(arg)
	}
	return []string{"bash", "-c", "source " + shellQuote(r.cfg.Bashrc) + " && " + strings.Join(quoted, " ")}
}

func (r *Runner) env() []string {
	keys := make([]string, 0, len(r.cfg.Env))
	for k := range r.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+r.cfg.Env[k])
	}
	return env
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func classify(timedOut bool, result *proto.ExecutionResult) proto.Outcome {
	if timedOut {
		return proto.OutcomeTimeout
	}
	if result.ExitCode != 0 || hasErrorMarker(result.CombinedOutput()) {
		return proto.OutcomeSolverError
	}
	return proto.OutcomeSuccess
}

func hasErrorMarker(output string) bool {
	for _, m := range errorMarkers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

// collectLogs reads the log.* files the case left in dir.
func collectLogs(dir string) map[string]string {
	matches, err := filepath.Glob(filepath.Join(dir, "log.*"))
	if err != nil || len(matches) == 0 {
		return nil
	}
	logs := make(map[string]string, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		if len(data) > MaxLogBytes {
			data = data[len(data)-MaxLogBytes:]
		}
		logs[filepath.Base(m)] = string(data)
	}
	return logs
}
