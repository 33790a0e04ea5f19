// Package exec runs case commands on the local machine in their own process
// group so a timeout or cancellation never leaves solver processes behind.
package exec

import (
	"context"
	"time"
)

// ExecutorType represents the type of executor.
type ExecutorType string

// ExecutorTypeLocal runs commands directly on the host.
const ExecutorTypeLocal ExecutorType = "local"

// DefaultWaitDelay bounds how long output pipes are drained after the
// process group has been killed.
const DefaultWaitDelay = 2 * time.Second

// Executor defines the interface for executing commands.
type Executor interface {
	// Run executes a command with the given options and returns the result.
	// A non-zero exit code is not an error.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Name returns the executor type name for logging/debugging.
	Name() ExecutorType

	// Available returns true if this executor can be used in the current environment.
	Available() bool
}

// Opts contains options for command execution.
type Opts struct {
	// Env is appended to the current environment (KEY=VALUE format).
	Env []string

	// Timeout is the maximum duration for command execution. Zero means
	// no limit beyond ctx.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string

	// WaitDelay overrides DefaultWaitDelay.
	WaitDelay time.Duration
}

// Result contains the result of command execution.
type Result struct {
	// Stdout contains the standard output, partial when the command was killed.
	Stdout string

	// Stderr contains the standard error output.
	Stderr string

	// ExecutorUsed indicates which executor was used (for debugging)
	ExecutorUsed string

	// Duration is how long the command took to execute.
	Duration time.Duration

	// ExitCode is the exit code of the command, -1 when it was killed.
	ExitCode int

	// TimedOut is set when opts.Timeout fired.
	TimedOut bool
}

// DefaultExecOpts returns default execution options.
func DefaultExecOpts() Opts {
	return Opts{
		Timeout:   5 * time.Minute,
		WaitDelay: DefaultWaitDelay,
	}
}
