package exec

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExec_NameAndAvailable(t *testing.T) {
	e := NewLocalExec()
	assert.Equal(t, ExecutorTypeLocal, e.Name())
	assert.True(t, e.Available())
}

func TestLocalExec_Run_Success(t *testing.T) {
	opts := DefaultExecOpts()
	result, err := NewLocalExec().Run(context.Background(), []string{"echo", "hello world"}, &opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello world", strings.TrimSpace(result.Stdout))
	assert.Equal(t, "local", result.ExecutorUsed)
	assert.Positive(t, result.Duration)
	assert.False(t, result.TimedOut)
}

func TestLocalExec_Run_Failure(t *testing.T) {
	result, err := NewLocalExec().Run(context.Background(), []string{"sh", "-c", "echo oops >&2; exit 3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestLocalExec_Run_EmptyCommand(t *testing.T) {
	_, err := NewLocalExec().Run(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestLocalExec_Run_WorkDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))

	opts := &Opts{WorkDir: dir, Env: []string{"CASE_NAME=channel"}}
	result, err := NewLocalExec().Run(context.Background(), []string{"sh", "-c", "ls; echo $CASE_NAME"}, opts)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "marker")
	assert.Contains(t, result.Stdout, "channel")

	_, err = NewLocalExec().Run(context.Background(), []string{"true"}, &Opts{WorkDir: filepath.Join(dir, "missing")})
	require.Error(t, err)
}

func TestLocalExec_Run_TimeoutKillsGroup(t *testing.T) {
	dir := t.TempDir()
	script := "echo started; (sleep 30; touch late) & sleep 30"
	opts := &Opts{WorkDir: dir, Timeout: 300 * time.Millisecond, WaitDelay: 500 * time.Millisecond}

	start := time.Now()
	result, err := NewLocalExec().Run(context.Background(), []string{"sh", "-c", script}, opts)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, "started\n", result.Stdout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NoFileExists(t, filepath.Join(dir, "late"))
}

func TestLocalExec_Run_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	result, err := NewLocalExec().Run(ctx, []string{"sh", "-c", "echo partial; sleep 30"}, &Opts{WaitDelay: 500 * time.Millisecond})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.TimedOut)
	assert.Equal(t, "partial\n", result.Stdout)
}
