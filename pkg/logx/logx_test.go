package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func TestLoggerLevels(t *testing.T) {
	buf := captureOutput(t)
	logger := NewLogger("writer")

	logger.Info("wrote %s", "0/U")
	logger.Warn("retry %d", 2)
	logger.Error("failed")

	out := buf.String()
	assert.Contains(t, out, "[writer] INFO: wrote 0/U")
	assert.Contains(t, out, "[writer] WARN: retry 2")
	assert.Contains(t, out, "[writer] ERROR: failed")
	assert.Equal(t, "writer", logger.Component())
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetDebugConfig(true, false, "")
	SetDebugDomains([]string{"runner"})
	t.Cleanup(func() {
		SetDebugConfig(false, false, "")
		SetDebugDomains(nil)
	})

	ctx := WithRunID(context.Background(), "run-42")
	Debug(ctx, "runner", "started %s", "Allrun")
	Debug(ctx, "writer", "hidden")

	out := buf.String()
	assert.Contains(t, out, "[run-42] DEBUG: [runner] started Allrun")
	assert.NotContains(t, out, "hidden")
	assert.True(t, IsDebugEnabledForDomain("runner"))
	assert.False(t, IsDebugEnabledForDomain("writer"))
}

func TestDebugDisabled(t *testing.T) {
	buf := captureOutput(t)
	SetDebugConfig(false, false, "")

	NewLogger("architect").Debug("nothing")
	Debug(context.Background(), "architect", "nothing")

	assert.Empty(t, buf.String())
}

func TestDebugFileLogging(t *testing.T) {
	captureOutput(t)
	dir := t.TempDir()
	SetDebugConfig(true, true, dir)
	SetDebugDomains(nil)
	t.Cleanup(func() { SetDebugConfig(false, false, "logs") })

	Debug(context.Background(), "reviewer", "matched %s", "missing_patch_field")

	data, err := os.ReadFile(filepath.Join(dir, "reviewer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "matched missing_patch_field")
}

func TestRunIDMissing(t *testing.T) {
	assert.Empty(t, RunID(context.Background()))
	assert.Equal(t, "abc", RunID(WithRunID(context.Background(), "abc")))
}

func TestWrapAndErrorf(t *testing.T) {
	buf := captureOutput(t)
	base := errors.New("disk full")

	assert.NoError(t, Wrap(nil, "ignored"))

	err := Wrap(base, "materialize")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "materialize: disk full", err.Error())

	err = Errorf("index: %w", base)
	assert.ErrorIs(t, err, base)
	assert.True(t, strings.Contains(buf.String(), "ERROR: index: disk full"))
}
