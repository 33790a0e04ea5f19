package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	tc := NewTokenCounter()
	assert.Zero(t, tc.CountTokens(""))
	assert.Greater(t, tc.CountTokens("application simpleFoam;"), 0)
}

func TestTruncateToTokenLimit(t *testing.T) {
	tc := NewTokenCounter()
	short := "ddtSchemes { default steadyState; }"
	assert.Equal(t, short, tc.TruncateToTokenLimit(short, 1000))

	long := strings.Repeat("boundaryField inlet outlet walls ", 500)
	cut := tc.TruncateToTokenLimit(long, 50)
	assert.Less(t, len(cut), len(long))
	assert.True(t, strings.HasSuffix(cut, "...[truncated]"))
	assert.Empty(t, tc.TruncateToTokenLimit(long, 0))
}

func TestCleanDirectoryContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "0.5"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log.simpleFoam"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.me"), []byte("x"), 0o644))

	require.NoError(t, CleanDirectoryContents(dir, func(name string) bool { return name == "keep.me" }))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.me", entries[0].Name())

	assert.NoError(t, CleanDirectoryContents(filepath.Join(dir, "missing"), nil))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system", "controlDict")
	require.NoError(t, WriteFileAtomic(path, []byte("application icoFoam;"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "application icoFoam;", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDecodeEncodeMap(t *testing.T) {
	type input struct {
		Path    string `json:"path"`
		Timeout int    `json:"timeout_sec"`
	}
	var in input
	require.NoError(t, DecodeMap(map[string]any{"path": "0/U", "timeout_sec": 30.0}, &in))
	assert.Equal(t, input{Path: "0/U", Timeout: 30}, in)

	out, err := EncodeMap(in)
	require.NoError(t, err)
	assert.Equal(t, "0/U", GetMapFieldOr(out, "path", ""))
	assert.Equal(t, 7, GetMapFieldOr(out, "missing", 7))

	_, err = GetMapField[string](out, "timeout_sec")
	assert.Error(t, err)
}
