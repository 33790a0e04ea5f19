package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/pkg/proto"
)

func TestCommitKeepsFirstOrder(t *testing.T) {
	b := New()
	require.NoError(t, b.Commit("system/controlDict", "a"))
	require.NoError(t, b.Commit("0/U", "b"))
	require.NoError(t, b.Commit("system/controlDict", "c"))

	assert.Equal(t, []string{"system/controlDict", "0/U"}, b.Paths())
	got, ok := b.Get("system/controlDict")
	require.True(t, ok)
	assert.Equal(t, "c", got)
	assert.Equal(t, 2, b.Len())
}

func TestCommitRejectsBadPaths(t *testing.T) {
	b := New()
	for _, p := range []string{"", "/etc/passwd", "../x", "a/../../b", "./0/U"} {
		assert.Error(t, b.Commit(p, "x"), p)
	}
	assert.Zero(t, b.Len())
}

func TestCloneAndSnapshotAreIndependent(t *testing.T) {
	b := FromFiles(map[string]string{"0/p": "p", "0/U": "u"})
	assert.Equal(t, []string{"0/U", "0/p"}, b.Paths())

	snap := b.Snapshot()
	clone := b.Clone()
	require.NoError(t, b.Commit("0/U", "changed"))

	assert.Equal(t, "u", snap.Files["0/U"])
	got, _ := clone.Get("0/U")
	assert.Equal(t, "u", got)
	assert.NotEmpty(t, snap.ID)
}

func TestMissing(t *testing.T) {
	plan := &proto.GenerationPlan{Files: []proto.PlannedFile{{Path: "system/controlDict"}, {Path: "0/U"}, {Path: "Allrun"}}}
	b := New()
	require.NoError(t, b.Commit("0/U", "u"))
	assert.Equal(t, []string{"system/controlDict", "Allrun"}, b.Missing(plan))
}

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	b := New()
	require.NoError(t, b.Commit("system/controlDict", "application icoFoam;"))
	require.NoError(t, b.Commit("Allrun", "#!/bin/sh\necho ok\n"))
	require.NoError(t, b.Materialize(dir))

	data, err := os.ReadFile(filepath.Join(dir, "system", "controlDict"))
	require.NoError(t, err)
	assert.Equal(t, "application icoFoam;", string(data))

	info, err := os.Stat(filepath.Join(dir, "Allrun"))
	require.NoError(t, err)
	assert.Equal(t, ExecutableMode, info.Mode().Perm())
}
