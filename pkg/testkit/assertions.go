package testkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/pkg/bundle"
	"foamagent/pkg/foamfile"
	"foamagent/pkg/proto"
)

// AssertTopologicalOrder verifies no planned file precedes a file it
// depends on.
func AssertTopologicalOrder(t *testing.T, plan *proto.GenerationPlan) {
	t.Helper()
	pos := make(map[string]int, len(plan.Files))
	for i, p := range plan.Paths() {
		pos[p] = i
	}
	for i := range plan.Files {
		for _, dep := range plan.Files[i].DependsOn {
			if j, ok := pos[dep]; ok {
				assert.Less(t, j, i, "%s must precede %s", dep, plan.Files[i].Path)
			}
		}
	}
}

// AssertBoundaryNamesMatch verifies every field file of b has an entry or
// constraint include for every patch of the bundle's mesh file.
func AssertBoundaryNamesMatch(t *testing.T, b *bundle.CaseBundle) {
	t.Helper()
	meshPath := proto.PathBlockMeshDict
	mesh, ok := b.Get(meshPath)
	if !ok {
		meshPath = proto.PathPolyMeshBound
		mesh, ok = b.Get(meshPath)
	}
	require.True(t, ok, "bundle has no mesh description")
	patches, err := foamfile.MeshPatches(meshPath, mesh)
	require.NoError(t, err)

	for _, p := range b.Paths() {
		if proto.RoleForPath(p) != proto.RoleField {
			continue
		}
		content, _ := b.Get(p)
		bf, err := foamfile.ParseBoundaryField(content)
		require.NoError(t, err, p)
		for _, patch := range patches {
			_, covered := bf.Resolve(patch)
			if !covered && foamfile.IsConstraintType(patch.Type) {
				covered = bf.ConstraintInclude
			}
			assert.True(t, covered, "%s has no entry for patch %s", p, patch.Name)
		}
	}
}

// AssertIterations verifies the record length and final status.
func AssertIterations(t *testing.T, rec *proto.RunRecord, status proto.RunStatus, iterations int) {
	t.Helper()
	require.NotNil(t, rec)
	assert.Equal(t, status, rec.Status, "reason: %s", rec.Reason)
	assert.Len(t, rec.Iterations, iterations)
	for i := range rec.Iterations {
		assert.Equal(t, i+1, rec.Iterations[i].Number)
	}
}
