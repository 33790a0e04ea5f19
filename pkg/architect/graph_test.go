package architect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foamagent/pkg/proto"
)

func files(edges map[string][]string, order ...string) []proto.PlannedFile {
	out := make([]proto.PlannedFile, 0, len(order))
	for _, p := range order {
		out = append(out, proto.PlannedFile{Path: p, DependsOn: edges[p]})
	}
	return out
}

func paths(fs []proto.PlannedFile) []string {
	out := make([]string, len(fs))
	for i := range fs {
		out[i] = fs[i].Path
	}
	return out
}

func TestSortFilesFolderPriority(t *testing.T) {
	sorted, err := SortFiles(files(nil, "Allrun", "0/U", "constant/g", "system/controlDict"))
	require.NoError(t, err)
	assert.Equal(t, []string{"system/controlDict", "constant/g", "0/U", "Allrun"}, paths(sorted))
}

func TestSortFilesDependenciesWin(t *testing.T) {
	sorted, err := SortFiles(files(map[string][]string{
		"system/fvSolution": {"0/U"},
		"0/U":               {"constant/polyMesh/boundary"},
	}, "system/fvSolution", "0/U", "constant/polyMesh/boundary", "system/controlDict"))
	require.NoError(t, err)
	assert.Equal(t, []string{"system/controlDict", "constant/polyMesh/boundary", "0/U", "system/fvSolution"}, paths(sorted))
}

func TestSortFilesIgnoresOutsideDependencies(t *testing.T) {
	sorted, err := SortFiles(files(map[string][]string{"0/U": {"system/blockMeshDict"}}, "0/U"))
	require.NoError(t, err)
	assert.Equal(t, []string{"0/U"}, paths(sorted))
}

func TestSortFilesTwoCycle(t *testing.T) {
	_, err := SortFiles(files(map[string][]string{
		"A": {"B"},
		"B": {"A"},
		"C": {"A"},
	}, "A", "B", "C", "D"))
	var cycle *PlanCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"A", "B"}, cycle.Files)
	assert.Equal(t, "dependency cycle among files: A, B", cycle.Error())
}

func TestSortFilesSelfLoop(t *testing.T) {
	_, err := SortFiles(files(map[string][]string{"A": {"A"}}, "A", "B"))
	var cycle *PlanCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"A"}, cycle.Files)
}

func TestParseCaseInfo(t *testing.T) {
	info, err := parseCaseInfo("Sure:\n{\"case_name\": \"pitz daily\", \"case_solver\": \" simpleFoam \"}\nDone.")
	require.NoError(t, err)
	assert.Equal(t, "pitz_daily", info.Name)
	assert.Equal(t, "simpleFoam", info.Solver)

	_, err = parseCaseInfo("no braces here")
	require.ErrorIs(t, err, errNoJSON)

	info, err = parseCaseInfo(`{"case_solver": "icoFoam"}`)
	require.NoError(t, err)
	assert.Equal(t, "case", info.Name)
}
