package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cavityControlDict = `FoamFile { version 2.0; format ascii; class dictionary; object controlDict; }
application     icoFoam;
startTime       0;
endTime         0.5;
deltaT          0.005;
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func sampleCorpusFiles() map[string]string {
	return map[string]string{
		"incompressible/icoFoam/cavity/cavity/system/controlDict":   cavityControlDict,
		"incompressible/icoFoam/cavity/cavity/system/fvSolution":    "solvers { p {} U {} }\n",
		"incompressible/icoFoam/cavity/cavity/system/blockMeshDict": "boundary ( movingWall { type wall; faces (); } );\n",
		"incompressible/icoFoam/cavity/cavity/0/U":                  "boundaryField { movingWall { type fixedValue; } }\n",
		"incompressible/icoFoam/cavity/cavity/0/p":                  "boundaryField { movingWall { type zeroGradient; } }\n",
		"incompressible/icoFoam/cavity/cavity/Allrun":               "#!/bin/sh\nrunApplication blockMesh\nrunApplication icoFoam\n",
		"incompressible/icoFoam/cavity/cavity/log.icoFoam":          "solver output\n",
		"incompressible/icoFoam/cavity/cavity/0.5/U":                "written field\n",
		"incompressible/icoFoam/cavity/cavity/processor0/0/U":       "decomposed\n",
		"incompressible/simpleFoam/pitzDaily/system/controlDict":    "application simpleFoam;\n",
		"incompressible/simpleFoam/pitzDaily/system/fvSolution":     "solvers { p {} U {} k {} }\n",
		"incompressible/simpleFoam/pitzDaily/0.orig/U":              "boundaryField { inlet { type fixedValue; } }\n",
		"incompressible/simpleFoam/pitzDaily/case.yaml":             "solver: simpleFoam\ndomain: incompressible\ndescription: backward facing step\n",
		"incompressible/simpleFoam/pitzDaily/dependencies.yaml":     "rules:\n  - file: 0/nut\n    depends_on: constant/momentumTransport\n    class: field\n    note: turbulence model fields\n",
		"commands/blockMesh": "Usage: blockMesh [OPTIONS]\n",
		"commands/checkMesh": "Usage: checkMesh [OPTIONS]\n",
	}
}

type countingEmbedder struct {
	Embedder
	texts atomic.Int64
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int64(len(texts)))
	return c.Embedder.Embed(ctx, texts)
}

func loadSample(t *testing.T) *Corpus {
	t.Helper()
	c, err := LoadCorpus(writeTree(t, sampleCorpusFiles()))
	require.NoError(t, err)
	return c
}

func TestLoadCorpus(t *testing.T) {
	c := loadSample(t)
	require.Len(t, c.Cases, 2)

	cavity := c.Cases[0]
	assert.Equal(t, "incompressible/icoFoam/cavity/cavity", cavity.Path)
	assert.Equal(t, "icoFoam", cavity.Solver)
	assert.Equal(t, "incompressible", cavity.Domain)
	assert.Equal(t, "cavity", cavity.Category)
	var paths []string
	for _, f := range cavity.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"0/U", "0/p", "Allrun", "system/blockMeshDict", "system/controlDict", "system/fvSolution"}, paths)

	pitz := c.Cases[1]
	assert.Equal(t, "simpleFoam", pitz.Solver)
	assert.Equal(t, "backward facing step", pitz.Description)
	assert.Empty(t, pitz.Category)
	require.Len(t, pitz.Files, 3)
	assert.Equal(t, "0/U", pitz.Files[0].Path, "0.orig is indexed as 0 when the case has no 0 directory")
	require.Len(t, pitz.Rules, 1)
	assert.Equal(t, "0/nut", pitz.Rules[0].File)

	require.Len(t, c.Commands, 2)
	assert.Equal(t, "blockMesh", c.Commands[0].Name)
}

func TestLoadCorpusRejectsBadRules(t *testing.T) {
	root := writeTree(t, map[string]string{
		"case/system/controlDict": cavityControlDict,
		"case/dependencies.yaml":  "rules:\n  - file: '0/['\n    depends_on: system/fvSolution\n",
	})
	_, err := LoadCorpus(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad pattern")
}

func TestLoadCorpusMissingRoot(t *testing.T) {
	_, err := LoadCorpus(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestBuildIsDeterministic(t *testing.T) {
	ctx := context.Background()
	ix := NewIndexer(NewHashEmbedder(64), 4)
	a, err := ix.Build(ctx, loadSample(t))
	require.NoError(t, err)
	b, err := ix.Build(ctx, loadSample(t))
	require.NoError(t, err)

	require.Equal(t, a.Len(), b.Len())
	for i := range a.Entries {
		assert.Equal(t, a.Entries[i].ID, b.Entries[i].ID)
		assert.Equal(t, i, a.Entries[i].Seq)
		assert.Equal(t, a.Entries[i].Embedding, b.Entries[i].Embedding)
	}
}

func TestBuildOrder(t *testing.T) {
	idx, err := NewIndexer(NewHashEmbedder(32), 0).Build(context.Background(), loadSample(t))
	require.NoError(t, err)

	builtins := BuiltinRules()
	for i := range builtins {
		e := idx.Entries[i]
		assert.Equal(t, KindDependencyRule, e.Kind)
		assert.Equal(t, builtinCase, e.Meta.Case)
	}
	first := idx.Entries[len(builtins)]
	assert.Equal(t, "case_layout:incompressible/icoFoam/cavity/cavity:incompressible/icoFoam/cavity/cavity", first.ID)
	assert.Equal(t, "file_template:incompressible/icoFoam/cavity/cavity:0/U", idx.Entries[len(builtins)+1].ID)

	last := idx.Entries[idx.Len()-1]
	assert.Equal(t, "command_doc:commands:checkMesh", last.ID)

	counts := idx.CountByKind()
	assert.Equal(t, 2, counts[KindCaseLayout])
	assert.Equal(t, 9, counts[KindFileTemplate])
	assert.Equal(t, len(builtins)+1, counts[KindDependencyRule])
	assert.Equal(t, 2, counts[KindCommandDoc])
}

func TestUpdateOnlyAppends(t *testing.T) {
	ctx := context.Background()
	emb := &countingEmbedder{Embedder: NewHashEmbedder(32)}
	ix := NewIndexer(emb, 8)

	files := sampleCorpusFiles()
	small := map[string]string{}
	for k, v := range files {
		if filepath.Base(filepath.Dir(k)) != "commands" && !hasPrefix(k, "incompressible/simpleFoam") {
			small[k] = v
		}
	}
	smallCorpus, err := LoadCorpus(writeTree(t, small))
	require.NoError(t, err)
	base, err := ix.Build(ctx, smallCorpus)
	require.NoError(t, err)
	embeddedBefore := emb.texts.Load()
	assert.Equal(t, int64(base.Len()), embeddedBefore)

	updated, err := ix.Update(ctx, base, loadSample(t))
	require.NoError(t, err)
	require.Greater(t, updated.Len(), base.Len())
	for i := range base.Entries {
		assert.Equal(t, base.Entries[i].ID, updated.Entries[i].ID)
		assert.Equal(t, base.Entries[i].Seq, updated.Entries[i].Seq)
	}
	for i := base.Len(); i < updated.Len(); i++ {
		assert.Equal(t, i, updated.Entries[i].Seq)
	}
	assert.Equal(t, int64(updated.Len()-base.Len()), emb.texts.Load()-embeddedBefore, "existing entries are not re-embedded")

	again, err := ix.Update(ctx, updated, loadSample(t))
	require.NoError(t, err)
	assert.Equal(t, updated.Len(), again.Len())
}

func TestUpdateRejectsOtherEmbedder(t *testing.T) {
	ctx := context.Background()
	base, err := NewIndexer(NewHashEmbedder(32), 0).Build(ctx, loadSample(t))
	require.NoError(t, err)
	_, err = NewIndexer(NewHashEmbedder(64), 0).Update(ctx, base, loadSample(t))
	require.Error(t, err)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(16)
	vecs, err := h.Embed(context.Background(), []string{"lid driven cavity", "lid driven cavity", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[1])
	assert.InDelta(t, 1.0, Cosine(vecs[0], vecs[1]), 1e-6)
	assert.Len(t, vecs[2], 16)
	assert.Zero(t, Cosine(vecs[0], vecs[2]))
	assert.Equal(t, "hash/16", h.Name())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestFacets(t *testing.T) {
	idx, err := NewIndexer(NewHashEmbedder(16), 0).Build(context.Background(), loadSample(t))
	require.NoError(t, err)
	solvers, domains, categories := idx.Facets()
	assert.Equal(t, []string{"icoFoam", "simpleFoam"}, solvers)
	assert.Equal(t, []string{"incompressible"}, domains)
	assert.Equal(t, []string{"cavity"}, categories)
}
