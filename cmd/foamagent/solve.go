package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"foamagent/pkg/foamfile"
	"foamagent/pkg/orchestrator"
	"foamagent/pkg/proto"
)

func runSolve(ctx context.Context, args []string) error {
	var g globalFlags
	fs := flag.NewFlagSet("solve", flag.ContinueOnError)
	g.register(fs)
	requirement := fs.String("requirement", "", "Natural-language case requirement")
	requirementFile := fs.String("requirement-file", "", "File holding the requirement")
	meshBoundary := fs.String("mesh", "", "constant/polyMesh/boundary of an external mesh")
	meshDir := fs.String("mesh-dir", "", "polyMesh directory copied into every run")
	maxIter := fs.Int("max-iterations", 0, "Override orchestrator.max_iterations")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	text, err := requirementText(*requirement, *requirementFile)
	if err != nil {
		return err
	}
	mesh, err := meshDescriptor(*meshBoundary, *meshDir)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, &g)
	if err != nil {
		return err
	}
	defer a.Close()
	if *meshDir != "" {
		a.cfg.Runner.MeshDir = *meshDir
	}
	if *maxIter > 0 {
		a.cfg.Orchestrator.MaxIterations = *maxIter
	}
	if err := a.loadRetriever(ctx); err != nil {
		return err
	}
	deps, err := a.deps()
	if err != nil {
		return usageErrorf("%v", err)
	}

	rec, err := orchestrator.New(deps, a.cfg).Run(ctx, orchestrator.Request{Requirement: text, Mesh: mesh})
	if rec != nil {
		printRecord(rec)
	}
	var runErr *orchestrator.RunError
	if errors.As(err, &runErr) {
		return errors.New(runErr.Reason)
	}
	return err
}

func requirementText(inline, file string) (string, error) {
	switch {
	case inline != "" && file != "":
		return "", usageErrorf("use -requirement or -requirement-file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", usageErrorf("%v", err)
		}
		inline = string(data)
	}
	inline = strings.TrimSpace(inline)
	if inline == "" {
		return "", usageErrorf("a requirement is required")
	}
	return inline, nil
}

// meshDescriptor reads the patches of an external mesh from an explicit
// boundary file or from mesh-dir/boundary.
func meshDescriptor(boundaryFile, meshDir string) (*proto.MeshDescriptor, error) {
	if boundaryFile == "" && meshDir != "" {
		boundaryFile = filepath.Join(meshDir, "boundary")
	}
	if boundaryFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(boundaryFile)
	if err != nil {
		return nil, usageErrorf("mesh: %v", err)
	}
	patches, err := foamfile.MeshPatches(proto.PathPolyMeshBound, string(data))
	if err != nil {
		return nil, usageErrorf("mesh: %v", err)
	}
	return &proto.MeshDescriptor{Patches: patches, Source: boundaryFile}, nil
}

func printRecord(rec *proto.RunRecord) {
	fmt.Printf("run %s: %s after %d iteration(s)\n", rec.ID, rec.Status, len(rec.Iterations))
	if rec.Plan != nil {
		fmt.Printf("plan: %s\n", rec.Plan.Summary())
	}
	for _, it := range rec.Iterations {
		line := fmt.Sprintf("  #%d regenerated %d file(s)", it.Number, len(it.PlanDelta))
		if it.Result != nil {
			line += fmt.Sprintf(", %s in %s", it.Result.Outcome, it.Result.Duration.Round(time.Millisecond))
		}
		if it.Diagnosis != nil && it.Diagnosis.Kind != proto.KindNone {
			line += fmt.Sprintf(", %s %v", it.Diagnosis.Kind, it.Diagnosis.Files)
		}
		fmt.Println(line)
	}
	if rec.Reason != "" {
		fmt.Printf("reason: %s\n", rec.Reason)
	}
	if n := len(rec.Iterations); n > 0 && rec.Iterations[n-1].Result != nil {
		fmt.Printf("case directory: %s\n", rec.Iterations[n-1].Result.WorkDir)
	}
}
