package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"foamagent/pkg/orchestrator"
	"foamagent/pkg/tools"
)

func runTools(ctx context.Context, args []string) error {
	var g globalFlags
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	g.register(fs)
	name := fs.String("exec", "", "Tool to execute; arguments are read as JSON from stdin")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	a, err := newApp(ctx, &g)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadRetriever(ctx); err != nil {
		return err
	}
	deps, err := a.deps()
	if err != nil {
		return usageErrorf("%v", err)
	}
	reg, err := tools.NewCaseRegistry(deps, orchestrator.New(deps, a.cfg), a.cfg.RunnerTimeout())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if *name == "" {
		return enc.Encode(reg.Definitions())
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	toolArgs := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &toolArgs); err != nil {
			return usageErrorf("tool arguments: %v", err)
		}
	}
	out, err := reg.Exec(ctx, *name, toolArgs)
	if err != nil {
		return fmt.Errorf("%s: %w", *name, err)
	}
	return enc.Encode(out)
}
