package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
)

func runRuns(ctx context.Context, args []string) error {
	var g globalFlags
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	g.register(fs)
	limit := fs.Int("limit", 20, "Number of runs to list")
	show := fs.String("show", "", "Print the full record of this run as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	a, err := newApp(ctx, &g)
	if err != nil {
		return err
	}
	defer a.Close()

	if *show != "" {
		rec, err := a.store.db.LoadRun(ctx, *show)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	runs, err := a.store.db.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tITER\tSTARTED\tREQUIREMENT")
	for _, r := range runs {
		req := r.Requirement
		if len(req) > 60 {
			req = req[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.Status, r.Iterations, r.StartedAt.Format("2006-01-02 15:04"), req)
	}
	return w.Flush()
}
