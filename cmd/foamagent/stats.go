package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"foamagent/pkg/metrics"
)

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	url := fs.String("prometheus", "http://localhost:9090", "Prometheus server scraping foamagent")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	q, err := metrics.NewQueryService(*url)
	if err != nil {
		return usageErrorf("%v", err)
	}

	runs, err := q.RunsByStatus(ctx)
	if err != nil {
		return err
	}
	usage, err := q.UsageByComponent(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tRUNS")
	for _, status := range sortedNames(runs) {
		fmt.Fprintf(w, "%s\t%d\n", status, runs[status])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMPONENT\tPROMPT\tCOMPLETION\tTOTAL\tCOST USD")
	for _, name := range sortedNames(usage) {
		u := usage[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.4f\n", name, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.TotalCost)
	}
	return w.Flush()
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
