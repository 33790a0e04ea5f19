// Command foamagent turns a natural-language CFD requirement into a runnable
// OpenFOAM case.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foamagent/pkg/config"
	"foamagent/pkg/logx"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// errUsage marks errors caused by bad flags or configuration.
var errUsage = errors.New("usage")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

type globalFlags struct {
	configPath  string
	stateDir    string
	metricsAddr string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "foamagent.json", "Path to config file")
	fs.StringVar(&g.stateDir, "state-dir", ".foamagent", "Directory holding secrets.json.enc")
	fs.StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address")
}

type command struct {
	name  string
	short string
	run   func(ctx context.Context, args []string) error
}

func commands() []command {
	return []command{
		{"index", "Build or update the reference index", runIndex},
		{"solve", "Generate, run and repair a case for a requirement", runSolve},
		{"runs", "List stored run records", runRuns},
		{"tools", "List or execute the case tools", runTools},
		{"stats", "Query run and LLM usage totals from Prometheus", runStats},
		{"secrets", "Store an encrypted secret", runSecrets},
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.Warnf("failed to load .env: %v", err)
	}
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		printUsage()
		return exitUsage
	}
	if args[0] == "version" {
		fmt.Printf("foamagent %s (%s)\n", version, commit)
		return exitOK
	}

	var cmd *command
	for _, c := range commands() {
		if c.name == args[0] {
			cmd = &c
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		return exitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := cmd.run(ctx, args[1:])
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitUsage
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "foamagent %s: %v\n", cmd.name, err)
		return exitUsage
	default:
		fmt.Fprintf(os.Stderr, "foamagent %s: %v\n", cmd.name, err)
		return exitFailed
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: foamagent <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands() {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.short)
	}
	fmt.Fprintln(os.Stderr, "\nRun 'foamagent <command> -h' for command flags.")
}

// parseFlags parses args, reporting bad flags as usage errors.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// loadConfig reads the config file. Errors are usage errors.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return cfg, nil
}

// serveMetrics exposes reg on addr until ctx ends. An empty addr disables it.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	logger := logx.NewLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", healthHandler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// healthHandler answers GET /health with 200 OK while the process is up.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
