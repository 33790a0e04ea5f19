package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"foamagent/pkg/agent"
	llmmetrics "foamagent/pkg/agent/middleware/metrics"
	"foamagent/pkg/config"
	"foamagent/pkg/knowledge"
	"foamagent/pkg/metrics"
	"foamagent/pkg/orchestrator"
	"foamagent/pkg/persistence"
	"foamagent/pkg/proto"
)

// app holds everything a pipeline command needs.
type app struct {
	cfg       *config.Config
	secrets   *config.Secrets
	registry  *prometheus.Registry
	clients   *agent.ClientFactory
	recorder  metrics.RunRecorder
	runsDB    *sql.DB
	store     *dualStore
	retriever *knowledge.Retriever
}

func newApp(ctx context.Context, g *globalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	secrets, err := loadSecrets(g.stateDir)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	addr := g.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.ListenAddr
	}
	serveMetrics(ctx, addr, reg)

	a := &app{
		cfg:      cfg,
		secrets:  secrets,
		registry: reg,
		clients:  agent.NewClientFactory(cfg, secrets, llmmetrics.NewPrometheusRecorder(reg)),
		recorder: metrics.NewPrometheusRunRecorder(reg),
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Persistence.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if a.runsDB, err = persistence.Open(cfg.Persistence.DBPath); err != nil {
		return nil, err
	}
	a.store = &dualStore{db: persistence.NewRunStore(a.runsDB), files: persistence.NewFileStore(cfg.Persistence.RecordDir)}
	return a, nil
}

func (a *app) Close() {
	if a.runsDB != nil {
		_ = a.runsDB.Close()
	}
}

// loadRetriever opens the persisted index built by "foamagent index".
func (a *app) loadRetriever(ctx context.Context) error {
	db, err := persistence.Open(a.cfg.Index.DBPath)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only use
	idx, err := knowledge.LoadIndex(ctx, db)
	if err != nil {
		return err
	}
	if idx.Len() == 0 {
		return usageErrorf("index %s is empty; run 'foamagent index' first", a.cfg.Index.DBPath)
	}
	emb, err := knowledge.NewEmbedder(ctx, a.cfg.Embedding, a.secrets)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	a.retriever, err = knowledge.NewRetriever(idx, emb, a.cfg.Retrieval.CacheSize)
	return err
}

// deps builds the pipeline components.
func (a *app) deps() (orchestrator.Deps, error) {
	return orchestrator.BuildDeps(a.cfg, a.clients, a.retriever, a.store, a.recorder)
}

// dualStore writes each record to SQLite and to a JSON file.
type dualStore struct {
	db    *persistence.RunStore
	files *persistence.FileStore
}

func (s *dualStore) SaveRun(ctx context.Context, rec *proto.RunRecord) error {
	if err := s.db.SaveRun(ctx, rec); err != nil {
		return err
	}
	return s.files.SaveRun(ctx, rec)
}
