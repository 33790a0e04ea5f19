package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"foamagent/pkg/knowledge"
	"foamagent/pkg/logx"
	"foamagent/pkg/persistence"
)

func runIndex(ctx context.Context, args []string) error {
	var g globalFlags
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	g.register(fs)
	corpusDir := fs.String("corpus", "", "Reference corpus directory (default from config)")
	rebuild := fs.Bool("rebuild", false, "Re-embed every entry instead of updating")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := loadConfig(&g)
	if err != nil {
		return err
	}
	if *corpusDir != "" {
		cfg.Index.CorpusDir = *corpusDir
	}
	secrets, err := loadSecrets(g.stateDir)
	if err != nil {
		return err
	}

	corpus, err := knowledge.LoadCorpus(cfg.Index.CorpusDir)
	if err != nil {
		return usageErrorf("%v", err)
	}
	emb, err := knowledge.NewEmbedder(ctx, cfg.Embedding, secrets)
	if err != nil {
		return usageErrorf("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Index.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := persistence.Open(cfg.Index.DBPath)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Close in defer is safe

	indexer := knowledge.NewIndexer(emb, cfg.Embedding.BatchSize)
	var idx *knowledge.Index
	existing, err := knowledge.LoadIndex(ctx, db)
	if err == nil && existing.Len() > 0 && !*rebuild {
		idx, err = indexer.Update(ctx, existing, corpus)
	} else {
		idx, err = indexer.Build(ctx, corpus)
	}
	if err != nil {
		return err
	}
	if err := idx.Save(ctx, db); err != nil {
		return logx.Errorf("failed to save index to %s: %w", cfg.Index.DBPath, err)
	}

	counts := idx.CountByKind()
	logx.Infof("indexed %d cases, %d commands from %s", len(corpus.Cases), len(corpus.Commands), cfg.Index.CorpusDir)
	fmt.Printf("%d entries (%s)\n", idx.Len(), idx.Embedder)
	for _, kind := range []knowledge.EntryKind{knowledge.KindCaseLayout, knowledge.KindFileTemplate, knowledge.KindDependencyRule, knowledge.KindCommandDoc} {
		fmt.Printf("  %-16s %d\n", kind, counts[kind])
	}
	return nil
}
