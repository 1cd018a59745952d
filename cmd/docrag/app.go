package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/docrag/internal/chunker"
	"github.com/dshills/docrag/internal/config"
	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/indexer"
	"github.com/dshills/docrag/internal/logging"
	"github.com/dshills/docrag/internal/pipeline"
	"github.com/dshills/docrag/internal/quality"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/searcher"
	"github.com/dshills/docrag/internal/storage"
)

// app holds the wired components shared by every command
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Storage
	runs     runstore.Store
	orch     *pipeline.Orchestrator
	searcher *searcher.Searcher
	indexer  *indexer.Indexer

	closers []func() error
}

// newApp loads configuration from path and wires storage, providers and
// the pipeline. The caller must Close the result.
func newApp(path string) (_ *app, err error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// Logs go to stderr; stdout is reserved for MCP and command output
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	runsPath, err := cfg.RunsPath()
	if err != nil {
		return nil, err
	}
	if runsPath != "" {
		if err := os.MkdirAll(filepath.Dir(runsPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run ledger directory: %w", err)
		}
		bolt, err := runstore.NewBoltStore(runsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open run ledger: %w", err)
		}
		a.runs = bolt
		a.closers = append(a.closers, bolt.Close)
	} else {
		a.runs = runstore.NewMemoryStore()
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.closers = append(a.closers, emb.Close)

	gen, err := generator.New(cfg.GeneratorConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	chk, err := chunker.New(cfg.ChunkerOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	orch, err := pipeline.New(pipeline.Dependencies{
		Store:     store,
		Runs:      a.runs,
		Generator: gen,
		Embedder:  emb,
		Gate:      quality.New(cfg.Quality.Threshold),
		Chunker:   chk,
		Logger:    logger,
	}, cfg.PipelineConfig())
	if err != nil {
		return nil, err
	}
	a.orch = orch
	// The orchestrator drains in-flight runs before storage closes
	a.closers = append(a.closers, orch.Close)

	a.searcher = searcher.NewSearcher(store, emb,
		searcher.WithLogger(logger),
		searcher.WithRelatedLimit(cfg.Search.RelatedLimit),
	)
	orch.OnCommit(a.searcher.InvalidateCache)

	a.indexer = indexer.New(orch, nil, logger)

	logger.Debug("components ready",
		"db", dbPath, "runs", runsPath, "embedder", emb.Provider(), "model", emb.Model(), "generator", gen.ID())
	return a, nil
}

// Close releases components in reverse order of creation
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
