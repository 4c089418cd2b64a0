package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/classify"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/ingest"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/store"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/vocab"
)

// pipelineEnv bundles the wired subsystems every command needs.
type pipelineEnv struct {
	Store      store.Store
	Registry   *vocab.Registry
	Rules      *classify.Table
	Ingestor   *ingest.Ingestor
	Classifier *classify.Classifier
}

// initEnv opens the configured store backend, loads the vocabulary and rule
// table, and wires the ingestor and classifier.
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		poolCfg := &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		}
		pg, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolCfg)
		if err != nil {
			return nil, eris.Wrap(err, "init: postgres store")
		}
		st = pg
	case "sqlite", "":
		sq, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init: sqlite store")
		}
		st = sq
	default:
		return nil, eris.Errorf("init: unknown store driver %q", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init: migrate store")
	}

	registry := vocab.Default()
	if cfg.Vocab.Path != "" {
		r, err := vocab.LoadFromFile(cfg.Vocab.Path)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "init: load vocabulary")
		}
		registry = r
	}

	rules := classify.DefaultTable()
	if cfg.Rules.Path != "" {
		t, err := classify.LoadTable(cfg.Rules.Path)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "init: load rules")
		}
		rules = t
	}

	return &pipelineEnv{
		Store:      st,
		Registry:   registry,
		Rules:      rules,
		Ingestor:   ingest.New(st, registry),
		Classifier: classify.New(rules, registry),
	}, nil
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}
