package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clinical-timeline/internal/lexicon"
	"github.com/sells-group/clinical-timeline/internal/pipeline"
	"github.com/sells-group/clinical-timeline/internal/store"
)

// initStore opens and migrates the configured run store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline builds a pipeline reading mentions from each document, with
// the configured synonym file merged into the built-in lexicon.
func initPipeline() (*pipeline.Pipeline, error) {
	lex, err := lexicon.Load(cfg.Dedup.SynonymsPath)
	if err != nil {
		return nil, eris.Wrap(err, "load synonyms")
	}
	return pipeline.New(cfg, lex, nil, nil), nil
}
