package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/clinical-timeline/internal/pipeline"
	"github.com/sells-group/clinical-timeline/internal/store"
)

var (
	batchLimit   int
	batchPersist bool
	batchOutDir  string
)

var batchCmd = &cobra.Command{
	Use:   "batch <file-or-dir>...",
	Short: "Build timelines for many documents in parallel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		paths, err := collectDocuments(args)
		if err != nil {
			return err
		}

		p, err := initPipeline()
		if err != nil {
			return err
		}

		var st store.Store
		if batchPersist {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		if batchOutDir != "" {
			if err := os.MkdirAll(batchOutDir, 0o755); err != nil {
				return eris.Wrapf(err, "create output dir %s", batchOutDir)
			}
		}

		_, err = processBatch(ctx, paths, batchLimit, cfg.Batch.MaxConcurrentDocuments, func(ctx context.Context, path string) error {
			result, err := processDocument(ctx, p, st, path, true)
			if err != nil {
				return err
			}
			if batchOutDir == "" {
				return nil
			}
			return writeResultFile(batchOutDir, path, result)
		})
		return err
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of documents to process (0 = all)")
	batchCmd.Flags().BoolVar(&batchPersist, "persist", false, "save each run to the configured store")
	batchCmd.Flags().StringVar(&batchOutDir, "out", "", "directory to write one result JSON per document")
	rootCmd.AddCommand(batchCmd)
}

// collectDocuments expands directories to the .json files they contain.
// The result is sorted and free of duplicates.
func collectDocuments(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "stat %s", arg)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.json"))
		if err != nil {
			return nil, eris.Wrapf(err, "list %s", arg)
		}
		for _, m := range matches {
			add(m)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// documentFunc processes one document file.
type documentFunc func(ctx context.Context, path string) error

// batchSummary counts batch outcomes.
type batchSummary struct {
	Succeeded int64
	Failed    int64
	Skipped   int64
}

// processBatch applies limit, then processes documents concurrently. A failed
// document is logged and counted but never aborts the batch. Documents not
// yet started when ctx is cancelled are skipped.
func processBatch(ctx context.Context, paths []string, limit, concurrency int, process documentFunc) (batchSummary, error) {
	var summary batchSummary
	if len(paths) == 0 {
		zap.L().Info("no documents found")
		return summary, nil
	}

	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("documents", len(paths)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed, skipped atomic.Int64

	for _, path := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			log := zap.L().With(zap.String("path", path))

			if err := process(gctx, path); err != nil {
				failed.Add(1)
				log.Error("document failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "batch processing")
	}

	summary = batchSummary{
		Succeeded: succeeded.Load(),
		Failed:    failed.Load(),
		Skipped:   skipped.Load(),
	}
	zap.L().Info("batch complete",
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("skipped", summary.Skipped),
	)
	return summary, nil
}

// writeResultFile writes result to dir under the document's base name.
func writeResultFile(dir, docPath string, result *pipeline.Result) error {
	name := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath)) + ".timeline.json"
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return eris.Wrapf(err, "create %s", name)
	}
	defer f.Close()

	if err := writeJSON(f, result); err != nil {
		return eris.Wrapf(err, "write %s", name)
	}
	return nil
}
