package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-timeline/internal/pipeline"
	"github.com/sells-group/clinical-timeline/internal/store"
)

var (
	runPersist  bool
	runNoRefine bool
)

var runCmd = &cobra.Command{
	Use:   "run <document.json>",
	Short: "Build the timeline for a single document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, err := initPipeline()
		if err != nil {
			return err
		}

		var st store.Store
		if runPersist {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		result, err := processDocument(ctx, p, st, args[0], !runNoRefine)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, result)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runPersist, "persist", false, "save the run to the configured store")
	runCmd.Flags().BoolVar(&runNoRefine, "no-refine", false, "run the pipeline once instead of refining to the quality threshold")
	rootCmd.AddCommand(runCmd)
}

// processDocument loads one document, runs the pipeline and, when st is
// non-nil, persists the result.
func processDocument(ctx context.Context, p *pipeline.Pipeline, st store.Store, path string, refine bool) (*pipeline.Result, error) {
	doc, err := pipeline.LoadDocument(path)
	if err != nil {
		return nil, err
	}

	var result *pipeline.Result
	if refine {
		result, err = p.RunRefined(ctx, doc)
	} else {
		result, err = p.Run(ctx, doc)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline run %s", doc.ID)
	}

	log := zap.L().With(zap.String("document", doc.ID))
	if st != nil {
		run, err := st.SaveRun(ctx, doc.ID, &result.RunResult)
		if err != nil {
			return nil, eris.Wrapf(err, "save run %s", doc.ID)
		}
		log = log.With(zap.String("run_id", run.ID))
	}

	log.Info("timeline complete",
		zap.Int("events", result.Timeline.Metadata.TotalEvents),
		zap.Float64("completeness", result.Timeline.Metadata.Completeness.Score),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
