package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/clinical-timeline/internal/model"
	"github.com/sells-group/clinical-timeline/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored timeline runs",
	Long:  "Commands for listing stored runs and viewing their timelines.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		document, _ := cmd.Flags().GetString("document")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			DocumentID: document,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full result of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return writeJSON(os.Stdout, run)
	},
}

// -- runs events --

var runsEventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Print the timeline of a run as a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		events, err := st.ListEvents(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs events")
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No events found.")
			return nil
		}

		formatEvents(os.Stdout, events)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("document", "", "filter by document ID")
	runsListCmd.Flags().Int("limit", 20, "max number of runs to list")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsEventsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a run table to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOCUMENT\tEVENTS\tCOMPLETENESS\tWARNINGS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t------------\t--------\t-------")

	for _, r := range runs {
		events, warnings := 0, 0
		completeness := "-"
		if r.Result != nil {
			events = r.Result.Timeline.Metadata.TotalEvents
			warnings = len(r.Result.Warnings)
			completeness = fmt.Sprintf("%.1f%%", r.Result.Timeline.Metadata.Completeness.Score)
		}

		document := r.DocumentID
		if len(document) > 30 {
			document = document[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			truncateID(r.ID),
			document,
			events,
			completeness,
			warnings,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatEvents writes a timeline event table to out.
func formatEvents(out io.Writer, events []store.EventRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tDATE\tTYPE\tEVENT\tSOURCE\tCONF\tRELATION")
	_, _ = fmt.Fprintln(w, "-\t----\t----\t-----\t------\t----\t--------")

	for _, e := range events {
		source := string(e.DateSource)
		if e.Inferred {
			source += "*"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			e.Position+1,
			model.FormatDate(e.Date),
			e.EntityType,
			e.CanonicalName,
			source,
			e.Confidence,
			e.Relation,
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
