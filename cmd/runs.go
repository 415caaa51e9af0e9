package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lakeshore-data/cdr-pipeline/internal/model"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		limit, _ := cmd.Flags().GetInt("limit")

		st := store.New(pool)
		runs, err := st.ListRuns(ctx, limit)
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

func formatRunsList(w io.Writer, runs []model.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tDATE\tSTARTED\tBRANDS\tCALLS\tERRORS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID,
			r.RunDate,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.BrandCount,
			r.APICallCount,
			r.APIErrorCount,
		)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}
