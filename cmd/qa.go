package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/qa"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

var qaCmd = &cobra.Command{
	Use:   "qa",
	Short: "Evaluate the QA gates",
	Long:  "Runs every QA gate against the warehouse, persists the results, writes a markdown summary, and exits nonzero if any gate failed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.Migrate(ctx, pool, false); err != nil {
			return eris.Wrap(err, "migrate")
		}

		dateStr, _ := cmd.Flags().GetString("date")
		asOf, err := parseDate(dateStr)
		if err != nil {
			return err
		}

		th := qa.ThresholdsFromConfig(cfg.QA)
		if cmd.Flags().Changed("min-providers-ok") {
			v, _ := cmd.Flags().GetFloat64("min-providers-ok")
			th.MinProvidersOK = v
		}
		if cmd.Flags().Changed("min-products") {
			v, _ := cmd.Flags().GetFloat64("min-products")
			th.MinProducts = v
		}
		if cmd.Flags().Changed("min-rate-changes") {
			v, _ := cmd.Flags().GetFloat64("min-rate-changes")
			th.MinRateChanges = v
		}
		if cmd.Flags().Changed("max-freshness-hours") {
			v, _ := cmd.Flags().GetFloat64("max-freshness-hours")
			th.MaxFreshnessHours = v
		}
		if cmd.Flags().Changed("fail-on-drift") {
			v, _ := cmd.Flags().GetBool("fail-on-drift")
			th.FailOnSchemaDrift = v
		}
		if cmd.Flags().Changed("skip-external") {
			v, _ := cmd.Flags().GetBool("skip-external")
			th.RunExternalTests = !v
		}

		engine := qa.NewEngine(pool)
		ev, err := engine.Run(ctx, asOf, th)
		if err != nil {
			return eris.Wrap(err, "qa")
		}

		path, err := qa.WriteSummary(cfg.Report.Dir, ev, th)
		if err != nil {
			zap.L().Warn("write qa summary failed", zap.Error(err))
		} else {
			zap.L().Info("qa summary written", zap.String("path", path))
		}

		exitCode = reportEvaluation(os.Stdout, os.Stderr, ev)
		return nil
	},
}

// reportEvaluation prints a pass/fail line per gate and returns the process
// exit code. Returning it instead of exiting here lets the deferred pool
// close and the log sync run first.
func reportEvaluation(out, errOut io.Writer, ev *qa.Evaluation) int {
	for _, gr := range ev.Results {
		mark := "PASS"
		if !gr.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(out, "%-4s %-24s %s\n", mark, gr.Name, gr.Details)
	}
	if !ev.Passed() {
		fmt.Fprintf(errOut, "%d gate(s) failed\n", len(ev.Failed()))
		return 1
	}
	return 0
}

func init() {
	qaCmd.Flags().String("date", "", "logical QA date YYYY-MM-DD (default today)")
	qaCmd.Flags().Float64("min-providers-ok", 0, "override minimum providers with full coverage")
	qaCmd.Flags().Float64("min-products", 0, "override minimum dim_products rows")
	qaCmd.Flags().Float64("min-rate-changes", 0, "override minimum rate change rows")
	qaCmd.Flags().Float64("max-freshness-hours", 0, "override maximum raw data age in hours")
	qaCmd.Flags().Bool("fail-on-drift", false, "fail the drift gate when any drift was observed today")
	qaCmd.Flags().Bool("skip-external", false, "skip the external test command")
	rootCmd.AddCommand(qaCmd)
}
