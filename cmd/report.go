package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lakeshore-data/cdr-pipeline/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write mart reports",
	Long:  "Renders the rate-changes and provider-coverage marts to CSV plus a markdown pipeline summary. Missing marts become notes in the summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		dateStr, _ := cmd.Flags().GetString("date")
		asOf, err := parseDate(dateStr)
		if err != nil {
			return err
		}

		gen := report.NewGenerator(pool, cfg.Report.Dir)
		paths, err := gen.Run(ctx, asOf)
		if err != nil {
			return eris.Wrap(err, "report")
		}

		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().String("date", "", "report date YYYY-MM-DD (default today)")
	rootCmd.AddCommand(reportCmd)
}
