package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lakeshore-data/cdr-pipeline/internal/fetcher"
	"github.com/lakeshore-data/cdr-pipeline/internal/ingest"
	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion cycle",
	Long:  "Discovers data holder brands from the CDR register, then fetches every brand's product pages (and optionally product details), recording provenance and schema fingerprints as it goes.",
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
		runDate, err := parseDate(dateStr)
		if err != nil {
			return err
		}
		providerLimit, _ := cmd.Flags().GetInt("provider-limit")

		client := fetcher.New(fetcher.Options{
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     cfg.HTTP.Timeout(),
			MaxRetries:  cfg.HTTP.MaxRetries,
			BackoffBase: time.Duration(cfg.HTTP.BackoffSecs * float64(time.Second)),
			RatePerHost: rate.Limit(cfg.HTTP.RatePerHost),
			Burst:       cfg.HTTP.Burst,
		})
		defer client.Close()

		runner := ingest.NewRunner(pool, client, cfg)
		summary, err := runner.Run(ctx, runDate, providerLimit)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingestion complete",
			zap.String("run_id", summary.RunID),
			zap.Int("brands_discovered", summary.BrandsDiscovered),
			zap.Int("brands_processed", summary.BrandsProcessed),
			zap.Int("brands_failed", summary.BrandsFailed),
			zap.Int("total_products", summary.TotalProducts),
			zap.Int("details_fetched", summary.DetailsFetched),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	ingestCmd.Flags().String("date", "", "logical run date YYYY-MM-DD (default today)")
	ingestCmd.Flags().Int("provider-limit", 0, "process only the first N discovered brands (0 = configured default)")
	rootCmd.AddCommand(ingestCmd)
}
