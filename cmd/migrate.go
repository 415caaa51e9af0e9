package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakeshore-data/cdr-pipeline/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or reset the warehouse schema",
	Long:  "Applies the bronze and raw layer DDL. With --force, drops every pipeline schema first and rebuilds from scratch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		force, _ := cmd.Flags().GetBool("force")
		if err := store.Migrate(ctx, pool, force); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("schema ready", zap.Bool("force", force))
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("force", false, "drop all pipeline schemas before recreating")
	rootCmd.AddCommand(migrateCmd)
}
