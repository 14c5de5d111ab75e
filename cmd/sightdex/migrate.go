package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/sightdex/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the record index and the SQL schemas",
	Long: "Creates the FT index over record hashes (redis backend), the pgvector records table " +
		"(postgres backend) and the memory table. Safe to run repeatedly.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
			defer cancel()
			a.Close(ctx)
		}()
		return a.Migrate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
