package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-supplychain-ledger/internal/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the vault schema to POSTGRES_DSN",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()

		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		lg.Info().Msg("schema applied")
		return nil
	},
}
