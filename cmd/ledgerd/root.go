package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-supplychain-ledger/internal/config"
	"github.com/ariefcatur/go-supplychain-ledger/internal/logger"
)

var (
	cfg config.Config
	lg  *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Supply-chain settlement ledger node",
	Long: `ledgerd runs one party of the supply-chain ledger.

Configuration is read from the environment (and .env when present):
  PARTY, KEY_SEED, PEERS, HTTP_ADDR, POSTGRES_DSN, REDIS_ADDR,
  KAFKA_BROKERS, KAFKA_WORKERS, FLOW_TIMEOUT, LOG_LEVEL, APP_ENV`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		cfg = config.Load()
		lg = logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel})
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, keygenCmd)
}
