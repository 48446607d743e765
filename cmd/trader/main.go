package main

import (
	"fmt"
	"os"

	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/database"
	"binance-grid-bot-go/internal/ledger"
	"binance-grid-bot-go/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "trader",
		Short:         "Grid trading bot for Binance spot pairs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs", "directory holding config.yml")

	root.AddCommand(
		newRunCmd(&configPath),
		newLedgerCmd(&configPath),
	)
	return root
}

// setup loads the configuration and builds the logger shared by all commands.
func setup(configPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("could not load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return cfg, nil, fmt.Errorf("could not initialize logger: %w", err)
	}
	return cfg, log, nil
}

// openPersister returns the ledger persister of the configured backend and a
// function releasing its resources.
func openPersister(cfg config.Store) (ledger.Persister, func() error, error) {
	switch cfg.Backend {
	case "json":
		return ledger.NewJSONPersister(cfg.JSONPath), func() error { return nil }, nil
	case "sqlite":
		db, err := database.NewDatabase(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return ledger.NewSQLitePersister(db), sqlDB.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
