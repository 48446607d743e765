package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"binance-grid-bot-go/internal/binance"
	"binance-grid-bot-go/internal/exchange"
	"binance-grid-bot-go/internal/exchange/paper"
	"binance-grid-bot-go/internal/ledger"
	"binance-grid-bot-go/internal/models"
	"binance-grid-bot-go/internal/trader"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(configPath *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the grid trading engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()
			if cmd.Flags().Changed("dry-run") {
				cfg.Engine.DryRun = dryRun
			}
			log.Info("Configuration loaded",
				zap.String("pair", cfg.Grid.TradingPair),
				zap.Bool("dry_run", cfg.Engine.DryRun),
				zap.String("store", cfg.Store.Backend),
			)

			// Setup context for graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persister, closeStore, err := openPersister(cfg.Store)
			if err != nil {
				return fmt.Errorf("failed to open ledger storage: %w", err)
			}
			defer closeStore()

			store, err := ledger.Open(ctx, persister, log)
			if err != nil {
				return err
			}

			// Initialize Binance REST client
			restClient := binance.NewRestClient(&cfg.Binance, log)
			if _, err := restClient.GetServerTime(ctx); err != nil {
				return fmt.Errorf("failed to connect to Binance API: %w", err)
			}
			log.Info("Successfully connected to Binance API.")

			profile := models.NewProfile(cfg.Grid)
			var gateway exchange.Gateway = binance.NewGateway(restClient, log)
			if cfg.Engine.DryRun {
				log.Warn("Dry run enabled. Orders are simulated against live prices.")
				gateway = paper.New(gateway, profile, cfg.Paper, log)
			}

			engine := trader.NewEngine(log, cfg.Engine, profile, gateway, store)
			api := trader.NewAPIServer(engine, cfg.Server.Port, log)
			api.Start()

			flushDone := make(chan struct{})
			go func() {
				defer close(flushDone)
				store.Run(ctx, cfg.Store.FlushInterval)
			}()

			engine.Run(ctx)
			log.Info("Engine stopped, flushing ledger...")
			<-flushDone

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := api.Stop(shutdownCtx); err != nil {
				log.Error("Failed to stop API server", zap.Error(err))
			}
			if err := store.Close(shutdownCtx); err != nil {
				log.Error("Final ledger flush failed", zap.Error(err))
				return err
			}

			log.Info("Bot has been shut down.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate orders instead of sending them")
	return cmd
}
