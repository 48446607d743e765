package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"binance-grid-bot-go/internal/ledger"
	"binance-grid-bot-go/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLedgerCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Move grid ledgers between the configured store and db.json files",
	}
	cmd.AddCommand(newLedgerImportCmd(configPath), newLedgerExportCmd(configPath))
	return cmd
}

func newLedgerImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <db.json>",
		Short: "Merge a db.json ledger file into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			persister, closeStore, err := openPersister(cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			return importLedger(cmd.Context(), f, persister, log)
		},
	}
}

func newLedgerExportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the configured store as a db.json ledger file (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			persister, closeStore, err := openPersister(cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			if args[0] == "-" {
				return exportLedger(cmd.Context(), cmd.OutOrStdout(), persister)
			}
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			if err := exportLedger(cmd.Context(), f, persister); err != nil {
				f.Close()
				return err
			}
			log.Info("Ledger exported", zap.String("file", args[0]))
			return f.Close()
		},
	}
}

// importLedger merges every grid of the document into the store: known ids
// are replaced in place, new ids are appended in document order.
func importLedger(ctx context.Context, r io.Reader, persister ledger.Persister, log *zap.Logger) error {
	snapshot, err := ledger.DecodeJSON(r)
	if err != nil {
		return err
	}

	store, err := ledger.Open(ctx, persister, log)
	if err != nil {
		return err
	}
	for pair, grids := range snapshot {
		l := store.GetLedger(pair)
		added := 0
		for _, g := range grids {
			imported := g
			if l.Apply(g.ID, func(existing *models.Grid) { *existing = imported.Clone() }) {
				continue
			}
			l.Append(g)
			added++
		}
		log.Info("Imported ledger",
			zap.String("pair", pair),
			zap.Int("grids", len(grids)),
			zap.Int("added", added),
		)
	}
	return store.Close(ctx)
}

func exportLedger(ctx context.Context, w io.Writer, persister ledger.Persister) error {
	snapshot, err := persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	return ledger.EncodeJSON(w, snapshot)
}
