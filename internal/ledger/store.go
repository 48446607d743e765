// Package ledger keeps the per-pair grid ledgers in memory and persists them
// lazily. Updates are staged in a pending buffer and merged into the
// committed snapshot on Flush, so trading decisions never wait on I/O.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-grid-bot-go/internal/metrics"
	"binance-grid-bot-go/internal/models"
	"go.uber.org/zap"
)

// Persister writes and reads the committed snapshot of every pair.
// Save must replace the durable copy atomically.
type Persister interface {
	Load(ctx context.Context) (map[string][]models.Grid, error)
	Save(ctx context.Context, snapshot map[string][]models.Grid) error
}

// Store owns the ledgers of all pairs.
type Store struct {
	logger    *zap.Logger
	persister Persister

	mu        sync.Mutex
	ledgers   map[string]*Ledger
	committed map[string][]models.Grid
	pending   map[string][]models.Grid
	dirty     bool
	// gen increments on every change so a flush only clears dirty when nothing
	// arrived while it was writing.
	gen uint64

	// writeMu serializes Persister.Save calls.
	writeMu sync.Mutex
}

// Open loads the committed snapshot through the persister.
func Open(ctx context.Context, persister Persister, logger *zap.Logger) (*Store, error) {
	snapshot, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	if snapshot == nil {
		snapshot = make(map[string][]models.Grid)
	}

	s := &Store{
		logger:    logger.Named("ledger"),
		persister: persister,
		ledgers:   make(map[string]*Ledger),
		committed: snapshot,
		pending:   make(map[string][]models.Grid),
	}
	for pair, grids := range snapshot {
		s.logger.Info("Loaded ledger", zap.String("pair", pair), zap.Int("grids", len(grids)))
	}
	return s, nil
}

// GetLedger returns the live ledger of pair, creating an empty one the first
// time an unknown pair is requested.
func (s *Store) GetLedger(pair string) *Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.ledgers[pair]; ok {
		return l
	}

	committed, known := s.committed[pair]
	grids := make([]*models.Grid, 0, len(committed))
	for _, g := range committed {
		c := g.Clone()
		grids = append(grids, &c)
	}
	if !known {
		s.committed[pair] = []models.Grid{}
		s.markDirty()
	}

	l := &Ledger{pair: pair, store: s, grids: grids}
	s.ledgers[pair] = l
	return l
}

// Upsert stages a copy of grid for the next flush, replacing a pending entry
// with the same id. It never touches durable storage.
func (s *Store) Upsert(pair string, grid models.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grid = grid.Clone()
	pending := s.pending[pair]
	replaced := false
	for i := range pending {
		if pending[i].ID == grid.ID {
			pending[i] = grid
			replaced = true
			break
		}
	}
	if !replaced {
		pending = append(pending, grid)
	}
	s.pending[pair] = pending
	s.markDirty()
}

func (s *Store) markDirty() {
	s.dirty = true
	s.gen++
}

// Dirty reports whether there are changes not yet durably written.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush merges pending updates into the committed snapshot and writes it.
// It does nothing when the store is clean. On failure the store stays dirty
// and the next flush retries.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	for pair, updates := range s.pending {
		s.committed[pair] = merge(s.committed[pair], updates)
	}
	s.pending = make(map[string][]models.Grid)
	gen := s.gen
	snapshot := s.copyCommitted()
	s.mu.Unlock()

	start := time.Now()
	err := s.persister.Save(ctx, snapshot)
	metrics.ObserveFlush(err, time.Since(start))
	if err != nil {
		s.logger.Error("Failed to flush ledger, will retry", zap.Error(err))
		return fmt.Errorf("failed to flush ledger: %w", err)
	}

	s.mu.Lock()
	if s.gen == gen {
		s.dirty = false
	}
	s.mu.Unlock()
	s.logger.Debug("Ledger flushed", zap.Duration("took", time.Since(start)))
	return nil
}

// merge replaces committed entries whose id matches an update, keeping their
// position, and appends the remaining updates in arrival order.
func merge(committed, updates []models.Grid) []models.Grid {
	byID := make(map[string]int, len(updates))
	for i, u := range updates {
		byID[u.ID] = i
	}
	used := make([]bool, len(updates))

	merged := make([]models.Grid, 0, len(committed)+len(updates))
	for _, g := range committed {
		if i, ok := byID[g.ID]; ok {
			merged = append(merged, updates[i])
			used[i] = true
			continue
		}
		merged = append(merged, g)
	}
	for i, u := range updates {
		if !used[i] {
			merged = append(merged, u)
		}
	}
	return merged
}

// copyCommitted deep-copies the committed snapshot; callers hold s.mu.
func (s *Store) copyCommitted() map[string][]models.Grid {
	out := make(map[string][]models.Grid, len(s.committed))
	for pair, grids := range s.committed {
		cp := make([]models.Grid, len(grids))
		for i, g := range grids {
			cp[i] = g.Clone()
		}
		out[pair] = cp
	}
	return out
}

// Committed returns a copy of what has been merged for durable storage.
func (s *Store) Committed() map[string][]models.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyCommitted()
}

// Run flushes the store every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting periodic ledger flush", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are logged by Flush; the store stays dirty for the next round.
			_ = s.Flush(ctx)
		}
	}
}

// Close performs a final flush.
func (s *Store) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
