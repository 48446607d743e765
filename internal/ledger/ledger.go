package ledger

import (
	"sync"

	"binance-grid-bot-go/internal/models"
)

// Ledger is the live, append-ordered grid sequence of one trading pair.
// Every change is staged in the owning store for the next flush.
type Ledger struct {
	pair  string
	store *Store

	mu    sync.RWMutex
	grids []*models.Grid
}

// Pair returns the trading pair of the ledger.
func (l *Ledger) Pair() string {
	return l.pair
}

// Len returns the number of grids.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.grids)
}

// Grids returns copies of all grids in ledger order.
func (l *Ledger) Grids() []models.Grid {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Grid, len(l.grids))
	for i, g := range l.grids {
		out[i] = g.Clone()
	}
	return out
}

// Frontier returns a copy of the most recently appended grid.
func (l *Ledger) Frontier() (models.Grid, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.grids) == 0 {
		return models.Grid{}, false
	}
	return l.grids[len(l.grids)-1].Clone(), true
}

// Get returns a copy of the grid with the given id.
func (l *Ledger) Get(id string) (models.Grid, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, g := range l.grids {
		if g.ID == id {
			return g.Clone(), true
		}
	}
	return models.Grid{}, false
}

// Append adds a new grid at the end of the ledger.
func (l *Ledger) Append(g models.Grid) {
	c := g.Clone()
	l.mu.Lock()
	l.grids = append(l.grids, &c)
	l.mu.Unlock()
	l.store.Upsert(l.pair, c)
}

// Apply mutates the grid with the given id in place and stages the result.
// It reports whether the grid exists.
func (l *Ledger) Apply(id string, fn func(g *models.Grid)) bool {
	l.mu.Lock()
	var updated *models.Grid
	for _, g := range l.grids {
		if g.ID == id {
			fn(g)
			c := g.Clone()
			updated = &c
			break
		}
	}
	l.mu.Unlock()

	if updated == nil {
		return false
	}
	l.store.Upsert(l.pair, *updated)
	return true
}
