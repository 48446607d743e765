package ledger

import (
	"context"
	"fmt"

	"binance-grid-bot-go/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLitePersister stores the ledger in the grid_records table.
type SQLitePersister struct {
	db *gorm.DB
}

// NewSQLitePersister creates a persister on an already migrated database.
func NewSQLitePersister(db *gorm.DB) *SQLitePersister {
	return &SQLitePersister{db: db}
}

// Load reads every pair's grids ordered by ledger position.
func (p *SQLitePersister) Load(ctx context.Context) (map[string][]models.Grid, error) {
	var records []models.GridRecord
	if err := p.db.WithContext(ctx).Order("pair, position").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to read grid records: %w", err)
	}

	snapshot := make(map[string][]models.Grid)
	for _, r := range records {
		snapshot[r.Pair] = append(snapshot[r.Pair], r.Grid())
	}
	return snapshot, nil
}

// Save writes the whole snapshot in one transaction. Grids are never deleted,
// so upserting every row by (pair, tid) is equivalent to a full rewrite.
func (p *SQLitePersister) Save(ctx context.Context, snapshot map[string][]models.Grid) error {
	var records []models.GridRecord
	for pair, grids := range snapshot {
		for i, g := range grids {
			records = append(records, models.NewGridRecord(pair, i, g))
		}
	}
	if len(records) == 0 {
		return nil
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair"}, {Name: "tid"}},
			UpdateAll: true,
		}).CreateInBatches(records, 200).Error
		if err != nil {
			return fmt.Errorf("failed to upsert grid records: %w", err)
		}
		return nil
	})
}
