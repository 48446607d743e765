package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GridRecord is the database row of one grid. Rows are keyed by pair and order
// id; Position keeps the ledger's append order.
type GridRecord struct {
	Pair            string          `gorm:"primaryKey;size:32"`
	TID             string          `gorm:"column:tid;primaryKey;size:64"`
	Position        int             `gorm:"not null;index"`
	Status          string          `gorm:"not null"`
	FillTime        string
	FillTimeFormat  string
	FillPrice       decimal.Decimal `gorm:"type:text"`
	OperatingAmount decimal.Decimal `gorm:"type:text"`
	Side            string          `gorm:"not null"`
	NextBuyPrice    decimal.Decimal `gorm:"type:text"`
	NeedSellPrice   decimal.Decimal `gorm:"type:text"`
	SellAmount      decimal.Decimal `gorm:"type:text"`
	SellTids        []string        `gorm:"serializer:json;type:text"`
	UpdatedAt       time.Time
}

// NewGridRecord maps a grid to its row at the given ledger position.
func NewGridRecord(pair string, position int, g Grid) GridRecord {
	return GridRecord{
		Pair:            pair,
		TID:             g.ID,
		Position:        position,
		Status:          string(g.Status),
		FillTime:        g.FillTime,
		FillTimeFormat:  g.FillTimeFormat,
		FillPrice:       g.FillPrice,
		OperatingAmount: g.OperatingAmount,
		Side:            string(g.Side),
		NextBuyPrice:    g.NextBuyPrice,
		NeedSellPrice:   g.NeedSellPrice,
		SellAmount:      g.SellAmount,
		SellTids:        g.SellTids,
	}
}

// Grid maps the row back to a grid.
func (r GridRecord) Grid() Grid {
	return Grid{
		ID:              r.TID,
		Status:          TradeStatus(r.Status),
		FillTime:        r.FillTime,
		FillTimeFormat:  r.FillTimeFormat,
		FillPrice:       r.FillPrice,
		OperatingAmount: r.OperatingAmount,
		Side:            Side(r.Side),
		NextBuyPrice:    r.NextBuyPrice,
		NeedSellPrice:   r.NeedSellPrice,
		SellAmount:      r.SellAmount,
		SellTids:        r.SellTids,
	}
}
