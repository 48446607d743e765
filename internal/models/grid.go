package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of the fill a grid records.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// UnmarshalJSON accepts both the string form and the legacy numeric enum
// (0 = BUY, 1 = SELL) found in older db.json files.
func (s *Side) UnmarshalJSON(data []byte) error {
	if n, err := strconv.Atoi(string(data)); err == nil {
		switch n {
		case 0:
			*s = SideBuy
		case 1:
			*s = SideSell
		default:
			return fmt.Errorf("unknown trading type %d", n)
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch Side(strings.ToUpper(str)) {
	case SideBuy:
		*s = SideBuy
	case SideSell:
		*s = SideSell
	default:
		return fmt.Errorf("unknown trading type %q", str)
	}
	return nil
}

// TradeStatus is the exchange-independent state of the order behind a grid.
type TradeStatus string

const (
	StatusNotStarted TradeStatus = "NOT_STARTED"
	StatusSuccess    TradeStatus = "SUCCESS"
	StatusPending    TradeStatus = "PENDING"
	StatusFailed     TradeStatus = "FAILED"
	StatusFinished   TradeStatus = "FINISHED"
	StatusUnknown    TradeStatus = "UNKNOWN"
)

// legacyStatuses is the numeric enum order used by older db.json files.
var legacyStatuses = []TradeStatus{
	StatusNotStarted,
	StatusSuccess,
	StatusPending,
	StatusFailed,
	StatusFinished,
	StatusUnknown,
}

// UnmarshalJSON accepts both the string form and the legacy numeric enum.
func (s *TradeStatus) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = StatusUnknown
		return nil
	}
	if n, err := strconv.Atoi(string(data)); err == nil {
		if n < 0 || n >= len(legacyStatuses) {
			return fmt.Errorf("unknown trade status %d", n)
		}
		*s = legacyStatuses[n]
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = TradeStatus(strings.ToUpper(str))
	return nil
}

// Grid is one rung of the ledger: a single executed buy or sell fill plus the
// thresholds derived from it.
type Grid struct {
	ID              string          `json:"tid"`
	Status          TradeStatus     `json:"tradeStatus"`
	FillTime        string          `json:"operatingTime"`
	FillTimeFormat  string          `json:"operatingTimeFormat"`
	FillPrice       decimal.Decimal `json:"operatingPrice"`
	OperatingAmount decimal.Decimal `json:"operatingAmount"`
	Side            Side            `json:"tradingType"`
	NextBuyPrice    decimal.Decimal `json:"nextBuyPrice"`

	// Take-profit bookkeeping, only meaningful on BUY grids.
	NeedSellPrice decimal.Decimal `json:"needSellPrice"`
	SellAmount    decimal.Decimal `json:"sellAmount"`
	SellTids      []string        `json:"sellTids"`
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	if g.SellTids != nil {
		g.SellTids = append([]string(nil), g.SellTids...)
	}
	return g
}

// IsBuy reports whether the grid records a buy fill.
func (g Grid) IsBuy() bool {
	return g.Side == SideBuy
}

// Outstanding is the part of a BUY grid's amount that has not been sold yet.
func (g Grid) Outstanding() decimal.Decimal {
	if !g.IsBuy() {
		return decimal.Zero
	}
	rest := g.OperatingAmount.Sub(g.SellAmount)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// Sellable reports whether a BUY grid has reached its take-profit price and
// still holds an unsold amount.
func (g Grid) Sellable(price decimal.Decimal) bool {
	return g.IsBuy() &&
		g.NeedSellPrice.LessThanOrEqual(price) &&
		g.SellAmount.LessThan(g.OperatingAmount)
}

// HasSellTid reports whether the sell order id already drew against the grid.
func (g Grid) HasSellTid(tid string) bool {
	for _, t := range g.SellTids {
		if t == tid {
			return true
		}
	}
	return false
}

// Stamp sets both representations of the fill time.
func (g *Grid) Stamp(t time.Time) {
	g.FillTime = strconv.FormatInt(t.UnixMilli(), 10)
	g.FillTimeFormat = t.Format("2006-01-02 15:04:05")
}
