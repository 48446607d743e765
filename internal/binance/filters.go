package binance

import (
	"fmt"

	"binance-grid-bot-go/internal/exchange"
	"github.com/shopspring/decimal"
)

const (
	FilterLotSize     = "LOT_SIZE"
	FilterPriceFilter = "PRICE_FILTER"
)

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol     string   `json:"symbol"`
	Status     string   `json:"status"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	Filters    []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// LOT_SIZE carries the quantity step, PRICE_FILTER the price tick.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	MinPrice   string `json:"minPrice,omitempty"`
	MaxPrice   string `json:"maxPrice,omitempty"`
	TickSize   string `json:"tickSize,omitempty"`
}

func (s SymbolInfo) filter(filterType string) (Filter, bool) {
	for _, f := range s.Filters {
		if f.FilterType == filterType {
			return f, true
		}
	}
	return Filter{}, false
}

// parseOrZero treats a missing or malformed filter value as "no constraint".
func parseOrZero(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FloorQuantity rounds qty down to the LOT_SIZE step and rejects quantities
// below the minimum.
// e.g. qty=1.23456, stepSize=0.001 -> 1.234
func (s SymbolInfo) FloorQuantity(qty decimal.Decimal) (decimal.Decimal, error) {
	f, ok := s.filter(FilterLotSize)
	if !ok {
		return qty, nil
	}

	if step := parseOrZero(f.StepSize); step.IsPositive() {
		qty = qty.Div(step).Floor().Mul(step)
	}
	minQty := parseOrZero(f.MinQty)
	if !qty.IsPositive() || qty.LessThan(minQty) {
		return decimal.Zero, fmt.Errorf("%s quantity %s below %s: %w", s.Symbol, qty, minQty, exchange.ErrOrderTooSmall)
	}
	return qty, nil
}

// RoundPrice rounds price to the nearest PRICE_FILTER tick.
func (s SymbolInfo) RoundPrice(price decimal.Decimal) decimal.Decimal {
	f, ok := s.filter(FilterPriceFilter)
	if !ok {
		return price
	}
	tick := parseOrZero(f.TickSize)
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}
