package models

import (
	"binance-grid-bot-go/internal/config"
	"github.com/shopspring/decimal"
)

// Profile is the immutable strategy profile of one trading pair.
type Profile struct {
	Pair           string
	TargetCoin     string
	AnchorCoin     string
	BuyDownRate    decimal.Decimal
	SellUpRate     decimal.Decimal
	Precision      int32
	BuyQuoteAmount decimal.Decimal
}

// NewProfile converts the configured grid section into exact decimals.
func NewProfile(cfg config.Grid) Profile {
	return Profile{
		Pair:           cfg.TradingPair,
		TargetCoin:     cfg.TargetCoin,
		AnchorCoin:     cfg.AnchorCoin,
		BuyDownRate:    decimal.NewFromFloat(cfg.BuyDownRate),
		SellUpRate:     decimal.NewFromFloat(cfg.SellUpRate),
		Precision:      cfg.Precision,
		BuyQuoteAmount: decimal.NewFromFloat(cfg.BuyQuoteAmount),
	}
}

// NextBuyPrice is the price below which the next buy fires after a fill at price.
func (p Profile) NextBuyPrice(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Sub(p.BuyDownRate)).Round(p.Precision)
}

// NeedSellPrice is the price above which a buy filled at price becomes sellable.
func (p Profile) NeedSellPrice(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Add(p.SellUpRate)).Round(p.Precision)
}
