package trader

import (
	"context"

	"binance-grid-bot-go/internal/metrics"
	"binance-grid-bot-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// correctThreshold recomputes the buy trigger of a BUY grid filled at
// fillPrice when price has climbed at least two grid steps above it.
//
// It finds the minimal i >= 1 with fillPrice*(1+sellUpRate)^i > price. For
// i > 1 the candidate is fillPrice*(1+sellUpRate)^(i-1) scaled by the buy-down
// rate and rounded to the profile precision. ok is false when no correction
// applies.
func correctThreshold(fillPrice, price decimal.Decimal, profile models.Profile) (candidate decimal.Decimal, ok bool) {
	if !fillPrice.IsPositive() || !profile.SellUpRate.IsPositive() || !price.GreaterThan(fillPrice) {
		return decimal.Zero, false
	}

	factor := decimal.NewFromInt(1).Add(profile.SellUpRate)
	level := fillPrice // fillPrice * factor^(i-1)
	i := 1
	for {
		next := level.Mul(factor)
		if next.GreaterThan(price) {
			break
		}
		level = next
		i++
	}
	if i == 1 {
		return decimal.Zero, false
	}
	return profile.NextBuyPrice(level), true
}

// fixSellPrice raises the frontier's buy trigger after price skipped grid
// steps between two polls. The trigger never decreases. An applied
// correction is flushed immediately since it gates the next buy.
func (e *Engine) fixSellPrice(ctx context.Context, price decimal.Decimal) error {
	frontier, ok := e.ledger.Frontier()
	if !ok || !frontier.IsBuy() {
		return nil
	}
	candidate, ok := correctThreshold(frontier.FillPrice, price, e.profile)
	if !ok || !candidate.GreaterThan(frontier.NextBuyPrice) {
		return nil
	}

	e.ledger.Apply(frontier.ID, func(g *models.Grid) {
		g.NextBuyPrice = candidate
	})
	metrics.ThresholdCorrections.WithLabelValues(e.profile.Pair).Inc()
	metrics.NextBuyPrice.WithLabelValues(e.profile.Pair).Set(candidate.InexactFloat64())
	e.logger.Info("Corrected buy threshold",
		zap.String("grid", frontier.ID),
		zap.String("price", price.String()),
		zap.String("old_next_buy_price", frontier.NextBuyPrice.String()),
		zap.String("next_buy_price", candidate.String()),
	)

	return e.store.Flush(ctx)
}
