// Package paper simulates order execution for dry runs. Prices come from a
// real source; orders fill immediately and completely at their limit price.
package paper

import (
	"context"
	"fmt"
	"sync"

	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/exchange"
	"binance-grid-bot-go/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// quantityPlaces is the precision simulated fills are truncated to.
const quantityPlaces = 8

// PriceSource provides live prices to the simulation.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error)
}

// Gateway is an in-memory exchange.Gateway.
type Gateway struct {
	prices PriceSource
	logger *zap.Logger
	base   string
	quote  string

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	orders   map[string]exchange.OrderResult
}

var _ exchange.Gateway = (*Gateway)(nil)

// New creates a paper gateway funded with the configured balances.
func New(prices PriceSource, profile models.Profile, cfg config.Paper, logger *zap.Logger) *Gateway {
	return &Gateway{
		prices: prices,
		logger: logger.Named("paper"),
		base:   profile.TargetCoin,
		quote:  profile.AnchorCoin,
		balances: map[string]decimal.Decimal{
			profile.TargetCoin: decimal.NewFromFloat(cfg.BaseBalance),
			profile.AnchorCoin: decimal.NewFromFloat(cfg.QuoteBalance),
		},
		orders: make(map[string]exchange.OrderResult),
	}
}

func (g *Gateway) GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return g.prices.GetCurrentPrice(ctx, pair)
}

func (g *Gateway) GetAccountBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[asset], nil
}

func (g *Gateway) BuyCoin(_ context.Context, price, quoteAmount decimal.Decimal, pair string) (string, error) {
	if !price.IsPositive() {
		return "", fmt.Errorf("invalid price %s", price)
	}
	qty := quoteAmount.Div(price).Truncate(quantityPlaces)
	if !qty.IsPositive() {
		return "", exchange.ErrOrderTooSmall
	}
	cost := qty.Mul(price)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.balances[g.quote].LessThan(cost) {
		return "", fmt.Errorf("buy %s %s: %w", qty, pair, exchange.ErrInsufficientBalance)
	}
	g.balances[g.quote] = g.balances[g.quote].Sub(cost)
	g.balances[g.base] = g.balances[g.base].Add(qty)
	return g.record(pair, models.SideBuy, price, qty, cost), nil
}

func (g *Gateway) SellCoin(_ context.Context, price, baseAmount decimal.Decimal, pair string) (string, error) {
	if !price.IsPositive() {
		return "", fmt.Errorf("invalid price %s", price)
	}
	qty := baseAmount.Truncate(quantityPlaces)
	if !qty.IsPositive() {
		return "", exchange.ErrOrderTooSmall
	}
	proceeds := qty.Mul(price)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.balances[g.base].LessThan(qty) {
		return "", fmt.Errorf("sell %s %s: %w", qty, pair, exchange.ErrInsufficientBalance)
	}
	g.balances[g.base] = g.balances[g.base].Sub(qty)
	g.balances[g.quote] = g.balances[g.quote].Add(proceeds)
	return g.record(pair, models.SideSell, price, qty, proceeds), nil
}

// record stores a filled order; callers hold g.mu.
func (g *Gateway) record(pair string, side models.Side, price, qty, quoteQty decimal.Decimal) string {
	id := uuid.NewString()
	g.orders[id] = exchange.OrderResult{
		Status:      models.StatusSuccess,
		GivenAmount: quoteQty,
		GainAmount:  qty,
		FillPrice:   price,
	}
	g.logger.Info("Simulated order filled",
		zap.String("order_id", id),
		zap.String("pair", pair),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.String("quantity", qty.String()),
	)
	return id
}

func (g *Gateway) SearchTrade(_ context.Context, orderID, _ string) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.orders[orderID]
	if !ok {
		return exchange.OrderResult{}, fmt.Errorf("order %s: %w", orderID, exchange.ErrOrderNotFound)
	}
	return res, nil
}

// CancelTrade never cancels anything: simulated orders are always final.
func (g *Gateway) CancelTrade(_ context.Context, orderID, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orders[orderID]; !ok {
		return false, fmt.Errorf("order %s: %w", orderID, exchange.ErrOrderNotFound)
	}
	return false, nil
}
