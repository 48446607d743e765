// Package exchange defines the capabilities the grid engine needs from an
// exchange. Any venue can be adapted behind Gateway.
package exchange

import (
	"context"
	"errors"

	"binance-grid-bot-go/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance means the account cannot fund the order.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNotFound means the exchange does not know the order id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderTooSmall means the order falls below the symbol's minimum quantity.
	ErrOrderTooSmall = errors.New("order below minimum quantity")
)

// OrderResult is the outcome of a placed order.
type OrderResult struct {
	Status models.TradeStatus
	// GivenAmount is the cumulative quote quantity of the order.
	GivenAmount decimal.Decimal
	// GainAmount is the executed base quantity of the order.
	GainAmount decimal.Decimal
	FillPrice  decimal.Decimal
}

// Filled reports whether any part of the order executed.
func (r OrderResult) Filled() bool {
	return !r.GivenAmount.IsZero() && !r.GainAmount.IsZero()
}

// Gateway is the exchange boundary consumed by the grid engine. All methods
// are fallible. An empty order id with a nil error means the exchange
// rejected the order.
type Gateway interface {
	GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error)
	GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	BuyCoin(ctx context.Context, price, quoteAmount decimal.Decimal, pair string) (string, error)
	SellCoin(ctx context.Context, price, baseAmount decimal.Decimal, pair string) (string, error)
	SearchTrade(ctx context.Context, orderID, pair string) (OrderResult, error)
	// CancelTrade reports whether an open remainder was cancelled. Cancelling an
	// order that is already filled or cancelled is not an error.
	CancelTrade(ctx context.Context, orderID, pair string) (bool, error)
}
