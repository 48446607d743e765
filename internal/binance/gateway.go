package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"binance-grid-bot-go/internal/exchange"
	"binance-grid-bot-go/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway adapts the Binance REST API to exchange.Gateway. Orders are GTC
// limit orders addressed by the client order id the gateway generates.
type Gateway struct {
	client RestClientInterface
	logger *zap.Logger

	mu    sync.Mutex
	rules map[string]SymbolInfo
}

var _ exchange.Gateway = (*Gateway)(nil)

// NewGateway creates a Binance gateway on top of a REST client.
func NewGateway(client RestClientInterface, logger *zap.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.Named("gateway"),
		rules:  make(map[string]SymbolInfo),
	}
}

// symbolInfo returns the cached trading rules of pair, fetching them once.
func (g *Gateway) symbolInfo(ctx context.Context, pair string) (SymbolInfo, error) {
	g.mu.Lock()
	info, ok := g.rules[pair]
	g.mu.Unlock()
	if ok {
		return info, nil
	}

	resp, err := g.client.GetExchangeInfo(ctx, pair)
	if err != nil {
		return SymbolInfo{}, err
	}
	for _, s := range resp.Symbols {
		if s.Symbol == pair {
			g.mu.Lock()
			g.rules[pair] = s
			g.mu.Unlock()
			g.logger.Info("Cached exchange rules", zap.String("symbol", pair))
			return s, nil
		}
	}
	return SymbolInfo{}, fmt.Errorf("symbol %s not listed", pair)
}

// GetCurrentPrice returns the last traded price of pair.
func (g *Gateway) GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	raw, err := g.client.GetTickerPrice(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q for %s: %w", raw, pair, err)
	}
	return price, nil
}

// GetAccountBalance returns the free balance of asset. An asset the account
// never held has a zero balance.
func (g *Gateway) GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := g.client.GetAccount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			return parseOrZero(b.Free), nil
		}
	}
	return decimal.Zero, nil
}

// BuyCoin places a limit buy spending quoteAmount at price and returns the
// client order id.
func (g *Gateway) BuyCoin(ctx context.Context, price, quoteAmount decimal.Decimal, pair string) (string, error) {
	if !price.IsPositive() {
		return "", fmt.Errorf("invalid buy price %s", price)
	}
	info, err := g.symbolInfo(ctx, pair)
	if err != nil {
		return "", err
	}
	price = info.RoundPrice(price)
	qty, err := info.FloorQuantity(quoteAmount.Div(price))
	if err != nil {
		return "", err
	}
	return g.placeOrder(ctx, pair, OrderSideBuy, price, qty)
}

// SellCoin places a limit sell of baseAmount at price and returns the client
// order id.
func (g *Gateway) SellCoin(ctx context.Context, price, baseAmount decimal.Decimal, pair string) (string, error) {
	if !price.IsPositive() {
		return "", fmt.Errorf("invalid sell price %s", price)
	}
	info, err := g.symbolInfo(ctx, pair)
	if err != nil {
		return "", err
	}
	qty, err := info.FloorQuantity(baseAmount)
	if err != nil {
		return "", err
	}
	return g.placeOrder(ctx, pair, OrderSideSell, info.RoundPrice(price), qty)
}

func (g *Gateway) placeOrder(ctx context.Context, pair, side string, price, qty decimal.Decimal) (string, error) {
	id := uuid.NewString()
	resp, err := g.client.CreateOrder(ctx, OrderRequest{
		Symbol:        pair,
		Side:          side,
		Quantity:      qty.String(),
		Price:         price.String(),
		ClientOrderID: id,
	})
	if err != nil {
		if !placementUncertain(err) {
			return "", mapError(err)
		}
		return g.recoverPlacement(ctx, pair, id, err)
	}
	return resp.ClientOrderID, nil
}

// recoverPlacement looks up an order whose placement outcome is unknown. An
// order the exchange holds is returned so that it is reconciled like any
// other; an order the exchange has never seen returns the placement error.
func (g *Gateway) recoverPlacement(ctx context.Context, pair, id string, placeErr error) (string, error) {
	log := g.logger.With(zap.String("symbol", pair), zap.String("client_order_id", id))
	_, err := g.client.QueryOrder(ctx, pair, id)
	var apiErr *APIError
	switch {
	case err == nil:
		log.Warn("Order was accepted despite a failed placement response", zap.NamedError("placement_error", placeErr))
		return id, nil
	case errors.As(err, &apiErr) && apiErr.Code == CodeNoSuchOrder:
		return "", mapError(placeErr)
	default:
		log.Error("Order placement status unknown, tracking it for reconciliation",
			zap.NamedError("placement_error", placeErr),
			zap.Error(err),
		)
		return id, nil
	}
}

// placementUncertain reports whether err leaves open that the exchange
// accepted the order: transport failures, server errors and duplicate
// rejections of a retried request.
func placementUncertain(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	if apiErr.StatusCode >= 500 {
		return true
	}
	return apiErr.Code == CodeNewOrderRejected && strings.Contains(strings.ToLower(apiErr.Msg), msgDuplicateOrder)
}

// SearchTrade returns the current fill state of the order.
func (g *Gateway) SearchTrade(ctx context.Context, orderID, pair string) (exchange.OrderResult, error) {
	resp, err := g.client.QueryOrder(ctx, pair, orderID)
	if err != nil {
		return exchange.OrderResult{}, mapError(err)
	}
	return orderResult(resp), nil
}

// CancelTrade reports whether the order was cancelled by this call. An order
// that is already filled or cancelled yields false without an error.
func (g *Gateway) CancelTrade(ctx context.Context, orderID, pair string) (bool, error) {
	resp, err := g.client.CancelOrder(ctx, pair, orderID)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == CodeCancelRejected {
			return false, nil
		}
		return false, mapError(err)
	}
	return resp.Status == "CANCELED", nil
}

const msgDuplicateOrder = "duplicate order"

// mapError translates Binance error codes into exchange sentinel errors.
func mapError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == CodeNoSuchOrder:
		return fmt.Errorf("%w: %w", exchange.ErrOrderNotFound, err)
	case apiErr.Code == CodeNewOrderRejected && strings.Contains(apiErr.Msg, "insufficient balance"):
		return fmt.Errorf("%w: %w", exchange.ErrInsufficientBalance, err)
	}
	return err
}

// StatusOf maps a Binance order status to the exchange-independent status.
func StatusOf(status string) models.TradeStatus {
	switch status {
	case "FILLED":
		return models.StatusSuccess
	case "EXPIRED", "CANCELED":
		return models.StatusFinished
	case "NEW":
		return models.StatusNotStarted
	case "PARTIALLY_FILLED":
		return models.StatusPending
	case "REJECTED":
		return models.StatusFailed
	default:
		return models.StatusUnknown
	}
}

func orderResult(resp *OrderResponse) exchange.OrderResult {
	res := exchange.OrderResult{
		Status:      StatusOf(resp.Status),
		GivenAmount: parseOrZero(resp.CummulativeQuoteQty),
		GainAmount:  parseOrZero(resp.ExecutedQuantity),
		FillPrice:   parseOrZero(resp.Price),
	}
	if res.FillPrice.IsZero() && res.GainAmount.IsPositive() {
		res.FillPrice = res.GivenAmount.Div(res.GainAmount)
	}
	return res
}
