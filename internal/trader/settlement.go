package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"binance-grid-bot-go/internal/exchange"
	"binance-grid-bot-go/internal/metrics"
	"binance-grid-bot-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementState is the lifecycle stage of one side's order.
type SettlementState int

const (
	StateIdle SettlementState = iota
	StatePlacing
	StateAwaitingSettlement
	StateReconciling
	StateCommitted
	StateFailed
)

func (s SettlementState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlacing:
		return "placing"
	case StateAwaitingSettlement:
		return "awaiting_settlement"
	case StateReconciling:
		return "reconciling"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// settlement tracks the single outstanding order of one side.
type settlement struct {
	side    models.Side
	pending atomic.Bool

	mu      sync.Mutex
	state   SettlementState
	orderID string
}

func newSettlement(side models.Side) *settlement {
	return &settlement{side: side}
}

func (s *settlement) label() string {
	return string(s.side)
}

func (s *settlement) setState(state SettlementState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *settlement) snapshot() (SettlementState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.orderID
}

// begin marks the side as waiting on orderID.
func (s *settlement) begin(orderID string) {
	s.mu.Lock()
	s.state = StateAwaitingSettlement
	s.orderID = orderID
	s.mu.Unlock()
	s.pending.Store(true)
	metrics.SettlementPending.WithLabelValues(s.label()).Set(1)
}

// finish records the outcome and re-arms the loop.
func (s *settlement) finish(outcome SettlementState) {
	s.setState(outcome)
	metrics.Settlements.WithLabelValues(s.label(), outcome.String()).Inc()

	s.mu.Lock()
	s.state = StateIdle
	s.orderID = ""
	s.mu.Unlock()
	s.pending.Store(false)
	metrics.SettlementPending.WithLabelValues(s.label()).Set(0)
}

// reconcileFunc commits the outcome of a settled order to the ledger.
type reconcileFunc func(ctx context.Context, orderID string) error

// submit places an order through place and, when the exchange accepted it,
// schedules its reconciliation after the settlement window.
func (e *Engine) submit(s *settlement, place func() (string, error), reconcile reconcileFunc) {
	s.setState(StatePlacing)
	log := e.logger.With(zap.String("side", s.label()))

	orderID, err := place()
	switch {
	case errors.Is(err, exchange.ErrInsufficientBalance):
		log.Warn("Insufficient balance, order skipped", zap.Error(err))
		metrics.Orders.WithLabelValues(s.label(), "insufficient_balance").Inc()
		s.setState(StateIdle)
		return
	case errors.Is(err, exchange.ErrOrderTooSmall):
		log.Warn("Order below exchange minimum, skipped", zap.Error(err))
		metrics.Orders.WithLabelValues(s.label(), "too_small").Inc()
		s.setState(StateIdle)
		return
	case err != nil:
		log.Error("Failed to place order", zap.Error(err))
		metrics.Orders.WithLabelValues(s.label(), "error").Inc()
		s.setState(StateIdle)
		return
	case orderID == "":
		log.Warn("Order rejected by the exchange")
		metrics.Orders.WithLabelValues(s.label(), "rejected").Inc()
		s.setState(StateIdle)
		return
	}

	metrics.Orders.WithLabelValues(s.label(), "placed").Inc()
	s.begin(orderID)
	log.Info("Order placed, awaiting settlement",
		zap.String("order_id", orderID),
		zap.Duration("settlement_window", e.cfg.SettlementWindow),
	)
	e.scheduleReconcile(s, orderID, reconcile)
}

// scheduleReconcile runs reconcile once the settlement window elapsed. A
// shutdown before that ends the settlement as failed.
func (e *Engine) scheduleReconcile(s *settlement, orderID string, reconcile reconcileFunc) {
	ctx := e.settleCtx
	log := e.logger.With(zap.String("side", s.label()), zap.String("order_id", orderID))

	e.settlements.Add(1)
	go func() {
		defer e.settlements.Done()

		timer := time.NewTimer(e.cfg.SettlementWindow)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			log.Warn("Shutdown before settlement, order needs manual reconciliation")
			s.finish(StateFailed)
			return
		}

		s.setState(StateReconciling)
		if err := reconcile(ctx, orderID); err != nil {
			log.Error("Settlement failed", zap.Error(err))
			s.finish(StateFailed)
			return
		}
		s.finish(StateCommitted)
	}()
}

// lookupOrder queries the order outcome. An unknown order is looked up once
// more after the retry delay before giving up.
func (e *Engine) lookupOrder(ctx context.Context, orderID string) (exchange.OrderResult, error) {
	res, err := e.gateway.SearchTrade(ctx, orderID, e.profile.Pair)
	if !errors.Is(err, exchange.ErrOrderNotFound) {
		return res, err
	}

	e.logger.Warn("Order not found, retrying lookup",
		zap.String("order_id", orderID),
		zap.Duration("retry_in", e.cfg.OrderLookupRetryDelay),
	)
	timer := time.NewTimer(e.cfg.OrderLookupRetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return exchange.OrderResult{}, ctx.Err()
	}

	res, err = e.gateway.SearchTrade(ctx, orderID, e.profile.Pair)
	if errors.Is(err, exchange.ErrOrderNotFound) {
		e.logger.Error("Order still not found, manual ledger reconciliation required",
			zap.String("order_id", orderID),
		)
	}
	return res, err
}

// cancelRemainder cancels whatever part of the order is still open. Orders
// that already reached a final state are left alone by the exchange.
func (e *Engine) cancelRemainder(ctx context.Context, orderID string) {
	cancelled, err := e.gateway.CancelTrade(ctx, orderID, e.profile.Pair)
	if err != nil {
		e.logger.Warn("Failed to cancel order remainder", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if cancelled {
		e.logger.Info("Cancelled unfilled remainder", zap.String("order_id", orderID))
	}
}

// doBuy places a buy of the configured quote amount at price.
func (e *Engine) doBuy(ctx context.Context, price decimal.Decimal) {
	e.logger.Info("Buy triggered",
		zap.String("price", price.String()),
		zap.String("quote_amount", e.profile.BuyQuoteAmount.String()),
	)
	e.submit(e.buy, func() (string, error) {
		return e.gateway.BuyCoin(ctx, price, e.profile.BuyQuoteAmount, e.profile.Pair)
	}, e.reconcileBuy)
}

// doSell places one batched sell of the outstanding amount of grids, capped
// at the free base balance.
func (e *Engine) doSell(ctx context.Context, price decimal.Decimal, grids []models.Grid) {
	outstanding := decimal.Zero
	ids := make([]string, len(grids))
	for i, g := range grids {
		outstanding = outstanding.Add(g.Outstanding())
		ids[i] = g.ID
	}

	e.sell.setState(StatePlacing)
	balance, err := e.gateway.GetAccountBalance(ctx, e.profile.TargetCoin)
	if err != nil {
		e.logger.Error("Failed to get balance for sell", zap.String("asset", e.profile.TargetCoin), zap.Error(err))
		e.sell.setState(StateIdle)
		return
	}
	amount := decimal.Min(outstanding, balance)
	if balance.LessThan(outstanding) {
		e.logger.Warn("Base balance below outstanding grid amount",
			zap.String("asset", e.profile.TargetCoin),
			zap.String("balance", balance.String()),
			zap.String("outstanding", outstanding.String()),
		)
	}
	if !amount.IsPositive() {
		e.sell.setState(StateIdle)
		return
	}

	e.logger.Info("Sell triggered",
		zap.String("price", price.String()),
		zap.String("amount", amount.String()),
		zap.Strings("grids", ids),
	)
	e.submit(e.sell, func() (string, error) {
		return e.gateway.SellCoin(ctx, price, amount, e.profile.Pair)
	}, func(ctx context.Context, orderID string) error {
		return e.reconcileSell(ctx, orderID, ids)
	})
}

// reconcileBuy records the fill of a buy order as a new BUY grid. Failing to
// learn the outcome of a placed buy leaves an untracked position on the
// exchange and stops the process.
func (e *Engine) reconcileBuy(ctx context.Context, orderID string) error {
	if _, ok := e.ledger.Get(orderID); ok {
		e.logger.Info("Buy already recorded", zap.String("order_id", orderID))
		return nil
	}

	res, err := e.lookupOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) || ctx.Err() != nil {
			return fmt.Errorf("buy %s: %w", orderID, err)
		}
		e.onFatal("Buy settlement diverged from the exchange, stopping",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return fmt.Errorf("buy %s: %w", orderID, err)
	}
	e.cancelRemainder(ctx, orderID)

	if !res.Filled() {
		e.logger.Info("Buy order did not fill", zap.String("order_id", orderID), zap.String("status", string(res.Status)))
		return nil
	}

	grid := models.Grid{
		ID:              orderID,
		Status:          res.Status,
		FillPrice:       res.FillPrice,
		OperatingAmount: res.GainAmount,
		Side:            models.SideBuy,
		NextBuyPrice:    e.profile.NextBuyPrice(res.FillPrice),
		NeedSellPrice:   e.profile.NeedSellPrice(res.FillPrice),
		SellAmount:      decimal.Zero,
		SellTids:        []string{},
	}
	grid.Stamp(e.now())
	e.ledger.Append(grid)
	metrics.NextBuyPrice.WithLabelValues(e.profile.Pair).Set(grid.NextBuyPrice.InexactFloat64())

	e.logger.Info("Buy settled",
		zap.String("order_id", orderID),
		zap.String("fill_price", grid.FillPrice.String()),
		zap.String("amount", grid.OperatingAmount.String()),
		zap.String("next_buy_price", grid.NextBuyPrice.String()),
		zap.String("need_sell_price", grid.NeedSellPrice.String()),
	)

	if err := e.store.Flush(ctx); err != nil {
		e.logger.Warn("Ledger flush failed, retrying on the next periodic flush", zap.Error(err))
	}
	return nil
}

// reconcileSell draws the executed amount of a sell from the grids it was
// placed for, oldest first, then records the fill as a new SELL grid.
func (e *Engine) reconcileSell(ctx context.Context, orderID string, gridIDs []string) error {
	if _, ok := e.ledger.Get(orderID); ok {
		e.logger.Info("Sell already recorded", zap.String("order_id", orderID))
		return nil
	}

	res, err := e.lookupOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("sell %s: %w", orderID, err)
	}
	e.cancelRemainder(ctx, orderID)

	if !res.Filled() {
		e.logger.Info("Sell order did not fill", zap.String("order_id", orderID), zap.String("status", string(res.Status)))
		return nil
	}

	remaining := apportion(e.ledger, orderID, gridIDs, res.GainAmount)
	if remaining.IsPositive() {
		e.logger.Warn("Sell fill exceeds the outstanding grid amount",
			zap.String("order_id", orderID),
			zap.String("unassigned", remaining.String()),
		)
	}

	grid := models.Grid{
		ID:              orderID,
		Status:          res.Status,
		FillPrice:       res.FillPrice,
		OperatingAmount: res.GainAmount,
		Side:            models.SideSell,
		NextBuyPrice:    e.profile.NextBuyPrice(res.FillPrice),
	}
	grid.Stamp(e.now())
	e.ledger.Append(grid)

	e.logger.Info("Sell settled",
		zap.String("order_id", orderID),
		zap.String("fill_price", grid.FillPrice.String()),
		zap.String("amount", grid.OperatingAmount.String()),
		zap.String("proceeds", res.GivenAmount.String()),
	)

	if err := e.store.Flush(ctx); err != nil {
		e.logger.Warn("Ledger flush failed, retrying on the next periodic flush", zap.Error(err))
	}
	return nil
}

// gridLedger is the part of ledger.Ledger apportion needs.
type gridLedger interface {
	Apply(id string, fn func(g *models.Grid)) bool
}

// apportion draws amount from the grids in order, each at most its
// outstanding amount, and returns what could not be assigned. A grid that
// already carries orderID is skipped.
func apportion(l gridLedger, orderID string, gridIDs []string, amount decimal.Decimal) decimal.Decimal {
	remaining := amount
	for _, id := range gridIDs {
		if !remaining.IsPositive() {
			break
		}
		l.Apply(id, func(g *models.Grid) {
			if g.HasSellTid(orderID) {
				return
			}
			draw := decimal.Min(g.Outstanding(), remaining)
			if !draw.IsPositive() {
				return
			}
			g.SellAmount = g.SellAmount.Add(draw)
			g.SellTids = append(g.SellTids, orderID)
			remaining = remaining.Sub(draw)
		})
	}
	return remaining
}
