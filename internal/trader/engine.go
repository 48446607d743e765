package trader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"binance-grid-bot-go/internal/config"
	"binance-grid-bot-go/internal/exchange"
	"binance-grid-bot-go/internal/ledger"
	"binance-grid-bot-go/internal/metrics"
	"binance-grid-bot-go/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine is the grid trading engine of one pair. It polls the price, keeps
// the frontier's buy trigger current, and places at most one order at a time.
type Engine struct {
	logger  *zap.Logger
	cfg     config.Engine
	profile models.Profile
	gateway exchange.Gateway
	store   *ledger.Store
	ledger  *ledger.Ledger

	buy  *settlement
	sell *settlement

	inTick atomic.Bool

	mu         sync.Mutex
	lastTick   time.Time
	lastPrice  decimal.Decimal
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// settleCtx outlives pauses; only Stop cancels scheduled reconciliations.
	settleCtx    context.Context
	settleCancel context.CancelFunc
	settlements  sync.WaitGroup

	now     func() time.Time
	onFatal func(msg string, fields ...zap.Field)

	UUID      string
	Name      string
	StartTime time.Time
}

// NewEngine creates a grid engine trading profile.Pair through gateway.
func NewEngine(logger *zap.Logger, cfg config.Engine, profile models.Profile, gateway exchange.Gateway, store *ledger.Store) *Engine {
	settleCtx, settleCancel := context.WithCancel(context.Background())
	e := &Engine{
		logger:       logger.Named("engine").With(zap.String("pair", profile.Pair)),
		cfg:          cfg,
		profile:      profile,
		gateway:      gateway,
		store:        store,
		ledger:       store.GetLedger(profile.Pair),
		buy:          newSettlement(models.SideBuy),
		sell:         newSettlement(models.SideSell),
		settleCtx:    settleCtx,
		settleCancel: settleCancel,
		now:          time.Now,
		UUID:         uuid.NewString(),
		Name:         fmt.Sprintf("grid-%s", profile.Pair),
	}
	e.onFatal = func(msg string, fields ...zap.Field) {
		e.logger.Fatal(msg, fields...)
	}
	if frontier, ok := e.ledger.Frontier(); ok {
		metrics.NextBuyPrice.WithLabelValues(profile.Pair).Set(frontier.NextBuyPrice.InexactFloat64())
	}
	return e
}

// Start begins the polling loop. Calling Start on a running or stopped engine
// is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loopCancel != nil {
		return
	}
	if e.stopped() {
		e.logger.Warn("Engine has been stopped and cannot be restarted")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.loopCancel = cancel
	e.loopDone = done
	if e.StartTime.IsZero() {
		e.StartTime = e.now()
	}

	e.logger.Info("Starting polling loop",
		zap.Duration("interval", e.cfg.PollInterval),
		zap.Int("grids", e.ledger.Len()),
	)
	go e.loop(loopCtx, done)
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Pause stops the polling loop and waits for it to exit. Scheduled
// reconciliations keep running.
func (e *Engine) Pause() {
	e.mu.Lock()
	cancel, done := e.loopCancel, e.loopDone
	e.loopCancel, e.loopDone = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info("Polling loop paused")
}

// Stop stops the loop, cancels scheduled reconciliations and waits for them.
// A stopped engine cannot place further orders.
func (e *Engine) Stop() {
	e.Pause()
	e.settleCancel()
	e.settlements.Wait()
	e.logger.Info("Trading engine stopped")
}

func (e *Engine) stopped() bool {
	return e.settleCtx.Err() != nil
}

// Run starts the engine and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.Start(ctx)
	<-ctx.Done()
	e.logger.Info("Stopping trading engine...")
	e.Stop()
}

// Running reports whether the polling loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loopCancel != nil
}

// SettlementPending reports whether an order of either side awaits settlement.
func (e *Engine) SettlementPending() bool {
	return e.buy.pending.Load() || e.sell.pending.Load()
}

// SettlementState returns the current state of side's settlement.
func (e *Engine) SettlementState(side models.Side) SettlementState {
	s := e.buy
	if side == models.SideSell {
		s = e.sell
	}
	state, _ := s.snapshot()
	return state
}

// Ledger returns the live ledger of the traded pair.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Tick runs one poll-evaluate-act step. It is skipped when the engine has been
// stopped, when a tick is already executing, when a settlement is pending, or
// when the previous tick ran less than the minimum poll spacing ago.
func (e *Engine) Tick(ctx context.Context) {
	if e.stopped() {
		metrics.Ticks.WithLabelValues("skipped_stopped").Inc()
		return
	}
	if !e.inTick.CompareAndSwap(false, true) {
		metrics.Ticks.WithLabelValues("skipped_busy").Inc()
		return
	}
	defer e.inTick.Store(false)

	if e.SettlementPending() {
		metrics.Ticks.WithLabelValues("skipped_pending").Inc()
		return
	}

	now := e.now()
	e.mu.Lock()
	if !e.lastTick.IsZero() && now.Sub(e.lastTick) < e.cfg.MinPollSpacing {
		e.mu.Unlock()
		metrics.Ticks.WithLabelValues("skipped_spacing").Inc()
		return
	}
	e.lastTick = now
	e.mu.Unlock()

	if err := e.evaluate(ctx); err != nil {
		e.logger.Error("Tick failed", zap.Error(err))
		metrics.Ticks.WithLabelValues("error").Inc()
		return
	}
	metrics.Ticks.WithLabelValues("executed").Inc()
}

func (e *Engine) evaluate(ctx context.Context) error {
	price, err := e.gateway.GetCurrentPrice(ctx, e.profile.Pair)
	if err != nil {
		return fmt.Errorf("failed to get price: %w", err)
	}
	e.mu.Lock()
	e.lastPrice = price
	e.mu.Unlock()
	metrics.Price.WithLabelValues(e.profile.Pair).Set(price.InexactFloat64())

	if err := e.fixSellPrice(ctx, price); err != nil {
		e.logger.Warn("Failed to persist corrected threshold", zap.Error(err))
	}

	var sellable []models.Grid
	for _, g := range e.ledger.Grids() {
		if g.Sellable(price) {
			sellable = append(sellable, g)
		}
	}

	frontier, hasFrontier := e.ledger.Frontier()
	e.logger.Debug("Tick",
		zap.String("price", price.String()),
		zap.Int("sellable", len(sellable)),
		zap.String("next_buy_price", frontier.NextBuyPrice.String()),
	)

	if len(sellable) > 0 {
		e.doSell(ctx, price, sellable)
	}

	if hasFrontier && frontier.NextBuyPrice.LessThan(price) {
		return nil
	}
	if e.SettlementPending() {
		e.logger.Info("Buy condition met while a settlement is pending, skipped", zap.String("price", price.String()))
		return nil
	}
	if !hasFrontier {
		e.logger.Info("Ledger is empty, placing the initial buy")
	}
	e.doBuy(ctx, price)
	return nil
}

// Status is a point-in-time view of the engine.
type Status struct {
	UUID        string       `json:"uuid"`
	Name        string       `json:"name"`
	Pair        string       `json:"pair"`
	StartTime   string       `json:"start_time"`
	Uptime      string       `json:"uptime"`
	Running     bool         `json:"running"`
	LastPrice   string       `json:"last_price"`
	BuyPending  bool         `json:"buy_pending"`
	SellPending bool         `json:"sell_pending"`
	BuyState    string       `json:"buy_state"`
	SellState   string       `json:"sell_state"`
	BuyOrder    string       `json:"buy_order,omitempty"`
	SellOrder   string       `json:"sell_order,omitempty"`
	Grids       int          `json:"grids"`
	Frontier    *models.Grid `json:"frontier,omitempty"`
	LedgerDirty bool         `json:"ledger_dirty"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	lastPrice := e.lastPrice
	e.mu.Unlock()

	buyState, buyOrder := e.buy.snapshot()
	sellState, sellOrder := e.sell.snapshot()

	st := Status{
		UUID:        e.UUID,
		Name:        e.Name,
		Pair:        e.profile.Pair,
		StartTime:   e.StartTime.Format(time.RFC3339),
		Uptime:      e.now().Sub(e.StartTime).Truncate(time.Second).String(),
		Running:     e.Running(),
		LastPrice:   lastPrice.String(),
		BuyPending:  e.buy.pending.Load(),
		SellPending: e.sell.pending.Load(),
		BuyState:    buyState.String(),
		SellState:   sellState.String(),
		BuyOrder:    buyOrder,
		SellOrder:   sellOrder,
		Grids:       e.ledger.Len(),
		LedgerDirty: e.store.Dirty(),
	}
	if frontier, ok := e.ledger.Frontier(); ok {
		st.Frontier = &frontier
	}
	return st
}
