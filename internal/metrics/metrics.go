// Package metrics holds the Prometheus collectors of the grid bot.
//
// Exposed series:
//   - gridbot_ticks_total{result}                 polling ticks by outcome
//   - gridbot_orders_total{side,result}           order placements by outcome
//   - gridbot_settlements_total{side,outcome}     reconciliations by outcome
//   - gridbot_settlement_pending{side}            1 while a settlement is outstanding
//   - gridbot_price{pair}                         last polled price
//   - gridbot_next_buy_price{pair}                frontier buy trigger
//   - gridbot_threshold_corrections_total{pair}   applied threshold corrections
//   - gridbot_ledger_flushes_total{result}        ledger flushes by outcome
//   - gridbot_ledger_flush_seconds                flush latency
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_ticks_total",
			Help: "Polling ticks by result (executed, skipped_busy, skipped_pending, skipped_spacing, skipped_stopped, error).",
		},
		[]string{"result"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_orders_total",
			Help: "Order placements by side and result.",
		},
		[]string{"side", "result"},
	)

	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_settlements_total",
			Help: "Order settlements by side and outcome.",
		},
		[]string{"side", "outcome"},
	)

	SettlementPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridbot_settlement_pending",
			Help: "1 while a settlement of the side is outstanding.",
		},
		[]string{"side"},
	)

	Price = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridbot_price",
			Help: "Last polled price.",
		},
		[]string{"pair"},
	)

	NextBuyPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridbot_next_buy_price",
			Help: "Buy trigger of the frontier grid.",
		},
		[]string{"pair"},
	)

	ThresholdCorrections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_threshold_corrections_total",
			Help: "Applied corrections of the frontier buy trigger.",
		},
		[]string{"pair"},
	)

	LedgerFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_ledger_flushes_total",
			Help: "Ledger flushes that reached durable storage, by result.",
		},
		[]string{"result"},
	)

	LedgerFlushSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridbot_ledger_flush_seconds",
			Help:    "Duration of ledger writes.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		Ticks,
		Orders,
		Settlements,
		SettlementPending,
		Price,
		NextBuyPrice,
		ThresholdCorrections,
		LedgerFlushes,
		LedgerFlushSeconds,
	)
}

// ObserveFlush records the outcome of one durable ledger write.
func ObserveFlush(err error, took time.Duration) {
	LedgerFlushSeconds.Observe(took.Seconds())
	if err != nil {
		LedgerFlushes.WithLabelValues("error").Inc()
		return
	}
	LedgerFlushes.WithLabelValues("ok").Inc()
}
