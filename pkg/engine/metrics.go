package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics is the ambient observability layer for the trade engine: spec's
// Non-goals exclude features (order books, market discovery, ...), not
// ambient concerns, so trades/settlements/collateral reconciliations are
// always counted.
var metrics = struct {
	trades               *prometheus.CounterVec
	settlements           prometheus.Counter
	collateralReconciles  *prometheus.CounterVec
}{
	trades: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predex",
		Subsystem: "engine",
		Name:      "trades_total",
		Help:      "Number of completed trades by operation and side.",
	}, []string{"operation", "side"}),
	settlements: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "predex",
		Subsystem: "engine",
		Name:      "settlements_total",
		Help:      "Number of markets settled.",
	}),
	collateralReconciles: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predex",
		Subsystem: "engine",
		Name:      "collateral_reconciliations_total",
		Help:      "Number of collateral transfers between AMM and clearing house, by direction.",
	}, []string{"direction"}),
}

func recordTrade(operation string, side Side) {
	metrics.trades.WithLabelValues(operation, string(side)).Inc()
}

func recordSettlement() {
	metrics.settlements.Inc()
}

func recordCollateralTransfer(t *CollateralTransfer) {
	if t == nil {
		return
	}
	direction := "amm_to_house"
	if !t.ToHouse {
		direction = "house_to_amm"
	}
	metrics.collateralReconciles.WithLabelValues(direction).Inc()
}
