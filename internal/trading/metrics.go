package trading

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesPlaced counts trades persisted as pending.
	TradesPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_trades_placed_total",
		Help: "Total number of trades placed, by pair and direction",
	}, []string{"pair", "direction"})

	// PlacementsRejected counts placement attempts refused by validation.
	PlacementsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_placements_rejected_total",
		Help: "Total number of placement attempts rejected, by field",
	}, []string{"field"})
)
