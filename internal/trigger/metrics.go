package trigger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteFallbacks counts countdowns that settled locally after the remote call failed or timed out.
	RemoteFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_remote_fallbacks_total",
		Help: "Total number of countdown settlements that fell back to the local settler",
	}, []string{"reason"})

	// SweepSettled counts stale pending trades settled by the sweeper.
	SweepSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_sweep_settled_total",
		Help: "Total number of expired trades settled by the sweeper",
	})

	// SweepErrors counts trades the sweeper could not settle on a pass.
	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_sweep_errors_total",
		Help: "Total number of sweep settlement attempts that failed",
	})

	// SweepDuration tracks the time taken by a full sweep pass.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trigger_sweep_duration_seconds",
		Help:    "Time taken by one sweep pass over expired pending trades",
		Buckets: prometheus.DefBuckets,
	})
)
