package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SettlementsApplied counts claims that won and applied a result, by terminal status.
	SettlementsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_applied_total",
		Help: "Total number of trades moved out of pending, by terminal status",
	}, []string{"status", "settled_by"})

	// SettlementConflicts counts invocations that found the trade already terminal.
	SettlementConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_conflicts_total",
		Help: "Total number of settlement invocations that found the trade already settled",
	}, []string{"settled_by"})

	// SettlementErrors counts invocations that failed and left the trade pending.
	SettlementErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_errors_total",
		Help: "Total number of settlement invocations that failed with an error",
	})

	// SettlementDuration tracks the time spent in the claim-and-apply transaction.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Time taken to claim a trade and apply its ledger mutations",
		Buckets: prometheus.DefBuckets,
	})

	// TerminalCacheHits counts lookups answered from the terminal-result cache.
	TerminalCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_terminal_cache_hits_total",
		Help: "Total number of settlement lookups served from the terminal-result cache",
	})

	// TerminalCacheMisses counts lookups that fell through to the store.
	TerminalCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_terminal_cache_misses_total",
		Help: "Total number of settlement lookups not found in the terminal-result cache",
	})
)
