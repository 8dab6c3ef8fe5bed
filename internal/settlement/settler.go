package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
)

// SettleOptions describes who is asking and whether the deadline may be skipped.
type SettleOptions struct {
	By    models.SettledBy
	Force bool // settle before the deadline (operator path)
}

// Settler is the guarded resolve-then-execute algorithm shared by every
// resolution trigger. It is safe to call concurrently for the same trade.
type Settler struct {
	store    *ledger.Store
	resolver *Resolver
	executor *Executor
	platform config.Platform
	now      func() time.Time
	logger   *zap.Logger
}

// SettlerConfig holds settler dependencies.
type SettlerConfig struct {
	Store    *ledger.Store
	Resolver *Resolver
	Executor *Executor
	Platform config.Platform
	Now      func() time.Time
	Logger   *zap.Logger
}

// NewSettler creates a new Settler.
func NewSettler(cfg SettlerConfig) *Settler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Settler{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		executor: cfg.Executor,
		platform: cfg.Platform,
		now:      now,
		logger:   cfg.Logger.Named("settler"),
	}
}

// Settle resolves and settles a trade, or returns its existing terminal result.
func (s *Settler) Settle(ctx context.Context, tradeID string, opts SettleOptions) (*Result, error) {
	if res, ok := s.executor.cache.Get(tradeID); ok {
		return &res, nil
	}

	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status.IsTerminal() {
		return s.executor.existing(ctx, trade)
	}

	now := s.now()
	if !opts.Force && !trade.Expired(now) {
		return nil, fmt.Errorf("%w: %ds remaining", ErrNotExpired, Remaining(trade.TimerStartedAt, trade.DurationSeconds, now))
	}

	decision := s.resolver.Resolve(*trade, s.platform)
	s.logger.Debug("trade-resolved",
		zap.String("trade-id", tradeID),
		zap.String("status", string(decision.Status)),
		zap.Bool("forced", decision.Forced),
		zap.Float64("draw", decision.Draw))

	return s.executor.Execute(ctx, tradeID, decision, opts.By)
}

// Cancel moves a pending trade to cancelled through the executor.
func (s *Settler) Cancel(ctx context.Context, tradeID string, by models.SettledBy) (*Result, error) {
	return s.executor.Cancel(ctx, tradeID, by)
}

// Lookup returns the terminal result for a trade, or nil while it is pending.
func (s *Settler) Lookup(ctx context.Context, tradeID string) (*Result, error) {
	return s.executor.Lookup(ctx, tradeID)
}

// Remaining is ceil((timerStart + duration - now) / 1s), clamped at zero.
func Remaining(timerStart time.Time, durationSeconds int, now time.Time) int {
	left := timerStart.Add(time.Duration(durationSeconds) * time.Second).Sub(now)
	if left <= 0 {
		return 0
	}
	secs := left / time.Second
	if left%time.Second != 0 {
		secs++
	}
	return int(secs)
}
