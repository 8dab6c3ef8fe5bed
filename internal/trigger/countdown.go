package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
	"trade-settlement-engine/internal/settlement"
)

// RemoteSettler settles a trade on another process, usually the engine's HTTP API.
type RemoteSettler interface {
	Settle(ctx context.Context, tradeID string) (*settlement.Result, error)
}

// Phase is the countdown state reported to the caller on every tick.
type Phase string

const (
	PhaseCounting Phase = "counting"
	PhaseSettling Phase = "settling"
	PhaseHolding  Phase = "holding"
	PhaseReady    Phase = "ready"
)

// Tick is one observation of the countdown.
type Tick struct {
	TradeID   string
	Phase     Phase
	Remaining int
	Result    *settlement.Result
}

// CountdownConfig holds countdown dependencies.
type CountdownConfig struct {
	Store         *ledger.Store
	Local         *settlement.Settler
	Remote        RemoteSettler // optional
	RemoteTimeout time.Duration
	HoldWindow    time.Duration
	Interval      time.Duration // defaults to one second
	Now           func() time.Time
	OnTick        func(Tick)
	Logger        *zap.Logger
}

// Countdown is the client-side resolution trigger for one trade. It derives
// the remaining time from the persisted timer start, so restarting it after a
// reload or reconnect picks up where the trade actually is.
type Countdown struct {
	tradeID       string
	store         *ledger.Store
	local         *settlement.Settler
	remote        RemoteSettler
	remoteTimeout time.Duration
	holdWindow    time.Duration
	interval      time.Duration
	now           func() time.Time
	onTick        func(Tick)
	logger        *zap.Logger
}

// NewCountdown creates a countdown for tradeID.
func NewCountdown(tradeID string, cfg CountdownConfig) *Countdown {
	c := &Countdown{
		tradeID:       tradeID,
		store:         cfg.Store,
		local:         cfg.Local,
		remote:        cfg.Remote,
		remoteTimeout: cfg.RemoteTimeout,
		holdWindow:    cfg.HoldWindow,
		interval:      cfg.Interval,
		now:           cfg.Now,
		onTick:        cfg.OnTick,
		logger:        cfg.Logger.Named("countdown").With(zap.String("trade-id", tradeID)),
	}
	if c.interval <= 0 {
		c.interval = time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.remoteTimeout <= 0 {
		c.remoteTimeout = 5 * time.Second
	}
	if c.onTick == nil {
		c.onTick = func(Tick) {}
	}
	return c
}

// Run counts down once per interval until the trade is terminal, holds the
// result for the hold window and returns it. It stops early when ctx is done.
func (c *Countdown) Run(ctx context.Context) (*settlement.Result, error) {
	trade, err := c.store.GetTrade(ctx, c.tradeID)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Debug("countdown-cancelled")
			return nil, err
		}
		res, done := c.evaluate(ctx, trade)
		if done {
			return res, c.hold(ctx, res)
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// evaluate runs one tick. It reports done once a terminal result is known.
// The status is re-read every tick so a settlement by another trigger (a second
// session, the sweeper, an operator) ends this countdown too. The timer fields
// never change, so the snapshot loaded by Run is enough for Remaining.
func (c *Countdown) evaluate(ctx context.Context, trade *models.Trade) (*settlement.Result, bool) {
	res, err := c.local.Lookup(ctx, c.tradeID)
	if err != nil {
		c.logger.Warn("countdown-lookup-failed", zap.Error(err))
		return nil, false
	}
	if res != nil {
		return res, true
	}

	remaining := settlement.Remaining(trade.TimerStartedAt, trade.DurationSeconds, c.now())
	if remaining > 0 {
		c.onTick(Tick{TradeID: c.tradeID, Phase: PhaseCounting, Remaining: remaining})
		return nil, false
	}

	c.onTick(Tick{TradeID: c.tradeID, Phase: PhaseSettling})
	res, err = c.settle(ctx)
	if err != nil {
		// The trade stays pending; the next tick retries through the same guarded path.
		c.logger.Warn("countdown-settle-failed", zap.Error(err))
		return nil, false
	}
	return res, true
}

// settle prefers the remote settler and falls back to the local one when the
// remote call fails or does not finish within the remote timeout.
func (c *Countdown) settle(ctx context.Context) (*settlement.Result, error) {
	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
		res, err := c.remote.Settle(rctx, c.tradeID)
		cancel()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		RemoteFallbacks.WithLabelValues(reason).Inc()
		c.logger.Warn("remote-settle-fallback", zap.String("reason", reason), zap.Error(err))
	}

	res, err := c.local.Settle(ctx, c.tradeID, settlement.SettleOptions{By: models.SettledByCountdown})
	if err != nil {
		return nil, fmt.Errorf("local settle: %w", err)
	}
	return res, nil
}

// hold keeps the terminal result visible before reporting ready for a new trade.
func (c *Countdown) hold(ctx context.Context, res *settlement.Result) error {
	c.logger.Info("countdown-finished",
		zap.String("status", string(res.Trade.Status)),
		zap.Bool("applied", res.Applied))
	c.onTick(Tick{TradeID: c.tradeID, Phase: PhaseHolding, Result: res})

	if c.holdWindow > 0 {
		timer := time.NewTimer(c.holdWindow)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	c.onTick(Tick{TradeID: c.tradeID, Phase: PhaseReady, Result: res})
	return nil
}
