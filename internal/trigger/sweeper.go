package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
	"trade-settlement-engine/internal/settlement"
)

// Sweeper settles trades whose deadline passed without any client trigger
// firing, e.g. because every session was closed.
type Sweeper struct {
	store     *ledger.Store
	settler   *settlement.Settler
	interval  time.Duration
	grace     time.Duration
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

// NewSweeper creates a new Sweeper.
func NewSweeper(store *ledger.Store, settler *settlement.Settler, cfg config.Settlement, logger *zap.Logger) *Sweeper {
	s := &Sweeper{
		store:     store,
		settler:   settler,
		interval:  cfg.SweepInterval,
		grace:     cfg.SweepGrace,
		batchSize: cfg.SweepBatchSize,
		now:       time.Now,
		logger:    logger.Named("sweeper"),
	}
	if s.interval <= 0 {
		s.interval = 5 * time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	return s
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper-started", zap.Duration("interval", s.interval), zap.Duration("grace", s.grace))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper-stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep-failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass and returns how many trades it settled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { SweepDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := s.now().UTC().Add(-s.grace)
	trades, err := s.store.ListExpiredPending(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, trade := range trades {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		res, err := s.settler.Settle(ctx, trade.ID, settlement.SettleOptions{By: models.SettledBySweep})
		if err != nil {
			SweepErrors.Inc()
			s.logger.Warn("sweep-settle-failed", zap.String("trade-id", trade.ID), zap.Error(err))
			continue
		}
		if res.Applied {
			settled++
			SweepSettled.Inc()
		}
	}
	if settled > 0 {
		s.logger.Info("sweep-complete", zap.Int("candidates", len(trades)), zap.Int("settled", settled))
	}
	return settled, nil
}
