package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/ledger"
)

// Dispatcher drains the notification outbox written by the settlement
// executor. A notification is marked delivered only after every sink
// accepted it, so delivery is at-least-once.
type Dispatcher struct {
	store     *ledger.Store
	sinks     []Sink
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store *ledger.Store, cfg config.Notify, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		sinks:     sinks,
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
		logger:    logger.Named("dispatcher"),
	}
	if d.interval <= 0 {
		d.interval = 2 * time.Second
	}
	if d.batchSize <= 0 {
		d.batchSize = 50
	}
	return d
}

// Run polls the outbox until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher-started", zap.Duration("interval", d.interval), zap.Int("sinks", len(d.sinks)))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher-stopped")
			return
		case <-ticker.C:
			if _, err := d.Dispatch(ctx); err != nil {
				d.logger.Error("dispatch-failed", zap.Error(err))
			}
		}
	}
}

// Dispatch sends one batch and returns how many notifications were delivered.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	pending, err := d.store.ListUndelivered(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, n := range pending {
		ok := true
		for _, sink := range d.sinks {
			if err := sink.Send(ctx, n); err != nil {
				ok = false
				NotificationsFailed.WithLabelValues(sink.Name()).Inc()
				d.logger.Warn("notification-send-failed",
					zap.String("sink", sink.Name()),
					zap.String("notification-id", n.ID),
					zap.Error(err))
				break
			}
		}
		if !ok {
			continue
		}
		if err := d.store.MarkDelivered(ctx, n.ID, d.now().UTC()); err != nil {
			return delivered, err
		}
		NotificationsDelivered.WithLabelValues(string(n.Kind)).Inc()
		delivered++
	}
	return delivered, nil
}
