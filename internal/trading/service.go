package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
)

// PriceFeed supplies the entry price at placement time.
type PriceFeed interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PlaceRequest is a user's request to open a trade.
type PlaceRequest struct {
	UserID    string           `json:"user_id"`
	Pair      string           `json:"pair"`
	Direction models.Direction `json:"direction"`
	Stake     decimal.Decimal  `json:"stake"`
}

// Service validates placements, locks the stake and persists pending trades.
type Service struct {
	store    *ledger.Store
	prices   PriceFeed
	platform config.Platform
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a new placement Service. A nil now defaults to time.Now.
func NewService(store *ledger.Store, prices PriceFeed, platform config.Platform, now func() time.Time, logger *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		prices:   prices,
		platform: platform,
		now:      now,
		logger:   logger.Named("placement"),
	}
}

// Platform returns the configuration placements are validated against.
func (s *Service) Platform() config.Platform {
	return s.platform
}

// PlaceTrade opens a pending trade for the request.
func (s *Service) PlaceTrade(ctx context.Context, req PlaceRequest) (*models.Trade, error) {
	trade, err := s.place(ctx, req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			PlacementsRejected.WithLabelValues(verr.Field).Inc()
			s.logger.Info("placement-rejected",
				zap.String("user-id", req.UserID),
				zap.String("field", verr.Field),
				zap.String("reason", verr.Reason))
		}
		return nil, err
	}

	TradesPlaced.WithLabelValues(trade.Pair, string(trade.Direction)).Inc()
	s.logger.Info("trade-placed",
		zap.String("trade-id", trade.ID),
		zap.String("user-id", trade.UserID),
		zap.String("pair", trade.Pair),
		zap.String("direction", string(trade.Direction)),
		zap.String("stake", trade.Stake.String()),
		zap.String("entry-price", trade.EntryPrice.String()),
		zap.Time("expires-at", trade.ExpiresAt))
	return trade, nil
}

func (s *Service) place(ctx context.Context, req PlaceRequest) (*models.Trade, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	entry, err := s.prices.Price(ctx, req.Pair)
	if err != nil {
		return nil, fmt.Errorf("get entry price for %s: %w", req.Pair, err)
	}
	if !entry.IsPositive() {
		return nil, fmt.Errorf("price feed returned non-positive price %s for %s", entry, req.Pair)
	}

	start := s.now().UTC()
	duration := int(s.platform.TradeDurationOrDefault() / time.Second)
	trade := &models.Trade{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Pair:            req.Pair,
		Direction:       req.Direction,
		Stake:           req.Stake,
		EntryPrice:      entry,
		Status:          models.StatusPending,
		DurationSeconds: duration,
		TimerStartedAt:  start,
		ExpiresAt:       start.Add(time.Duration(duration) * time.Second),
		ForcedOutcome:   models.OutcomeAutomatic,
		CreatedAt:       start,
	}

	err = s.store.PlaceTrade(ctx, trade)
	switch {
	case err == nil:
		return trade, nil
	case errors.Is(err, ledger.ErrWalletNotFound):
		return nil, invalid("user_id", "no wallet for user %q", req.UserID)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return nil, invalid("stake", "insufficient balance for stake %s", req.Stake)
	case errors.Is(err, ledger.ErrPendingTradeExists):
		return nil, invalid("user_id", "a trade is already pending")
	default:
		return nil, fmt.Errorf("place trade: %w", err)
	}
}

func (s *Service) validate(ctx context.Context, req PlaceRequest) error {
	if !s.platform.TradingEnabled {
		return invalid("trading", "trading is disabled")
	}
	if req.UserID == "" {
		return invalid("user_id", "must not be empty")
	}
	if !req.Direction.Valid() {
		return invalid("direction", "must be %q or %q, got %q", models.DirectionLong, models.DirectionShort, req.Direction)
	}
	if !req.Stake.IsPositive() {
		return invalid("stake", "must be positive, got %s", req.Stake)
	}
	if minStake := decimal.NewFromFloat(s.platform.MinStake); req.Stake.LessThan(minStake) {
		return invalid("stake", "must be at least %s", minStake)
	}
	if s.platform.MaxStake > 0 {
		if maxStake := decimal.NewFromFloat(s.platform.MaxStake); req.Stake.GreaterThan(maxStake) {
			return invalid("stake", "must be at most %s", maxStake)
		}
	}

	enabled, err := s.store.PairEnabled(ctx, req.Pair)
	if err != nil {
		return err
	}
	if !enabled {
		return invalid("pair", "%q is not tradable", req.Pair)
	}
	return nil
}
