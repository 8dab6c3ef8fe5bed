package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trade-settlement-engine/internal/models"
)

var (
	ErrTradeNotFound       = errors.New("trade not found")
	ErrTradeNotPending     = errors.New("trade is not pending")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists")
	ErrPendingTradeExists  = errors.New("user already has a pending trade")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateSettlement = errors.New("trade already has a ledger entry")
)

// Store is the durable record of trades, wallets, transactions, notifications
// and operator audit entries.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a new Store over an open database.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("ledger")}
}

// WithinTransaction runs fn against a Store bound to a single database transaction.
// Any error returned by fn rolls the whole unit back.
func (s *Store) WithinTransaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	})
}

// GetTrade loads a trade by id.
func (s *Store) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).First(&trade, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return &trade, nil
}

// ListTrades returns a user's trades, most recent first.
func (s *Store) ListTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("list trades for %s: %w", userID, err)
	}
	return trades, nil
}

// ListExpiredPending returns pending trades whose deadline is at or before cutoff.
func (s *Store) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	q := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.StatusPending, cutoff.UTC()).
		Order("expires_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("list expired pending trades: %w", err)
	}
	return trades, nil
}

// HasPendingTrade reports whether the user has a trade still awaiting settlement.
func (s *Store) HasPendingTrade(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("user_id = ? AND status = ?", userID, models.StatusPending).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count pending trades for %s: %w", userID, err)
	}
	return count > 0, nil
}

// PlaceTrade locks the stake on the owner's wallet and persists the pending trade.
// The locked amount is overwritten with the stake, not added to it.
func (s *Store) PlaceTrade(ctx context.Context, trade *models.Trade) error {
	return s.WithinTransaction(ctx, func(tx *Store) error {
		wallet, err := tx.GetWallet(ctx, trade.UserID)
		if err != nil {
			return err
		}

		pending, err := tx.HasPendingTrade(ctx, trade.UserID)
		if err != nil {
			return err
		}
		if pending {
			return ErrPendingTradeExists
		}

		if wallet.Balance.LessThan(trade.Stake) {
			return ErrInsufficientBalance
		}

		err = tx.db.WithContext(ctx).Model(&models.WalletAccount{}).
			Where("user_id = ?", trade.UserID).
			Updates(map[string]interface{}{
				"locked_amount": trade.Stake,
				"updated_at":    trade.TimerStartedAt,
			}).Error
		if err != nil {
			return fmt.Errorf("lock stake for %s: %w", trade.UserID, err)
		}

		if err := tx.db.WithContext(ctx).Create(trade).Error; err != nil {
			return fmt.Errorf("create trade: %w", err)
		}
		return nil
	})
}

// SetForcedOutcome records an operator outcome on a pending trade.
func (s *Store) SetForcedOutcome(ctx context.Context, id string, outcome models.ForcedOutcome) error {
	res := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Update("forced_outcome", outcome)
	if res.Error != nil {
		return fmt.Errorf("set forced outcome on %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetTrade(ctx, id); err != nil {
			return err
		}
		return ErrTradeNotPending
	}
	return nil
}

// ClaimUpdate carries the settlement fields written by a successful claim.
type ClaimUpdate struct {
	Status     models.TradeStatus
	ExitPrice  *decimal.Decimal
	ProfitLoss decimal.Decimal
	ClosedAt   time.Time
	SettledBy  models.SettledBy
}

// ClaimTrade moves a trade out of pending in one conditional update keyed on
// id and current status. It reports false when another caller already claimed it.
func (s *Store) ClaimTrade(ctx context.Context, id string, upd ClaimUpdate) (bool, error) {
	if !models.StatusPending.CanTransitionTo(upd.Status) {
		return false, fmt.Errorf("claim trade %s: illegal target status %q", id, upd.Status)
	}

	res := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":      upd.Status,
			"exit_price":  upd.ExitPrice,
			"profit_loss": upd.ProfitLoss,
			"closed_at":   upd.ClosedAt,
			"settled_by":  upd.SettledBy,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim trade %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetWallet loads a user's wallet.
func (s *Store) GetWallet(ctx context.Context, userID string) (*models.WalletAccount, error) {
	var wallet models.WalletAccount
	err := s.db.WithContext(ctx).First(&wallet, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", userID, err)
	}
	return &wallet, nil
}

// CreateWallet opens a wallet with an initial balance.
func (s *Store) CreateWallet(ctx context.Context, userID string, balance decimal.Decimal) (*models.WalletAccount, error) {
	wallet := &models.WalletAccount{UserID: userID, Balance: balance, LockedAmount: decimal.Zero}
	err := s.db.WithContext(ctx).Create(wallet).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrWalletExists
	}
	if err != nil {
		return nil, fmt.Errorf("create wallet %s: %w", userID, err)
	}
	return wallet, nil
}

// SettleWallet sets the balance and releases the locked stake.
func (s *Store) SettleWallet(ctx context.Context, userID string, balance decimal.Decimal, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.WalletAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":       balance,
			"locked_amount": decimal.Zero,
			"updated_at":    at,
		})
	if res.Error != nil {
		return fmt.Errorf("settle wallet %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// AppendTransaction writes the ledger row for a trade.
func (s *Store) AppendTransaction(ctx context.Context, txn *models.Transaction) error {
	err := s.db.WithContext(ctx).Create(txn).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateSettlement
	}
	if err != nil {
		return fmt.Errorf("append transaction for trade %s: %w", txn.TradeID, err)
	}
	return nil
}

// GetTransactionByTrade loads the ledger row produced by a trade.
func (s *Store) GetTransactionByTrade(ctx context.Context, tradeID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.WithContext(ctx).First(&txn, "trade_id = ?", tradeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction for trade %s: %w", tradeID, err)
	}
	return &txn, nil
}

// ListTransactions returns a user's ledger rows, most recent first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", userID, err)
	}
	return txns, nil
}

// CountTransactionsByTrade counts the ledger rows written for a trade. A settled trade has exactly one.
func (s *Store) CountTransactionsByTrade(ctx context.Context, tradeID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("trade_id = ?", tradeID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count transactions for trade %s: %w", tradeID, err)
	}
	return count, nil
}

// AppendNotification writes the outcome message for a trade.
func (s *Store) AppendNotification(ctx context.Context, n *models.Notification) error {
	err := s.db.WithContext(ctx).Create(n).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateSettlement
	}
	if err != nil {
		return fmt.Errorf("append notification for trade %s: %w", n.TradeID, err)
	}
	return nil
}

// ListNotifications returns a user's notifications, most recent first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var out []models.Notification
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", userID, err)
	}
	return out, nil
}

// ListUndelivered returns notifications not yet handed to a delivery sink, oldest first.
func (s *Store) ListUndelivered(ctx context.Context, limit int) ([]models.Notification, error) {
	var out []models.Notification
	q := s.db.WithContext(ctx).Where("delivered_at IS NULL").Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list undelivered notifications: %w", err)
	}
	return out, nil
}

// MarkDelivered stamps a notification as delivered.
func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at).Error
	if err != nil {
		return fmt.Errorf("mark notification %s delivered: %w", id, err)
	}
	return nil
}

// AppendAudit records an operator command.
func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append audit entry for trade %s: %w", entry.TradeID, err)
	}
	return nil
}

// ListAudit returns audit entries for a trade, oldest first. An empty tradeID lists all.
func (s *Store) ListAudit(ctx context.Context, tradeID string, limit int) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	q := s.db.WithContext(ctx).Order("id asc")
	if tradeID != "" {
		q = q.Where("trade_id = ?", tradeID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return out, nil
}

// PairEnabled reports whether a symbol is in the catalogue and enabled.
func (s *Store) PairEnabled(ctx context.Context, symbol string) (bool, error) {
	var pair models.Pair
	err := s.db.WithContext(ctx).First(&pair, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get pair %s: %w", symbol, err)
	}
	return pair.Enabled, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
