package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies ledger rows.
type TransactionKind string

const (
	KindTradeSettlement   TransactionKind = "trade_settlement"
	KindTradeCancellation TransactionKind = "trade_cancellation"
)

// Transaction is an immutable ledger row. There is at most one per trade.
type Transaction struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string          `gorm:"index;not null" json:"user_id"`
	TradeID       string          `gorm:"uniqueIndex;not null" json:"trade_id"`
	Kind          TransactionKind `gorm:"type:varchar(32);not null" json:"kind"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}
