package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletAccount holds a user's spendable balance and the stake locked by an open trade.
// LockedAmount is a single scalar, so a user has at most one pending trade at a time.
type WalletAccount struct {
	UserID       string          `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance"`
	LockedAmount decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"locked_amount"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Available is the balance not reserved by a pending trade.
func (w *WalletAccount) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedAmount)
}
