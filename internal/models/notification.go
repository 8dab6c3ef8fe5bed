package models

import "time"

// NotificationKind describes what happened to the trade.
type NotificationKind string

const (
	NotifyTradeWon       NotificationKind = "trade_won"
	NotifyTradeLost      NotificationKind = "trade_lost"
	NotifyTradeCancelled NotificationKind = "trade_cancelled"
)

// Notification is an outcome message produced once per settled trade.
type Notification struct {
	ID          string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string           `gorm:"index;not null" json:"user_id"`
	TradeID     string           `gorm:"uniqueIndex;not null" json:"trade_id"`
	Kind        NotificationKind `gorm:"type:varchar(32);not null" json:"kind"`
	Title       string           `gorm:"not null" json:"title"`
	Message     string           `gorm:"not null" json:"message"`
	DeliveredAt *time.Time       `gorm:"index" json:"delivered_at"`
	CreatedAt   time.Time        `json:"created_at"`
}
