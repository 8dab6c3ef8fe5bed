package models

import "time"

// AuditAction is an operator command kind.
type AuditAction string

const (
	AuditSetExpectedOutcome AuditAction = "set_expected_outcome"
	AuditForceSettle        AuditAction = "force_settle"
	AuditCancel             AuditAction = "cancel"
)

// AuditEntry is an append-only record of an operator command.
type AuditEntry struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	Actor     string        `gorm:"index;not null" json:"actor"`
	Action    AuditAction   `gorm:"type:varchar(32);not null" json:"action"`
	TradeID   string        `gorm:"index;not null" json:"trade_id"`
	Outcome   ForcedOutcome `gorm:"type:varchar(16)" json:"outcome,omitempty"`
	Detail    string        `gorm:"type:text" json:"detail"` // JSON
	CreatedAt time.Time     `json:"created_at"`
}
