package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade.
// Only pending has outgoing transitions; every other state is terminal.
type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusWon       TradeStatus = "won"
	StatusLost      TradeStatus = "lost"
	StatusCancelled TradeStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s TradeStatus) IsTerminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusCancelled
}

// CanTransitionTo reports whether s -> next is a legal lifecycle edge.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	return s == StatusPending && next.IsTerminal()
}

// Direction is the side of the price bet.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// ForcedOutcome is the operator command recorded on a trade.
// Automatic leaves the decision to the platform win rate.
type ForcedOutcome string

const (
	OutcomeAutomatic  ForcedOutcome = "automatic"
	OutcomeForcedWin  ForcedOutcome = "forced_win"
	OutcomeForcedLoss ForcedOutcome = "forced_loss"
)

// Valid reports whether o is a known variant.
func (o ForcedOutcome) Valid() bool {
	switch o {
	case OutcomeAutomatic, OutcomeForcedWin, OutcomeForcedLoss:
		return true
	}
	return false
}

// IsForced reports whether an operator has pinned the result.
func (o ForcedOutcome) IsForced() bool {
	return o == OutcomeForcedWin || o == OutcomeForcedLoss
}

// SettledBy names the resolution trigger that won the claim.
type SettledBy string

const (
	SettledByCountdown SettledBy = "countdown"
	SettledByRemote    SettledBy = "remote"
	SettledBySweep     SettledBy = "sweep"
	SettledByAdmin     SettledBy = "admin"
)

// Trade is a timed binary price-direction bet.
type Trade struct {
	ID              string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID          string           `gorm:"index;not null" json:"user_id"`
	Pair            string           `gorm:"not null" json:"pair"`
	Direction       Direction        `gorm:"type:varchar(8);not null" json:"direction"`
	Stake           decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"stake"`
	EntryPrice      decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	ExitPrice       *decimal.Decimal `gorm:"type:decimal(20,8)" json:"exit_price"`
	Status          TradeStatus      `gorm:"type:varchar(16);index;not null" json:"status"`
	DurationSeconds int              `gorm:"not null" json:"duration_seconds"`
	TimerStartedAt  time.Time        `gorm:"not null" json:"timer_started_at"`
	ExpiresAt       time.Time        `gorm:"index;not null" json:"expires_at"`
	ForcedOutcome   ForcedOutcome    `gorm:"type:varchar(16);not null;default:automatic" json:"forced_outcome"`
	ProfitLoss      *decimal.Decimal `gorm:"type:decimal(20,8)" json:"profit_loss"`
	SettledBy       SettledBy        `gorm:"type:varchar(16)" json:"settled_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ClosedAt        *time.Time       `json:"closed_at"`
}

// Deadline is the instant the trade becomes eligible for settlement,
// derived from the persisted timer start so reconnects never reset it.
func (t *Trade) Deadline() time.Time {
	return t.TimerStartedAt.Add(time.Duration(t.DurationSeconds) * time.Second)
}

// Expired reports whether the persisted timer has run out at now.
func (t *Trade) Expired(now time.Time) bool {
	return !now.Before(t.Deadline())
}
