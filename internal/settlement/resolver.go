package settlement

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/models"
)

// RandSource yields uniform values in [0,1).
type RandSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRandSource draws from the process-wide generator, which is safe for concurrent use.
func DefaultRandSource() RandSource { return globalRand{} }

// FixedRand always returns the same draw. Handy in tests and demos.
type FixedRand float64

func (f FixedRand) Float64() float64 { return float64(f) }

var (
	hundred  = decimal.NewFromInt(100)
	upMove   = decimal.RequireFromString("1.01")
	downMove = decimal.RequireFromString("0.99")
)

// Decision is the outcome the resolver picked for one trade.
type Decision struct {
	Status     models.TradeStatus
	ProfitLoss decimal.Decimal
	ExitPrice  decimal.Decimal
	Forced     bool
	Draw       float64 // in [0,100); zero when forced
}

// Resolver decides won/lost for a trade. It reads only its inputs and never
// touches the ledger, so calling it repeatedly for one trade is harmless.
type Resolver struct {
	rng RandSource
}

// NewResolver creates a Resolver. A nil source falls back to DefaultRandSource.
func NewResolver(rng RandSource) *Resolver {
	if rng == nil {
		rng = DefaultRandSource()
	}
	return &Resolver{rng: rng}
}

// Resolve picks the outcome of trade under platform.
func (r *Resolver) Resolve(trade models.Trade, platform config.Platform) Decision {
	var (
		won  bool
		draw float64
	)
	switch trade.ForcedOutcome {
	case models.OutcomeForcedWin:
		won = true
	case models.OutcomeForcedLoss:
		won = false
	default:
		draw = r.rng.Float64() * 100
		won = draw < platform.WinRate
	}

	return Decide(trade, platform, won, trade.ForcedOutcome.IsForced(), draw)
}

// Decide builds the decision for a known won/lost result.
func Decide(trade models.Trade, platform config.Platform, won, forced bool, draw float64) Decision {
	d := Decision{Forced: forced, Draw: draw}
	if won {
		d.Status = models.StatusWon
		d.ProfitLoss = trade.Stake.Mul(decimal.NewFromFloat(platform.ProfitPercentage)).Div(hundred).Round(8)
	} else {
		d.Status = models.StatusLost
		d.ProfitLoss = trade.Stake.Mul(decimal.NewFromFloat(platform.LossPercentage)).Div(hundred).Round(8).Neg()
	}
	d.ExitPrice = exitPrice(trade, won)
	return d
}

// exitPrice moves the entry price one percent in the direction that matches the result.
// A long wins on a rise; a short wins on a fall.
func exitPrice(trade models.Trade, won bool) decimal.Decimal {
	rises := won == (trade.Direction != models.DirectionShort)
	if rises {
		return trade.EntryPrice.Mul(upMove).Round(8)
	}
	return trade.EntryPrice.Mul(downMove).Round(8)
}
