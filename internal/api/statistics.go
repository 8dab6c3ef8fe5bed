package api

import (
	"time"

	"github.com/shopspring/decimal"

	"trade-settlement-engine/internal/models"
)

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades int64           `json:"total_trades"`
	WonTrades   int64           `json:"won_trades"`
	LostTrades  int64           `json:"lost_trades"`
	WinRate     float64         `json:"win_rate"`
	TotalProfit decimal.Decimal `json:"total_profit"`
}

// StatisticsResponse is the structure for the statistics endpoint.
type StatisticsResponse struct {
	Pending  int64       `json:"pending"`
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// ComputeStatistics aggregates won and lost trades. Cancelled trades count in neither.
func ComputeStatistics(trades []models.Trade, now time.Time) StatisticsResponse {
	since24h := now.Add(-24 * time.Hour)
	resp := StatisticsResponse{
		Since24h: StatsDetail{TotalProfit: decimal.Zero},
		AllTime:  StatsDetail{TotalProfit: decimal.Zero},
	}

	for _, trade := range trades {
		switch trade.Status {
		case models.StatusPending:
			resp.Pending++
			continue
		case models.StatusWon, models.StatusLost:
		default:
			continue
		}

		resp.AllTime.add(trade)
		if trade.ClosedAt != nil && trade.ClosedAt.After(since24h) {
			resp.Since24h.add(trade)
		}
	}

	resp.AllTime.finish()
	resp.Since24h.finish()
	return resp
}

func (s *StatsDetail) add(trade models.Trade) {
	s.TotalTrades++
	if trade.Status == models.StatusWon {
		s.WonTrades++
	} else {
		s.LostTrades++
	}
	if trade.ProfitLoss != nil {
		s.TotalProfit = s.TotalProfit.Add(*trade.ProfitLoss)
	}
}

func (s *StatsDetail) finish() {
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WonTrades) / float64(s.TotalTrades)
	}
}
