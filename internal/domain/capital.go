package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CapitalSnapshot is a point-in-time copy of the capital ledger.
type CapitalSnapshot struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Profit    decimal.Decimal `json:"profit"`
	Realized  decimal.Decimal `json:"realized"`
}

// Balanced reports whether available + reserved + profit == total.
func (s CapitalSnapshot) Balanced() bool {
	return s.Available.Add(s.Reserved).Add(s.Profit).Equal(s.Total)
}

// RiskState is the risk governor's daily watermark state.
type RiskState struct {
	StartEquity   decimal.Decimal `json:"start_equity"`
	PeakEquity    decimal.Decimal `json:"peak_equity"`
	TroughEquity  decimal.Decimal `json:"trough_equity"`
	Equity        decimal.Decimal `json:"equity"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	Drawdown      float64         `json:"drawdown"`
	LastResetDate string          `json:"last_reset_date"`
	EmergencyStop bool            `json:"emergency_stop"`
	StoppedAt     *time.Time      `json:"stopped_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TradeStats summarises closed trades for sizing calibration.
type TradeStats struct {
	Wins    int
	Losses  int
	AvgWin  float64
	AvgLoss float64
}

// WinRate returns the observed win rate, or 0 with no trades.
func (s TradeStats) WinRate() float64 {
	n := s.Wins + s.Losses
	if n == 0 {
		return 0
	}
	return float64(s.Wins) / float64(n)
}
