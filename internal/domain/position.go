package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the side that closes a position on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// PositionStatus tracks the position lifecycle. CLOSING is held only while a
// close order is in flight.
type PositionStatus string

const (
	PositionStatusActive  PositionStatus = "ACTIVE"
	PositionStatusClosing PositionStatus = "CLOSING"
	PositionStatusClosed  PositionStatus = "CLOSED"
)

// CloseReason records why a position left the active set.
type CloseReason string

const (
	CloseTimeExpired  CloseReason = "TIME_EXPIRED"
	CloseSignalDrop   CloseReason = "SIGNAL_DROP"
	CloseProfitTarget CloseReason = "PROFIT_TARGET"
	CloseManual       CloseReason = "MANUAL"
	CloseSystemStop   CloseReason = "SYSTEM_STOP"
)

// Trailing is the mutable trailing-stop state of an active position.
type Trailing struct {
	PeakProfit           float64 `json:"peak_profit"`
	AdjustedStopFraction float64 `json:"adjusted_stop_fraction"`
	Active               bool    `json:"active"`
}

// Position is an exchange position owned by the position ledger.
type Position struct {
	ID                 string          `json:"id"`
	Symbol             string          `json:"symbol"`
	Side               Side            `json:"side"`
	Category           string          `json:"category"`
	OrderID            string          `json:"order_id"`
	Quantity           string          `json:"quantity"`
	EntryPrice         float64         `json:"entry_price"`
	SizeUSD            decimal.Decimal `json:"size_usd"`
	BaitAmount         decimal.Decimal `json:"bait_amount"`
	ExpectedProfit     decimal.Decimal `json:"expected_profit"`
	EntryConsciousness float64         `json:"entry_consciousness"`
	EntryConfidence    float64         `json:"entry_confidence"`
	OpenTime           time.Time       `json:"open_time"`
	Status             PositionStatus  `json:"status"`
	Trailing           Trailing        `json:"trailing"`
	CloseReason        CloseReason     `json:"close_reason,omitempty"`
	ClosePrice         float64         `json:"close_price,omitempty"`
	CloseTime          *time.Time      `json:"close_time,omitempty"`
	RealizedPnL        decimal.Decimal `json:"realized_pnl"`
}

// UnrealizedPnL returns the mark-to-market profit at price, signed by side.
func (p Position) UnrealizedPnL(price float64) decimal.Decimal {
	return PnL(p.Side, p.SizeUSD, p.EntryPrice, price)
}

// PnL computes size × signed price change / entry.
func PnL(side Side, size decimal.Decimal, entry, exit float64) decimal.Decimal {
	if entry <= 0 {
		return decimal.Zero
	}
	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == SideShort {
		move = move.Neg()
	}
	return size.Mul(move).Div(decimal.NewFromFloat(entry)).Round(8)
}

// Record builds the history entry of a closed position.
func (p Position) Record() ExecutionRecord {
	rec := ExecutionRecord{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Category:    p.Category,
		EntryPrice:  p.EntryPrice,
		ClosePrice:  p.ClosePrice,
		SizeUSD:     p.SizeUSD,
		RealizedPnL: p.RealizedPnL,
		Reason:      p.CloseReason,
		OpenTime:    p.OpenTime,
	}
	if p.CloseTime != nil {
		rec.CloseTime = *p.CloseTime
	}
	return rec
}

// ExecutionRecord is the immutable history entry written when a position
// closes.
type ExecutionRecord struct {
	PositionID  string          `json:"position_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Category    string          `json:"category"`
	EntryPrice  float64         `json:"entry_price"`
	ClosePrice  float64         `json:"close_price"`
	SizeUSD     decimal.Decimal `json:"size_usd"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Reason      CloseReason     `json:"reason"`
	OpenTime    time.Time       `json:"open_time"`
	CloseTime   time.Time       `json:"close_time"`
}

// Won reports whether the trade closed with a positive result.
func (r ExecutionRecord) Won() bool {
	return r.RealizedPnL.IsPositive()
}
