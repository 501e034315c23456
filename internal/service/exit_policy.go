package service

import (
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// ExitPolicy decides when an active position should close.
type ExitPolicy struct {
	MaxPositionTime        time.Duration
	SignalDropThreshold    float64
	ProfitTargetMultiplier float64
	TrailingActivation     float64
	TrailingLockFraction   float64
}

// ExitInput is what the monitor knows about a position on one tick.
type ExitInput struct {
	Price                float64
	CurrentConsciousness float64
	// ScoreKnown is false when the oracle could not rescore the symbol; the
	// signal-drop check is skipped in that case.
	ScoreKnown bool
	Now        time.Time
}

// Evaluate checks the exit conditions in priority order and updates the
// trailing state of pos in place. It returns the close reason and whether
// the position should close.
func (p ExitPolicy) Evaluate(pos *domain.Position, in ExitInput) (domain.CloseReason, bool) {
	if in.Now.Sub(pos.OpenTime) > p.MaxPositionTime {
		return domain.CloseTimeExpired, true
	}

	if in.ScoreKnown && pos.EntryConsciousness-in.CurrentConsciousness > p.SignalDropThreshold {
		return domain.CloseSignalDrop, true
	}

	if in.Price <= 0 {
		return "", false
	}

	profit := pos.UnrealizedPnL(in.Price).InexactFloat64()
	target := pos.ExpectedProfit.InexactFloat64() * p.ProfitTargetMultiplier
	size := pos.SizeUSD.InexactFloat64()

	tr := &pos.Trailing
	if profit > tr.PeakProfit {
		tr.PeakProfit = profit
	}
	if target > 0 && tr.PeakProfit > target*p.TrailingActivation && size > 0 {
		lock := tr.PeakProfit * p.TrailingLockFraction / size
		if lock > tr.AdjustedStopFraction {
			tr.AdjustedStopFraction = lock
		}
		tr.Active = true
	}

	if tr.Active {
		// Target has been raised to the locked-in amount; exit on giveback.
		if profit <= tr.AdjustedStopFraction*size {
			return domain.CloseProfitTarget, true
		}
		return "", false
	}

	if target > 0 && profit >= target {
		return domain.CloseProfitTarget, true
	}
	return "", false
}
