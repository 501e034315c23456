package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

var testPolicy = ExitPolicy{
	MaxPositionTime:        time.Hour,
	SignalDropThreshold:    0.20,
	ProfitTargetMultiplier: 1,
	TrailingActivation:     1.25,
	TrailingLockFraction:   0.5,
}

func testPosition(side domain.Side) domain.Position {
	return domain.Position{
		ID:                 "p1",
		Symbol:             "BTCUSDT",
		Side:               side,
		EntryPrice:         100,
		SizeUSD:            dec("100"),
		ExpectedProfit:     dec("10"),
		EntryConsciousness: 0.8,
		OpenTime:           time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func input(price, consc float64, age time.Duration) ExitInput {
	return ExitInput{
		Price:                price,
		CurrentConsciousness: consc,
		ScoreKnown:           true,
		Now:                  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC).Add(age),
	}
}

func TestExitPriorityOrder(t *testing.T) {
	pos := testPosition(domain.SideLong)

	// Expired, dropped and on target: time wins.
	reason, ok := testPolicy.Evaluate(&pos, input(150, 0.1, 2*time.Hour))
	assert.True(t, ok)
	assert.Equal(t, domain.CloseTimeExpired, reason)

	// Dropped and on target: signal drop wins.
	pos = testPosition(domain.SideLong)
	reason, ok = testPolicy.Evaluate(&pos, input(111, 0.55, time.Minute))
	assert.True(t, ok)
	assert.Equal(t, domain.CloseSignalDrop, reason)

	// A drop within the threshold keeps the position.
	pos = testPosition(domain.SideLong)
	_, ok = testPolicy.Evaluate(&pos, input(101, 0.65, time.Minute))
	assert.False(t, ok)
}

func TestExitSkipsDropWhenScoreUnknown(t *testing.T) {
	pos := testPosition(domain.SideLong)
	in := input(101, 0, time.Minute)
	in.ScoreKnown = false
	_, ok := testPolicy.Evaluate(&pos, in)
	assert.False(t, ok)
}

func TestExitProfitTarget(t *testing.T) {
	pos := testPosition(domain.SideLong)
	_, ok := testPolicy.Evaluate(&pos, input(109, 0.8, time.Minute))
	assert.False(t, ok)

	reason, ok := testPolicy.Evaluate(&pos, input(110.5, 0.8, time.Minute))
	assert.True(t, ok)
	assert.Equal(t, domain.CloseProfitTarget, reason)
	assert.False(t, pos.Trailing.Active)
}

func TestExitShortProfitIsSigned(t *testing.T) {
	pos := testPosition(domain.SideShort)
	_, ok := testPolicy.Evaluate(&pos, input(111, 0.8, time.Minute))
	assert.False(t, ok, "a rising price is a loss for a short")

	reason, ok := testPolicy.Evaluate(&pos, input(89, 0.8, time.Minute))
	assert.True(t, ok)
	assert.Equal(t, domain.CloseProfitTarget, reason)
}

func TestExitTrailingLocksHalfOfPeak(t *testing.T) {
	pos := testPosition(domain.SideLong)

	// Profit jumps to 13, beyond 1.25 x 10: trail instead of taking 10.
	_, ok := testPolicy.Evaluate(&pos, input(113, 0.8, time.Minute))
	assert.False(t, ok)
	assert.True(t, pos.Trailing.Active)
	assert.InDelta(t, 13, pos.Trailing.PeakProfit, 1e-9)
	assert.InDelta(t, 6.5/100, pos.Trailing.AdjustedStopFraction, 1e-12)

	// Lower peak does not lower the lock.
	_, ok = testPolicy.Evaluate(&pos, input(108, 0.8, time.Minute))
	assert.False(t, ok)
	assert.InDelta(t, 0.065, pos.Trailing.AdjustedStopFraction, 1e-12)

	// New peak ratchets the lock up.
	_, ok = testPolicy.Evaluate(&pos, input(120, 0.8, time.Minute))
	assert.False(t, ok)
	assert.InDelta(t, 0.10, pos.Trailing.AdjustedStopFraction, 1e-12)

	// Giving back to the lock closes.
	reason, ok := testPolicy.Evaluate(&pos, input(110, 0.8, time.Minute))
	assert.True(t, ok)
	assert.Equal(t, domain.CloseProfitTarget, reason)
}
