package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExposureWouldExceed(t *testing.T) {
	capital := NewCapitalLedger(dec("100"))
	tr := NewExposureTracker(capital, ExposureLimits{SymbolPct: 0.15, CategoryPct: 0.35})

	assert.False(t, tr.WouldExceed("BTCUSDT", "major", dec("15")))
	assert.True(t, tr.WouldExceed("BTCUSDT", "major", dec("15.01")))

	tr.Increment("BTCUSDT", "major", dec("10"))
	assert.True(t, tr.WouldExceed("BTCUSDT", "major", dec("5.5")))
	assert.False(t, tr.WouldExceed("ETHUSDT", "major", dec("15")))

	tr.Increment("ETHUSDT", "major", dec("15"))
	// Category at 25; 10 more would hit exactly 35.
	assert.False(t, tr.WouldExceed("XRPUSDT", "major", dec("10")))
	assert.True(t, tr.WouldExceed("XRPUSDT", "major", dec("10.5")))
	assert.False(t, tr.WouldExceed("SOLUSDT", "alt", dec("10.5")))
}

func TestExposureHoldsCountTowardLimits(t *testing.T) {
	capital := NewCapitalLedger(dec("100"))
	tr := NewExposureTracker(capital, ExposureLimits{SymbolPct: 0.15, CategoryPct: 0.35})

	tr.Hold("BTCUSDT", "major", dec("10"))
	assert.True(t, tr.WouldExceed("BTCUSDT", "major", dec("6")))
	assert.True(t, tr.Symbol("BTCUSDT").IsZero())

	tr.Commit("BTCUSDT", "major", dec("10"))
	assert.True(t, tr.Symbol("BTCUSDT").Equal(dec("10")))
	assert.True(t, tr.Category("major").Equal(dec("10")))
	assert.Empty(t, tr.Snapshot().Held)

	tr.Hold("ETHUSDT", "major", dec("3"))
	tr.DropHold("ETHUSDT", "major", dec("3"))
	assert.Empty(t, tr.Snapshot().Held)
	assert.True(t, tr.Category("major").Equal(dec("10")))
}

func TestExposureDecrementClampsAndMovesTogether(t *testing.T) {
	capital := NewCapitalLedger(dec("100"))
	tr := NewExposureTracker(capital, ExposureLimits{SymbolPct: 0.15, CategoryPct: 0.35})

	tr.Increment("BTCUSDT", "major", dec("4"))
	tr.Increment("ETHUSDT", "major", dec("6"))
	tr.Decrement("BTCUSDT", "major", dec("5"))

	snap := tr.Snapshot()
	_, ok := snap.Symbols["BTCUSDT"]
	assert.False(t, ok)
	assert.True(t, snap.Categories["major"].Equal(dec("5")))
	assert.True(t, snap.Symbols["ETHUSDT"].Equal(dec("6")))
}

func TestExposureZeroEquityAlwaysExceeds(t *testing.T) {
	capital := NewCapitalLedger(dec("0"))
	tr := NewExposureTracker(capital, ExposureLimits{SymbolPct: 1, CategoryPct: 1})
	assert.True(t, tr.WouldExceed("BTCUSDT", "major", dec("0.01")))
}
