package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func TestRiskDrawdownTripsAndDayResets(t *testing.T) {
	c := newCore(t, "1000")

	pos := c.open(t, "BTCUSDT", "major", domain.SideLong, "200", 100)
	_, closed, err := c.ledger.Close(pos.ID, 40, domain.CloseManual, c.clock.Now())
	require.NoError(t, err)
	require.True(t, closed)

	st := c.risk.State()
	assert.True(t, st.Equity.Equal(dec("880")))
	assert.True(t, st.PeakEquity.Equal(dec("1000")))
	assert.True(t, st.TroughEquity.Equal(dec("880")))
	assert.InDelta(t, 0.12, st.Drawdown, 1e-12)
	assert.True(t, st.EmergencyStop)
	assert.True(t, c.risk.EmergencyStop())
	assert.True(t, c.risk.BlocksAdmission())
	assert.Equal(t, 1, c.events.count(domain.EventEmergencyStop))
	assert.GreaterOrEqual(t, c.events.count(domain.EventRiskUpdate), 1)

	// Same day: still stopped.
	c.clock.Advance(time.Hour)
	c.risk.Observe(context.Background())
	assert.True(t, c.risk.EmergencyStop())

	// Next UTC day: cleared and rebased at current equity.
	c.clock.Advance(24 * time.Hour)
	c.risk.Observe(context.Background())
	st = c.risk.State()
	assert.False(t, st.EmergencyStop)
	assert.False(t, c.risk.EmergencyStop())
	assert.True(t, st.PeakEquity.Equal(dec("880")))
	assert.True(t, st.TroughEquity.Equal(dec("880")))
	assert.True(t, st.StartEquity.Equal(dec("880")))
	assert.True(t, st.DailyPnL.IsZero())
}

func TestRiskBelowLimitDoesNotTrip(t *testing.T) {
	c := newCore(t, "1000")

	pos := c.open(t, "BTCUSDT", "major", domain.SideLong, "100", 100)
	_, _, err := c.ledger.Close(pos.ID, 10.5, domain.CloseManual, c.clock.Now())
	require.NoError(t, err)

	st := c.risk.State()
	assert.InDelta(t, 0.0895, st.Drawdown, 1e-12)
	assert.False(t, st.EmergencyStop)
	assert.True(t, st.DailyPnL.Equal(dec("-89.5")))
}

func TestRiskManualReset(t *testing.T) {
	c := newCore(t, "1000")
	require.NoError(t, c.capital.Reserve(dec("500")))
	require.NoError(t, c.capital.Release(dec("500"), dec("-150")))
	c.risk.RecordClose(dec("-150"))
	require.True(t, c.risk.EmergencyStop())

	c.risk.ManualReset(context.Background())
	st := c.risk.State()
	assert.False(t, st.EmergencyStop)
	assert.True(t, st.PeakEquity.Equal(dec("850")))
}

func TestRiskSoftStopReportsButDoesNotBlock(t *testing.T) {
	capital := NewCapitalLedger(dec("100"))
	events := &eventRecorder{}
	g := NewRiskGovernor(capital, RiskConfig{MaxDailyDrawdown: 0.05, HardStop: false}, events, discardLogger())

	require.NoError(t, capital.Reserve(dec("10")))
	require.NoError(t, capital.Release(dec("10"), dec("-6")))
	g.RecordClose(dec("-6"))

	assert.True(t, g.EmergencyStop())
	assert.False(t, g.BlocksAdmission())
	assert.Equal(t, 1, events.count(domain.EventEmergencyStop))
}

func TestRiskPeakTracksGains(t *testing.T) {
	c := newCore(t, "1000")
	require.NoError(t, c.capital.Reserve(dec("100")))
	require.NoError(t, c.capital.Release(dec("100"), dec("100")))
	c.risk.RecordClose(dec("100"))

	require.NoError(t, c.capital.Reserve(dec("100")))
	require.NoError(t, c.capital.Release(dec("100"), dec("-100")))
	c.risk.RecordClose(dec("-100"))

	st := c.risk.State()
	assert.True(t, st.PeakEquity.Equal(dec("1100")))
	assert.InDelta(t, 100.0/1100.0, st.Drawdown, 1e-9)
	assert.False(t, st.EmergencyStop)
}
