package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func TestLedgerClaimIsExclusive(t *testing.T) {
	c := newCore(t, "100")

	require.NoError(t, c.ledger.Claim("BTCUSDT"))
	assert.True(t, c.ledger.Held("BTCUSDT"))
	assert.Equal(t, 1, c.ledger.Count())

	err := c.ledger.Claim("BTCUSDT")
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	c.ledger.Unclaim("BTCUSDT")
	assert.False(t, c.ledger.Held("BTCUSDT"))
	assert.Equal(t, 0, c.ledger.Count())
}

func TestLedgerOpenCloseRestoresBalances(t *testing.T) {
	c := newCore(t, "100")
	before := c.capital.Snapshot()

	pos := c.open(t, "BTCUSDT", "major", domain.SideLong, "10", 100)
	assert.Equal(t, 1, c.ledger.Count())
	got, ok := c.ledger.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusActive, got.Status)

	rec, closed, err := c.ledger.Close(pos.ID, 110, domain.CloseProfitTarget, c.clock.Now())
	require.NoError(t, err)
	require.True(t, closed)
	assert.True(t, rec.RealizedPnL.Equal(dec("1")))
	assert.Equal(t, domain.CloseProfitTarget, rec.Reason)

	after := c.capital.Snapshot()
	assert.True(t, after.Total.Equal(before.Total.Add(dec("1"))))
	assert.True(t, after.Reserved.IsZero())
	assert.True(t, after.Balanced())
	assert.True(t, c.exposure.Symbol("BTCUSDT").IsZero())
	assert.True(t, c.exposure.Category("major").IsZero())
	assert.False(t, c.ledger.Held("BTCUSDT"))
	assert.Len(t, c.ledger.History(0), 1)
	assert.Equal(t, 1, c.events.count(domain.EventPositionOpened))
	assert.Equal(t, 1, c.events.count(domain.EventPositionClosed))
}

func TestLedgerCloseIsIdempotent(t *testing.T) {
	c := newCore(t, "100")
	pos := c.open(t, "ETHUSDT", "major", domain.SideShort, "10", 100)

	_, closed, err := c.ledger.Close(pos.ID, 95, domain.CloseManual, c.clock.Now())
	require.NoError(t, err)
	require.True(t, closed)
	snap := c.capital.Snapshot()

	_, closed, err = c.ledger.Close(pos.ID, 50, domain.CloseManual, c.clock.Now())
	require.NoError(t, err)
	assert.False(t, closed)
	assertSnapshotEqual(t, snap, c.capital.Snapshot())
	assert.Len(t, c.ledger.History(0), 1)
	assert.Equal(t, 1, c.events.count(domain.EventPositionClosed))
}

func TestLedgerCloseUnknownIsInvariantViolation(t *testing.T) {
	c := newCore(t, "100")
	before := c.capital.Snapshot()

	_, closed, err := c.ledger.Close("nope", 100, domain.CloseManual, c.clock.Now())
	assert.False(t, closed)
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
	assertSnapshotEqual(t, before, c.capital.Snapshot())
}

func TestLedgerBeginCloseOnce(t *testing.T) {
	c := newCore(t, "100")
	c.open(t, "BTCUSDT", "major", domain.SideLong, "5", 100)

	pos, ok, err := c.ledger.BeginClose("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.ledger.BeginClose("BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok, "second closer must back off")

	// A closing position is skipped by the monitor.
	_, _, exit := c.ledger.Evaluate(pos.ID, testPolicy, input(200, 0.8, 0))
	assert.False(t, exit)

	c.ledger.AbortClose(pos.ID)
	_, ok, err = c.ledger.BeginClose("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = c.ledger.BeginClose("SOLUSDT")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLedgerOpenRejectsDuplicateSymbol(t *testing.T) {
	c := newCore(t, "100")
	c.open(t, "BTCUSDT", "major", domain.SideLong, "5", 100)

	err := c.ledger.Open(domain.Position{ID: "other", Symbol: "BTCUSDT"})
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
}

func TestLedgerStatsAndHistoryOrder(t *testing.T) {
	c := newCore(t, "100")

	p1 := c.open(t, "BTCUSDT", "major", domain.SideLong, "10", 100)
	_, _, err := c.ledger.Close(p1.ID, 120, domain.CloseProfitTarget, c.clock.Now())
	require.NoError(t, err)

	p2 := c.open(t, "ETHUSDT", "major", domain.SideLong, "10", 100)
	_, _, err = c.ledger.Close(p2.ID, 90, domain.CloseTimeExpired, c.clock.Now())
	require.NoError(t, err)

	st := c.ledger.Stats()
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.InDelta(t, 2, st.AvgWin, 1e-9)
	assert.InDelta(t, 1, st.AvgLoss, 1e-9)

	h := c.ledger.History(1)
	require.Len(t, h, 1)
	assert.Equal(t, "ETHUSDT", h[0].Symbol)
}
