package service

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordedEvent struct {
	kind    domain.EventKind
	payload any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Emit(kind domain.EventKind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: kind, payload: payload})
}

func (r *eventRecorder) count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type core struct {
	capital  *CapitalLedger
	exposure *ExposureTracker
	risk     *RiskGovernor
	ledger   *PositionLedger
	sizer    *PositionSizer
	events   *eventRecorder
	clock    *fakeClock
}

func newCore(t *testing.T, initial string) *core {
	t.Helper()
	c := &core{
		events: &eventRecorder{},
		clock:  &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
	c.capital = NewCapitalLedger(dec(initial))
	c.exposure = NewExposureTracker(c.capital, ExposureLimits{SymbolPct: 0.15, CategoryPct: 0.35})
	c.risk = NewRiskGovernor(c.capital, RiskConfig{MaxDailyDrawdown: 0.10, HardStop: true}, c.events, discardLogger()).
		WithClock(c.clock.Now)
	c.ledger = NewPositionLedger(c.capital, c.exposure, c.risk, c.events, discardLogger())
	c.sizer = NewPositionSizer(c.capital, SizerConfig{SeedMultiplier: 1.618, MaxRiskPerTrade: 0.01, KellyFactor: 0.25, MinSamples: 10})
	return c
}

// open simulates the coordinator's successful open path.
func (c *core) open(t *testing.T, symbol, category string, side domain.Side, size string, entry float64) domain.Position {
	t.Helper()
	amt := dec(size)
	require.NoError(t, c.capital.Reserve(amt))
	require.NoError(t, c.ledger.Claim(symbol))
	c.exposure.Increment(symbol, category, amt)
	pos := domain.Position{
		ID:                 "pos-" + symbol,
		Symbol:             symbol,
		Side:               side,
		Category:           category,
		EntryPrice:         entry,
		SizeUSD:            amt,
		ExpectedProfit:     dec("1"),
		EntryConsciousness: 0.8,
		OpenTime:           c.clock.Now(),
	}
	require.NoError(t, c.ledger.Open(pos))
	return pos
}

func assertSnapshotEqual(t *testing.T, want, got domain.CapitalSnapshot) {
	t.Helper()
	require.True(t, want.Total.Equal(got.Total), "total: want %s got %s", want.Total, got.Total)
	require.True(t, want.Available.Equal(got.Available), "available: want %s got %s", want.Available, got.Available)
	require.True(t, want.Reserved.Equal(got.Reserved), "reserved: want %s got %s", want.Reserved, got.Reserved)
	require.True(t, want.Profit.Equal(got.Profit), "profit: want %s got %s", want.Profit, got.Profit)
}
