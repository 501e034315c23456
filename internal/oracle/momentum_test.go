package oracle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newOracle(now *time.Time) *Momentum {
	cfg := Config{ShortWindow: 5, LongWindow: 20, SampleEvery: time.Second, MinMove: 0.001, Stale: time.Minute}
	return NewMomentum([]string{"btcusdt", "ETHUSDT", "SOLUSDT"}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(func() time.Time { return *now })
}

func feed(m *Momentum, symbol string, price func(i int) float64, n int) {
	for i := 0; i < n; i++ {
		m.Observe(symbol, price(i), t0.Add(time.Duration(i)*time.Second))
	}
}

func TestScoreNeedsFullWindow(t *testing.T) {
	now := t0
	m := newOracle(&now)
	feed(m, "BTCUSDT", func(i int) float64 { return 100 + float64(i) }, 20)

	_, err := m.Score(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m.Observe("BTCUSDT", 120, t0.Add(20*time.Second))
	_, err = m.Score(context.Background(), "btcusdt")
	assert.NoError(t, err)
}

func TestScoreTrends(t *testing.T) {
	now := t0.Add(30 * time.Second)
	m := newOracle(&now)
	feed(m, "BTCUSDT", func(i int) float64 { return 100 + float64(i) }, 21)
	feed(m, "ETHUSDT", func(i int) float64 { return 100 - float64(i) }, 21)
	feed(m, "SOLUSDT", func(int) float64 { return 100 }, 21)

	up, err := m.Score(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionLong, up.Action)
	assert.InDelta(t, 1, up.Confidence, 1e-9)
	assert.InDelta(t, 1, up.Consciousness, 1e-9)
	assert.Greater(t, up.Alignment, 0.6)
	assert.InDelta(t, 120, up.Price, 1e-9)

	down, err := m.Score(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionShort, down.Action)
	assert.InDelta(t, 1, down.Confidence, 1e-9)

	flat, err := m.Score(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, flat.Action)

	opps, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 2)
	for _, o := range opps {
		assert.NotEqual(t, "SOLUSDT", o.Symbol)
		assert.Equal(t, "momentum", o.Source)
		assert.NotEmpty(t, o.ID)
	}
}

func TestChoppyPathScoresLow(t *testing.T) {
	now := t0.Add(30 * time.Second)
	m := newOracle(&now)
	feed(m, "BTCUSDT", func(i int) float64 {
		if i%2 == 0 {
			return 100 + float64(i)*0.01
		}
		return 99
	}, 21)

	sc, err := m.Score(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Less(t, sc.Consciousness, 0.2)
}

func TestScanSkipsStaleSymbols(t *testing.T) {
	now := t0.Add(5 * time.Minute)
	m := newOracle(&now)
	feed(m, "BTCUSDT", func(i int) float64 { return 100 + float64(i) }, 21)

	opps, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestObserveCoalescesCloseSamples(t *testing.T) {
	now := t0
	m := newOracle(&now)
	m.Observe("BTCUSDT", 100, t0)
	m.Observe("BTCUSDT", 101, t0.Add(200*time.Millisecond))
	m.Observe("BTCUSDT", 0, t0.Add(2*time.Second))

	m.mu.RLock()
	defer m.mu.RUnlock()
	require.Len(t, m.history["BTCUSDT"], 1)
	assert.InDelta(t, 101, m.history["BTCUSDT"][0].price, 1e-9)
}
