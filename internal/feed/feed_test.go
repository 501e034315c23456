package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/platform/paper"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingObserver struct {
	mu    sync.Mutex
	ticks []domain.PriceTick
}

func (r *recordingObserver) Observe(symbol string, price float64, at time.Time) {
	r.mu.Lock()
	r.ticks = append(r.ticks, domain.PriceTick{Symbol: symbol, Price: price, At: at})
	r.mu.Unlock()
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

type memBus struct {
	domain.SignalBus
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func TestPriceFeederFansOut(t *testing.T) {
	ctx := context.Background()
	cache := paper.NewPrices()
	obs := &recordingObserver{}
	bus := &memBus{}
	f := NewPriceFeeder(cache, bus, discard(), obs)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.Handle(ctx, domain.PriceTick{Symbol: "BTCUSDT", Price: 50000, At: at})
	f.Handle(ctx, domain.PriceTick{Symbol: "BTCUSDT", Price: 0, At: at})

	p, got, err := cache.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 50000, p, 1e-9)
	assert.Equal(t, at, got)
	assert.Equal(t, 1, obs.count())

	require.Len(t, bus.published[PricesChannel], 1)
	var tick domain.PriceTick
	require.NoError(t, json.Unmarshal(bus.published[PricesChannel][0], &tick))
	assert.Equal(t, "BTCUSDT", tick.Symbol)
}

type fakeStream struct {
	ticks []domain.PriceTick
	err   error
	h     func(domain.PriceTick)
}

func (s *fakeStream) OnTick(h func(domain.PriceTick)) { s.h = h }

func (s *fakeStream) Run(ctx context.Context) error {
	for _, t := range s.ticks {
		s.h(t)
	}
	return s.err
}

func TestMarkStreamReconnects(t *testing.T) {
	obs := &recordingObserver{}
	f := NewPriceFeeder(paper.NewPrices(), nil, discard(), obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	connects := 0
	ms := NewMarkStream(func() Stream {
		mu.Lock()
		defer mu.Unlock()
		connects++
		if connects == 2 {
			cancel()
		}
		return &fakeStream{
			ticks: []domain.PriceTick{{Symbol: "ETHUSDT", Price: 3000, At: time.Now()}},
			err:   errors.New("dropped"),
		}
	}, f, discard())

	done := make(chan error, 1)
	go func() { done <- ms.Run(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("mark stream did not stop")
	}
	mu.Lock()
	assert.Equal(t, 2, connects)
	mu.Unlock()
	assert.GreaterOrEqual(t, obs.count(), 1)
}
