package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/config"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/platform/binance"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/platform/paper"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBuildPaperCore(t *testing.T) {
	cfg := config.Defaults()
	v, err := buildVenue(&cfg, &Infra{}, discard())
	require.NoError(t, err)
	assert.IsType(t, &paper.Gateway{}, v.gateway)
	assert.IsType(t, &paper.Prices{}, v.prices)

	c, err := buildCore(&cfg, v, nil, nil, domain.NopPublisher{}, discard())
	require.NoError(t, err)
	assert.Equal(t, "100", c.capital.Snapshot().Total.String())
	assert.Zero(t, c.ledger.Count())
	assert.False(t, c.ctrl.Status().Running)

	ctx := context.Background()
	opp, kept, err := c.consumer.Enqueue(ctx, domain.Opportunity{
		Symbol:        "btcusdt",
		Action:        domain.ActionLong,
		Confidence:    0.8,
		Consciousness: 0.8,
		Alignment:     0.8,
	})
	require.NoError(t, err)
	assert.True(t, kept)
	assert.Equal(t, "BTCUSDT", opp.Symbol)

	queued, err := c.queue.Peek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, opp.ID, queued[0].ID)
}

func TestBuildLiveVenue(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "live"

	_, err := buildVenue(&cfg, &Infra{}, discard())
	require.Error(t, err, "no secret configured")

	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "secret"
	v, err := buildVenue(&cfg, &Infra{PriceCache: paper.NewPrices()}, discard())
	require.NoError(t, err)
	assert.IsType(t, &binance.Client{}, v.gateway)
	assert.Same(t, v.exchange, v.gateway)
}

func TestBuildVenueUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	_, err := buildVenue(&cfg, &Infra{}, discard())
	assert.ErrorContains(t, err, "unsupported mode")
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ignoreCanceled(ctx.Err()), context.DeadlineExceeded)
}

type stubLocks struct {
	err   error
	calls int
}

func (s *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

func (s *stubLocks) Refresh(context.Context, string, time.Duration) error {
	s.calls++
	return s.err
}

func TestLockRefresherReportsLostLock(t *testing.T) {
	ctx := context.Background()
	locks := &stubLocks{}
	var lost []error
	refresh := lockRefresher(locks, "controller:main", time.Minute, func(err error) { lost = append(lost, err) }, discard())

	require.NoError(t, refresh(ctx))
	assert.Empty(t, lost)

	locks.err = errors.New("redis: connection refused")
	require.Error(t, refresh(ctx))
	assert.Empty(t, lost, "transient refresh failures keep trading")

	locks.err = fmt.Errorf("redis: refresh lock controller:main: %w", domain.ErrLockHeld)
	err := refresh(ctx)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.Len(t, lost, 1)
	assert.ErrorIs(t, lost[0], domain.ErrLockHeld)
	assert.Equal(t, 3, locks.calls)
}

func TestLockLossPausesController(t *testing.T) {
	cfg := config.Defaults()
	v, err := buildVenue(&cfg, &Infra{}, discard())
	require.NoError(t, err)
	c, err := buildCore(&cfg, v, nil, nil, domain.NopPublisher{}, discard())
	require.NoError(t, err)

	runCtx, cancelRun := context.WithCancelCause(context.Background())
	defer cancelRun(nil)
	locks := &stubLocks{err: domain.ErrLockHeld}
	refresh := lockRefresher(locks, "controller:main", time.Minute, func(err error) {
		c.ctrl.Pause()
		cancelRun(err)
	}, discard())

	require.ErrorIs(t, refresh(runCtx), domain.ErrLockHeld)
	assert.True(t, c.ctrl.Status().Paused)
	require.Error(t, runCtx.Err())
	assert.ErrorIs(t, context.Cause(runCtx), domain.ErrLockHeld)
}
