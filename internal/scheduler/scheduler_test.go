package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsTasksImmediatelyAndOnInterval(t *testing.T) {
	s := NewScheduler(discardLogger())
	var n atomic.Int64
	require.NoError(t, s.Add("tick", 5*time.Millisecond, func(context.Context) error {
		n.Add(1)
		return nil
	}))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.StopAll(context.Background()))

	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, n.Load(), "no runs after stop")
}

func TestSchedulerRejectsDuplicatesAndBadIntervals(t *testing.T) {
	s := NewScheduler(discardLogger())
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add("a", time.Second, noop))
	assert.ErrorIs(t, s.Add("a", time.Second, noop), domain.ErrAlreadyExists)
	assert.Error(t, s.Add("b", 0, noop))
	assert.ErrorIs(t, s.StopTask(context.Background(), "missing"), domain.ErrNotFound)
}

func TestSchedulerDropsTicksDuringSlowBody(t *testing.T) {
	s := NewScheduler(discardLogger())
	var running, overlaps, runs atomic.Int64
	require.NoError(t, s.Add("slow", 2*time.Millisecond, func(context.Context) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	time.Sleep(110 * time.Millisecond)
	require.NoError(t, s.StopAll(context.Background()))

	assert.Zero(t, overlaps.Load())
	// Ticks are not queued: roughly one run per body duration.
	assert.LessOrEqual(t, runs.Load(), int64(7))
}

func TestSchedulerStopTaskLeavesOthersRunning(t *testing.T) {
	s := NewScheduler(discardLogger())
	var a, b atomic.Int64
	require.NoError(t, s.Add("a", 2*time.Millisecond, func(context.Context) error { a.Add(1); return nil }))
	require.NoError(t, s.Add("b", 2*time.Millisecond, func(context.Context) error { b.Add(1); return nil }))
	s.Start(context.Background())

	require.NoError(t, s.StopTask(context.Background(), "a"))
	stoppedAt := a.Load()
	before := b.Load()
	require.Eventually(t, func() bool { return b.Load() > before+2 }, time.Second, time.Millisecond)
	assert.Equal(t, stoppedAt, a.Load())

	st := s.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "a", st[0].Name)
	assert.False(t, st[0].Running)
	assert.True(t, st[1].Running)

	require.NoError(t, s.StopAll(context.Background()))
}

func TestSchedulerRecordsFailures(t *testing.T) {
	s := NewScheduler(discardLogger())
	require.NoError(t, s.Add("bad", time.Hour, func(context.Context) error { return errors.New("boom") }))
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Status()[0].Runs == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.StopAll(context.Background()))

	st := s.Status()[0]
	assert.Equal(t, int64(1), st.Failures)
	assert.Equal(t, "boom", st.LastError)
}

func TestSchedulerStopTimesOut(t *testing.T) {
	s := NewScheduler(discardLogger())
	release := make(chan struct{})
	entered := make(chan struct{})
	require.NoError(t, s.Add("stuck", time.Hour, func(context.Context) error {
		close(entered)
		<-release
		return nil
	}))
	s.Start(context.Background())
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.StopAll(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.StopAll(context.Background()))
}
