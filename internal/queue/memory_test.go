package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func TestMemoryKeepsBetterSignalPerKey(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	now := time.Now()

	kept, err := q.Publish(ctx, domain.Opportunity{ID: "a", Symbol: "btcusdt", Score: 0.5, Timestamp: now})
	require.NoError(t, err)
	assert.True(t, kept)

	kept, err = q.Publish(ctx, domain.Opportunity{ID: "b", Symbol: "BTCUSDT", Score: 0.4, Timestamp: now})
	require.NoError(t, err)
	assert.False(t, kept)

	kept, err = q.Publish(ctx, domain.Opportunity{ID: "c", Symbol: "BTCUSDT", Score: 0.5, Confidence: 0.9, Timestamp: now})
	require.NoError(t, err)
	assert.True(t, kept)

	kept, err = q.Publish(ctx, domain.Opportunity{ID: "d", Symbol: "BTCUSDT", Timeframe: "5m", Score: 0.1, Timestamp: now})
	require.NoError(t, err)
	assert.True(t, kept, "timeframe is part of the key")

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Size)
	assert.Equal(t, int64(3), st.Published)
	assert.Equal(t, int64(1), st.Replaced)
	assert.Equal(t, int64(1), st.Discarded)

	got, err := q.PopBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
}

func TestMemoryPopPeekDiscardClear(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i, s := range []string{"AUSDT", "BUSDT", "CUSDT"} {
		_, err := q.Publish(ctx, domain.Opportunity{ID: s, Symbol: s, Score: float64(i), Timestamp: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	peek, err := q.Peek(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "CUSDT", peek[0].ID)
	assert.Equal(t, "BUSDT", peek[1].ID)

	ok, err := q.Discard(ctx, "CUSDT")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.Discard(ctx, "CUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, base, st.Oldest)

	got, err := q.PopBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BUSDT", got[0].ID)

	require.NoError(t, q.Requeue(ctx, got[0], 0.5))
	peek, err = q.Peek(ctx, 0)
	require.NoError(t, err)
	require.Len(t, peek, 2)
	assert.Equal(t, "BUSDT", peek[0].ID)
	assert.InDelta(t, 1.5, peek[0].Score, 1e-9)

	require.NoError(t, q.Clear(ctx))
	st, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Size)
}
