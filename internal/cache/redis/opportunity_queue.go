package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

var (
	//go:embed scripts/queue_publish.lua
	queuePublishLua string
	//go:embed scripts/queue_pop.lua
	queuePopLua string
)

// OpportunityQueue implements domain.OpportunityQueue. Signals live in a
// sorted set ranked by score with the payload and tie-break fields in
// hashes; publish and pop run as Lua scripts so competing producers and
// consumers see a consistent queue.
type OpportunityQueue struct {
	rdb       *redis.Client
	publishSc *redis.Script
	popSc     *redis.Script
	keys      []string
}

// NewOpportunityQueue creates a queue under the given key prefix, e.g.
// "opps". Controllers sharing a prefix share the queue.
func NewOpportunityQueue(c *Client, prefix string) *OpportunityQueue {
	if prefix == "" {
		prefix = "opps"
	}
	return &OpportunityQueue{
		rdb:       c.Underlying(),
		publishSc: redis.NewScript(queuePublishLua),
		popSc:     redis.NewScript(queuePopLua),
		keys:      queueKeys(prefix),
	}
}

// queueKeys returns the rank, payload, meta and stats keys.
func queueKeys(prefix string) []string {
	return []string{prefix + ":rank", prefix + ":data", prefix + ":meta", prefix + ":stats"}
}

func (q *OpportunityQueue) rankKey() string  { return q.keys[0] }
func (q *OpportunityQueue) dataKey() string  { return q.keys[1] }
func (q *OpportunityQueue) metaKey() string  { return q.keys[2] }
func (q *OpportunityQueue) statsKey() string { return q.keys[3] }

// Publish stores opp unless a better signal already holds its key.
func (q *OpportunityQueue) Publish(ctx context.Context, opp domain.Opportunity) (bool, error) {
	stored, err := q.store(ctx, opp, false)
	if err != nil {
		return false, fmt.Errorf("redis: publish opportunity %s: %w", opp.QueueKey(), err)
	}
	return stored, nil
}

// Requeue puts opp back with its score shifted by boost.
func (q *OpportunityQueue) Requeue(ctx context.Context, opp domain.Opportunity, boost float64) error {
	opp.Score += boost
	if _, err := q.store(ctx, opp, true); err != nil {
		return fmt.Errorf("redis: requeue opportunity %s: %w", opp.QueueKey(), err)
	}
	return nil
}

func (q *OpportunityQueue) store(ctx context.Context, opp domain.Opportunity, requeue bool) (bool, error) {
	payload, err := json.Marshal(opp)
	if err != nil {
		return false, err
	}
	flag := "0"
	if requeue {
		flag = "1"
	}
	n, err := q.publishSc.Run(ctx, q.rdb, q.keys,
		opp.QueueKey(),
		payload,
		formatFloat(opp.Score),
		formatFloat(opp.Confidence),
		opp.Timestamp.UnixMilli(),
		flag,
	).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PopBatch removes and returns the best n signals.
func (q *OpportunityQueue) PopBatch(ctx context.Context, n int) ([]domain.Opportunity, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := q.popSc.Run(ctx, q.rdb, q.keys, n).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: pop opportunities: %w", err)
	}
	return decodeRanked(raw), nil
}

// Peek returns the best n signals without removing them.
func (q *OpportunityQueue) Peek(ctx context.Context, n int) ([]domain.Opportunity, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	keys, err := q.rdb.ZRevRange(ctx, q.rankKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: peek opportunities: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := q.rdb.HMGet(ctx, q.dataKey(), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: peek opportunities: %w", err)
	}
	raw := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			raw = append(raw, s)
		}
	}
	return decodeRanked(raw), nil
}

// Discard removes the signal under key.
func (q *OpportunityQueue) Discard(ctx context.Context, key string) (bool, error) {
	pipe := q.rdb.TxPipeline()
	removed := pipe.ZRem(ctx, q.rankKey(), key)
	pipe.HDel(ctx, q.dataKey(), key)
	pipe.HDel(ctx, q.metaKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: discard opportunity %s: %w", key, err)
	}
	if removed.Val() == 0 {
		return false, nil
	}
	if err := q.rdb.HIncrBy(ctx, q.statsKey(), "discarded", 1).Err(); err != nil {
		return true, fmt.Errorf("redis: discard opportunity %s: %w", key, err)
	}
	return true, nil
}

// Clear drops every queued signal. Counters survive.
func (q *OpportunityQueue) Clear(ctx context.Context) error {
	size, err := q.rdb.ZCard(ctx, q.rankKey()).Result()
	if err != nil {
		return fmt.Errorf("redis: clear opportunities: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, q.rankKey(), q.dataKey(), q.metaKey())
	if size > 0 {
		pipe.HIncrBy(ctx, q.statsKey(), "discarded", size)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: clear opportunities: %w", err)
	}
	return nil
}

// Stats returns the counters, the queue size and the oldest timestamp.
func (q *OpportunityQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	pipe := q.rdb.Pipeline()
	counters := pipe.HGetAll(ctx, q.statsKey())
	size := pipe.ZCard(ctx, q.rankKey())
	meta := pipe.HVals(ctx, q.metaKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.QueueStats{}, fmt.Errorf("redis: queue stats: %w", err)
	}

	c := counters.Val()
	st := domain.QueueStats{
		Size:      int(size.Val()),
		Published: parseInt(c["published"]),
		Replaced:  parseInt(c["replaced"]),
		Popped:    parseInt(c["popped"]),
		Discarded: parseInt(c["discarded"]),
	}
	for _, m := range meta.Val() {
		if ts, ok := metaTimestamp(m); ok && (st.Oldest.IsZero() || ts.Before(st.Oldest)) {
			st.Oldest = ts
		}
	}
	return st, nil
}

// decodeRanked decodes payloads and restores the full Better ordering; the
// sorted set only ranks by score.
func decodeRanked(raw []string) []domain.Opportunity {
	out := make([]domain.Opportunity, 0, len(raw))
	for _, r := range raw {
		var o domain.Opportunity
		if err := json.Unmarshal([]byte(r), &o); err != nil {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Better(out[j]) })
	return out
}

// metaTimestamp extracts the timestamp from a "score|confidence|ms" entry.
func metaTimestamp(m string) (time.Time, bool) {
	i := strings.LastIndexByte(m, '|')
	if i < 0 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

var _ domain.OpportunityQueue = (*OpportunityQueue)(nil)
