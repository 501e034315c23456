package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per symbol at
// "mark:{symbol}" holding "price" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: c.cfg.PriceTTL}
}

func priceKey(symbol string) string {
	return "mark:" + symbol
}

// SetPrice stores the latest mark price and refreshes the key's TTL.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := priceKey(symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns domain.ErrNotFound when the symbol has no price.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	price, ts, ok := parsePrice(vals)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, domain.ErrNotFound)
	}
	return price, ts, nil
}

// GetPrices pipelines the lookups. Missing symbols are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, priceKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	out := make(map[string]float64, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok := parsePrice(vals); ok {
			out[s] = price
		}
	}
	return out, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, bool) {
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	ns, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return price, time.Unix(0, ns).UTC(), true
}

var _ domain.PriceCache = (*PriceCache)(nil)
