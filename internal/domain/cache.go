package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest mark prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// SignalBus provides pub/sub and an append-only event stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// OpportunityQueue holds externally published signals keyed by
// SYMBOL[:timeframe], keeping the better signal per key.
type OpportunityQueue interface {
	Publish(ctx context.Context, opp Opportunity) (bool, error)
	PopBatch(ctx context.Context, n int) ([]Opportunity, error)
	Peek(ctx context.Context, n int) ([]Opportunity, error)
	Discard(ctx context.Context, key string) (bool, error)
	Requeue(ctx context.Context, opp Opportunity, boost float64) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (QueueStats, error)
}

// PriceTick is one mark-price observation.
type PriceTick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}
