// Package feed moves mark prices from the exchange stream into the price
// cache, the oracle and the signal bus.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// PricesChannel is the bus channel every tick is published on.
const PricesChannel = "prices"

// Observer consumes price ticks. *oracle.Momentum implements it.
type Observer interface {
	Observe(symbol string, price float64, at time.Time)
}

// PriceFeeder fans each tick out to the price cache, the observers and,
// when a bus is configured, the "prices" channel.
type PriceFeeder struct {
	cache     domain.PriceCache
	bus       domain.SignalBus
	observers []Observer
	logger    *slog.Logger
}

// NewPriceFeeder creates a PriceFeeder. bus may be nil.
func NewPriceFeeder(cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger, observers ...Observer) *PriceFeeder {
	return &PriceFeeder{
		cache:     cache,
		bus:       bus,
		observers: observers,
		logger:    logger.With(slog.String("component", "price_feeder")),
	}
}

// Handle processes one tick. Cache and bus failures are logged and dropped;
// the next tick supersedes this one.
func (f *PriceFeeder) Handle(ctx context.Context, tick domain.PriceTick) {
	if tick.Symbol == "" || tick.Price <= 0 {
		return
	}
	if err := f.cache.SetPrice(ctx, tick.Symbol, tick.Price, tick.At); err != nil {
		f.logger.Debug("price cache write failed",
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()),
		)
	}
	for _, o := range f.observers {
		o.Observe(tick.Symbol, tick.Price, tick.At)
	}
	if f.bus == nil {
		return
	}
	data, err := json.Marshal(tick)
	if err != nil {
		return
	}
	if err := f.bus.Publish(ctx, PricesChannel, data); err != nil {
		f.logger.Debug("price publish failed",
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
