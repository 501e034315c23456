// Package paper simulates order execution against live mark prices.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// MarkSource is a fallback price source, normally the exchange REST client.
type MarkSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// Config tunes the simulated venue.
type Config struct {
	// MaxAge is how old a cached price may be before the fallback is used.
	MaxAge time.Duration
	// SlippageBps moves every fill against the order side.
	SlippageBps float64
}

// Gateway fills every market order at the latest cached mark price.
type Gateway struct {
	prices   domain.PriceCache
	fallback MarkSource
	cfg      Config
	now      func() time.Time
	seq      atomic.Int64
	logger   *slog.Logger
}

// NewGateway creates a Gateway. fallback may be nil.
func NewGateway(prices domain.PriceCache, fallback MarkSource, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * time.Minute
	}
	return &Gateway{
		prices:   prices,
		fallback: fallback,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "paper_gateway")),
	}
}

// WithClock replaces the clock used for price staleness and fill times.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// Ping always succeeds.
func (g *Gateway) Ping(context.Context) (domain.PingResult, error) {
	return domain.PingResult{OK: true}, nil
}

// PlaceOrder fills the whole quantity at the mark price plus slippage.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Symbol == "" || req.Quantity == "" {
		return domain.OrderResult{}, fmt.Errorf("paper: place order: %w", domain.ErrInvalidOrder)
	}
	price, err := g.MarkPrice(ctx, req.Symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper: place order: %w", err)
	}

	slip := price * g.cfg.SlippageBps / 10_000
	if req.Side == domain.OrderSideBuy {
		price += slip
	} else {
		price -= slip
	}

	id := g.seq.Add(1)
	g.logger.InfoContext(ctx, "paper fill",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("quantity", req.Quantity),
		slog.Bool("reduce_only", req.ReduceOnly),
		slog.Float64("price", price),
	)
	return domain.OrderResult{
		Success:   true,
		OrderID:   fmt.Sprintf("paper-%d", id),
		FillPrice: price,
		FilledQty: req.Quantity,
		At:        g.now().UTC(),
	}, nil
}

// MarkPrice reads the cache and falls back to the MarkSource when the cached
// price is missing or stale.
func (g *Gateway) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	price, at, err := g.prices.GetPrice(ctx, symbol)
	if err == nil && price > 0 && g.now().Sub(at) <= g.cfg.MaxAge {
		return price, nil
	}
	if g.fallback != nil {
		p, ferr := g.fallback.MarkPrice(ctx, symbol)
		if ferr == nil && p > 0 {
			if serr := g.prices.SetPrice(ctx, symbol, p, g.now()); serr != nil {
				g.logger.DebugContext(ctx, "price cache write failed", slog.String("error", serr.Error()))
			}
			return p, nil
		}
		if ferr != nil {
			return 0, fmt.Errorf("paper: mark price %s: %w", symbol, ferr)
		}
	}
	return 0, fmt.Errorf("paper: mark price %s: %w", symbol, domain.ErrNotFound)
}

// Prices is an in-memory domain.PriceCache.
type Prices struct {
	mu     sync.RWMutex
	prices map[string]domain.PriceTick
}

// NewPrices creates an empty Prices.
func NewPrices() *Prices {
	return &Prices{prices: make(map[string]domain.PriceTick)}
}

// SetPrice stores the latest price for symbol.
func (p *Prices) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	p.mu.Lock()
	p.prices[symbol] = domain.PriceTick{Symbol: symbol, Price: price, At: ts}
	p.mu.Unlock()
	return nil
}

// GetPrice returns the latest price for symbol.
func (p *Prices) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	p.mu.RLock()
	t, ok := p.prices[symbol]
	p.mu.RUnlock()
	if !ok {
		return 0, time.Time{}, fmt.Errorf("paper: price %s: %w", symbol, domain.ErrNotFound)
	}
	return t.Price, t.At, nil
}

// GetPrices returns the prices that are known for symbols.
func (p *Prices) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if t, ok := p.prices[s]; ok {
			out[s] = t.Price
		}
	}
	return out, nil
}

// Symbols lists every symbol with a price, sorted.
func (p *Prices) Symbols() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.prices))
	for s := range p.prices {
		out = append(out, s)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}
