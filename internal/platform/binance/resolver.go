package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// FilterSource supplies symbol filters. *Client implements it.
type FilterSource interface {
	SymbolFilters(ctx context.Context) (map[string]SymbolFilters, error)
}

// StaticFilters serves a fixed filter table.
type StaticFilters map[string]SymbolFilters

// SymbolFilters implements FilterSource.
func (s StaticFilters) SymbolFilters(context.Context) (map[string]SymbolFilters, error) {
	return s, nil
}

// simulatedStep is the quantity precision of simulated fills.
var simulatedStep = decimal.New(1, -8)

// SimulatedFilters keeps source's symbol list but drops its lot-size and
// minimum-notional limits, which a simulated venue does not enforce.
func SimulatedFilters(source FilterSource) FilterSource {
	return simulatedFilters{source}
}

type simulatedFilters struct{ source FilterSource }

func (s simulatedFilters) SymbolFilters(ctx context.Context) (map[string]SymbolFilters, error) {
	filters, err := s.source.SymbolFilters(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]SymbolFilters, len(filters))
	for sym, f := range filters {
		out[sym] = SymbolFilters{Symbol: f.Symbol, StepSize: simulatedStep}
	}
	return out, nil
}

// Resolver converts a notional amount into a quantity that satisfies the
// symbol's step size, minimum quantity and minimum notional. Filters are
// cached and refreshed after refresh elapses; a stale table keeps serving
// while one background fetch replaces it.
type Resolver struct {
	source  FilterSource
	refresh time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu      sync.Mutex
	filters map[string]SymbolFilters
	fetched time.Time
}

// NewResolver creates a Resolver. refresh <= 0 means one hour.
func NewResolver(source FilterSource, refresh time.Duration) *Resolver {
	if refresh <= 0 {
		refresh = time.Hour
	}
	return &Resolver{source: source, refresh: refresh, now: time.Now}
}

// Resolve implements domain.QuantityResolver. The quantity is rounded down to
// the step size.
func (r *Resolver) Resolve(ctx context.Context, symbol string, notionalUSD, price float64) (string, error) {
	if notionalUSD <= 0 || price <= 0 {
		return "", fmt.Errorf("binance: resolve %s: %w: notional %.4f at price %.4f",
			symbol, domain.ErrInvalidOrder, notionalUSD, price)
	}
	f, err := r.lookup(ctx, symbol)
	if err != nil {
		return "", err
	}

	px := decimal.NewFromFloat(price)
	qty := decimal.NewFromFloat(notionalUSD).Div(px)
	if f.StepSize.IsPositive() {
		qty = qty.Div(f.StepSize).Floor().Mul(f.StepSize)
	}
	if f.MaxQty.IsPositive() && qty.GreaterThan(f.MaxQty) {
		qty = f.MaxQty
	}

	if !qty.IsPositive() || qty.LessThan(f.MinQty) {
		return "", fmt.Errorf("binance: resolve %s: %w: quantity %s below minimum %s",
			symbol, domain.ErrInvalidOrder, qty, f.MinQty)
	}
	if f.MinNotional.IsPositive() && qty.Mul(px).LessThan(f.MinNotional) {
		return "", fmt.Errorf("binance: resolve %s: %w: notional %s below minimum %s",
			symbol, domain.ErrInvalidOrder, qty.Mul(px).StringFixed(4), f.MinNotional)
	}
	return qty.String(), nil
}

func (r *Resolver) lookup(ctx context.Context, symbol string) (SymbolFilters, error) {
	r.mu.Lock()
	filters, fetched := r.filters, r.fetched
	r.mu.Unlock()

	switch {
	case filters == nil:
		v, err, _ := r.group.Do("filters", func() (any, error) { return r.fetch(ctx) })
		if err != nil {
			return SymbolFilters{}, fmt.Errorf("binance: load filters: %w", err)
		}
		filters = v.(map[string]SymbolFilters)
	case r.now().Sub(fetched) > r.refresh:
		bg := context.WithoutCancel(ctx)
		r.group.DoChan("filters", func() (any, error) { return r.fetch(bg) })
	}

	f, ok := filters[symbol]
	if !ok {
		return SymbolFilters{}, fmt.Errorf("binance: filters for %s: %w", symbol, domain.ErrNotFound)
	}
	return f, nil
}

// fetch loads the filter table without holding mu and swaps it in. A failed
// refresh keeps the previous table.
func (r *Resolver) fetch(ctx context.Context) (map[string]SymbolFilters, error) {
	filters, err := r.source.SymbolFilters(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.filters = filters
	r.fetched = r.now()
	r.mu.Unlock()
	return filters, nil
}
