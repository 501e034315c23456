// Package oracle provides a momentum scorer built on recent mark prices.
// Its signal quality is not a goal; it exists so the controller runs
// end-to-end without an external model.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// Config sizes the momentum windows.
type Config struct {
	// ShortWindow and LongWindow are sample counts.
	ShortWindow int
	LongWindow  int
	// SampleEvery is the minimum spacing between stored samples.
	SampleEvery time.Duration
	// MinMove is the smallest long-window return that counts as a
	// direction.
	MinMove float64
	// Stale drops a symbol from Scan when its last sample is older.
	Stale time.Duration
}

// DefaultConfig returns 10/60 samples at 1s spacing.
func DefaultConfig() Config {
	return Config{
		ShortWindow: 10,
		LongWindow:  60,
		SampleEvery: time.Second,
		MinMove:     0.0005,
		Stale:       time.Minute,
	}
}

type sample struct {
	price float64
	at    time.Time
}

// Momentum scores symbols from their recent price path:
//   - confidence is the share of steps that moved with the trend;
//   - consciousness is the efficiency ratio |net move| / path length;
//   - alignment is how closely the short window agrees with the long one.
type Momentum struct {
	symbols []string
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.RWMutex
	history map[string][]sample
}

// NewMomentum creates an oracle for symbols.
func NewMomentum(symbols []string, cfg Config, logger *slog.Logger) *Momentum {
	def := DefaultConfig()
	if cfg.ShortWindow <= 1 {
		cfg.ShortWindow = def.ShortWindow
	}
	if cfg.LongWindow <= cfg.ShortWindow {
		cfg.LongWindow = max(def.LongWindow, cfg.ShortWindow*2)
	}
	if cfg.SampleEvery < 0 {
		cfg.SampleEvery = 0
	}
	if cfg.Stale <= 0 {
		cfg.Stale = def.Stale
	}
	syms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		syms = append(syms, strings.ToUpper(s))
	}
	return &Momentum{
		symbols: syms,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "momentum_oracle")),
		history: make(map[string][]sample, len(syms)),
	}
}

// WithClock replaces the clock used for staleness and timestamps.
func (m *Momentum) WithClock(now func() time.Time) *Momentum {
	m.now = now
	return m
}

// Observe records a mark price. Samples closer than SampleEvery to the
// previous one replace it.
func (m *Momentum) Observe(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.history[symbol]
	s := sample{price: price, at: at}
	if n := len(h); n > 0 && at.Sub(h[n-1].at) < m.cfg.SampleEvery {
		h[n-1] = s
	} else {
		h = append(h, s)
	}
	if over := len(h) - (m.cfg.LongWindow + 1); over > 0 {
		h = append(h[:0:0], h[over:]...)
	}
	m.history[symbol] = h
}

// Scan scores every configured symbol and returns those with a direction,
// best first.
func (m *Momentum) Scan(ctx context.Context) ([]domain.Opportunity, error) {
	now := m.now()
	out := make([]domain.Opportunity, 0, len(m.symbols))
	for _, sym := range m.symbols {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sc, err := m.Score(ctx, sym)
		if err != nil || sc.Action == domain.ActionHold || now.Sub(sc.At) > m.cfg.Stale {
			continue
		}
		out = append(out, domain.Opportunity{
			ID:            uuid.New().String(),
			Symbol:        sym,
			Source:        "momentum",
			Confidence:    sc.Confidence,
			Consciousness: sc.Consciousness,
			Alignment:     sc.Alignment,
			Action:        sc.Action,
			Score:         sc.Confidence * sc.Consciousness * sc.Alignment,
			Price:         sc.Price,
			Timestamp:     now.UTC(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Better(out[j]) })
	return out, nil
}

// Score rescores one symbol. It returns ErrNotFound until the long window
// has filled.
func (m *Momentum) Score(_ context.Context, symbol string) (domain.Score, error) {
	symbol = strings.ToUpper(symbol)
	m.mu.RLock()
	h := m.history[symbol]
	if len(h) < m.cfg.LongWindow+1 {
		m.mu.RUnlock()
		return domain.Score{}, fmt.Errorf("oracle: %s: %d/%d samples: %w", symbol, len(h), m.cfg.LongWindow+1, domain.ErrNotFound)
	}
	prices := make([]float64, len(h))
	for i, s := range h {
		prices[i] = s.price
	}
	last := h[len(h)-1]
	m.mu.RUnlock()

	return score(symbol, prices, m.cfg, last.at), nil
}

func score(symbol string, prices []float64, cfg Config, at time.Time) domain.Score {
	n := len(prices)
	last := prices[n-1]
	longMove := last/prices[n-1-cfg.LongWindow] - 1
	shortMove := last/prices[n-1-cfg.ShortWindow] - 1

	var with, steps int
	var path float64
	for i := n - cfg.LongWindow; i < n; i++ {
		r := prices[i]/prices[i-1] - 1
		path += math.Abs(r)
		if r == 0 {
			continue
		}
		steps++
		if (r > 0) == (longMove > 0) {
			with++
		}
	}

	sc := domain.Score{Symbol: symbol, Price: last, At: at, Action: domain.ActionHold}
	if steps > 0 {
		sc.Confidence = float64(with) / float64(steps)
	}
	if path > 0 {
		sc.Consciousness = math.Min(1, math.Abs(longMove)/path)
	}
	sc.Alignment = alignment(shortMove/float64(cfg.ShortWindow), longMove/float64(cfg.LongWindow))

	switch {
	case longMove > cfg.MinMove:
		sc.Action = domain.ActionLong
	case longMove < -cfg.MinMove:
		sc.Action = domain.ActionShort
	}
	return sc
}

// alignment compares per-sample rates: 1 when they match, 0.5 when one is
// flat, towards 0 as they diverge in opposite directions.
func alignment(short, long float64) float64 {
	hi := math.Max(math.Abs(short), math.Abs(long))
	if hi == 0 {
		return 0.5
	}
	ratio := math.Min(math.Abs(short), math.Abs(long)) / hi
	if short*long >= 0 {
		return 0.5 + 0.5*ratio
	}
	return 0.5 - 0.5*ratio
}
