package service

import (
	"sync"

	"github.com/shopspring/decimal"
)

// EquitySource supplies the equity that exposure limits are measured against.
type EquitySource interface {
	Equity() decimal.Decimal
}

// ExposureLimits are fractions of equity.
type ExposureLimits struct {
	SymbolPct   float64
	CategoryPct float64
}

// ExposureSnapshot is a copy of committed and held exposure.
type ExposureSnapshot struct {
	Symbols    map[string]decimal.Decimal `json:"symbols"`
	Categories map[string]decimal.Decimal `json:"categories"`
	Held       map[string]decimal.Decimal `json:"held"`
}

// ExposureTracker accounts committed notional per symbol and per category.
// A symbol entry and its category entry always change in the same critical
// section. Holds cover orders in flight: they count toward limits but are
// not yet committed.
type ExposureTracker struct {
	mu       sync.Mutex
	equity   EquitySource
	limits   ExposureLimits
	symbols  map[string]decimal.Decimal
	cats     map[string]decimal.Decimal
	symHolds map[string]decimal.Decimal
	catHolds map[string]decimal.Decimal
}

// NewExposureTracker creates a tracker measuring limits against equity.
func NewExposureTracker(equity EquitySource, limits ExposureLimits) *ExposureTracker {
	return &ExposureTracker{
		equity:   equity,
		limits:   limits,
		symbols:  make(map[string]decimal.Decimal),
		cats:     make(map[string]decimal.Decimal),
		symHolds: make(map[string]decimal.Decimal),
		catHolds: make(map[string]decimal.Decimal),
	}
}

// WouldExceed reports whether adding amount to symbol and category would
// break either limit. Non-positive equity always exceeds.
func (t *ExposureTracker) WouldExceed(symbol, category string, amount decimal.Decimal) bool {
	eq := t.equity.Equity()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !eq.IsPositive() {
		return true
	}
	symCap := eq.Mul(decimal.NewFromFloat(t.limits.SymbolPct))
	catCap := eq.Mul(decimal.NewFromFloat(t.limits.CategoryPct))

	symProjected := t.symbols[symbol].Add(t.symHolds[symbol]).Add(amount)
	catProjected := t.cats[category].Add(t.catHolds[category]).Add(amount)

	return symProjected.GreaterThan(symCap) || catProjected.GreaterThan(catCap)
}

// Hold earmarks amount for an order in flight.
func (t *ExposureTracker) Hold(symbol, category string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addTo(t.symHolds, symbol, amount)
	addTo(t.catHolds, category, amount)
}

// DropHold removes a hold after a failed order.
func (t *ExposureTracker) DropHold(symbol, category string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subFrom(t.symHolds, symbol, amount)
	subFrom(t.catHolds, category, amount)
}

// Commit converts a hold into committed exposure.
func (t *ExposureTracker) Commit(symbol, category string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subFrom(t.symHolds, symbol, amount)
	subFrom(t.catHolds, category, amount)
	addTo(t.symbols, symbol, amount)
	addTo(t.cats, category, amount)
}

// Increment commits exposure with no prior hold.
func (t *ExposureTracker) Increment(symbol, category string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addTo(t.symbols, symbol, amount)
	addTo(t.cats, category, amount)
}

// Decrement removes committed exposure, clamping each entry at zero.
func (t *ExposureTracker) Decrement(symbol, category string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subFrom(t.symbols, symbol, amount)
	subFrom(t.cats, category, amount)
}

// Symbol returns committed exposure for symbol.
func (t *ExposureTracker) Symbol(symbol string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.symbols[symbol]
}

// Category returns committed exposure for category.
func (t *ExposureTracker) Category(category string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cats[category]
}

// Snapshot copies the tracker state.
func (t *ExposureTracker) Snapshot() ExposureSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := ExposureSnapshot{
		Symbols:    make(map[string]decimal.Decimal, len(t.symbols)),
		Categories: make(map[string]decimal.Decimal, len(t.cats)),
		Held:       make(map[string]decimal.Decimal, len(t.symHolds)),
	}
	for k, v := range t.symbols {
		out.Symbols[k] = v
	}
	for k, v := range t.cats {
		out.Categories[k] = v
	}
	for k, v := range t.symHolds {
		out.Held[k] = v
	}
	return out
}

func addTo(m map[string]decimal.Decimal, key string, amount decimal.Decimal) {
	m[key] = m[key].Add(amount)
}

func subFrom(m map[string]decimal.Decimal, key string, amount decimal.Decimal) {
	v := m[key].Sub(amount)
	if !v.IsPositive() {
		delete(m, key)
		return
	}
	m[key] = v
}
