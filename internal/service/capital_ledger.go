package service

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// CapitalLedger owns the controller's balances. Every operation is a single
// critical section, so no caller can observe a half-applied reserve or
// release.
//
// Total is equity. Realized PnL lands in Profit first and is merged into
// Available in the same step, so Available + Reserved + Profit == Total holds
// after every call. Profit stays non-zero only when a loss is larger than the
// unreserved balance can absorb.
type CapitalLedger struct {
	mu        sync.Mutex
	total     decimal.Decimal
	available decimal.Decimal
	reserved  decimal.Decimal
	profit    decimal.Decimal
	realized  decimal.Decimal
}

// NewCapitalLedger creates a ledger holding initial as unreserved capital.
func NewCapitalLedger(initial decimal.Decimal) *CapitalLedger {
	return &CapitalLedger{
		total:     initial,
		available: initial,
	}
}

// Reserve moves amount from available to reserved. It fails with
// ErrInsufficientFunds without changing anything when available < amount.
func (l *CapitalLedger) Reserve(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("capital: reserve %s: %w", amount, domain.ErrInvariantViolation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.available.LessThan(amount) {
		return fmt.Errorf("capital: reserve %s (available %s): %w", amount, l.available, domain.ErrInsufficientFunds)
	}
	l.available = l.available.Sub(amount)
	l.reserved = l.reserved.Add(amount)
	return nil
}

// Release returns a reservation of exactly amount and books pnl against it.
// Releasing more than is reserved is an invariant violation and applies
// nothing.
func (l *CapitalLedger) Release(amount, pnl decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("capital: release %s: %w", amount, domain.ErrInvariantViolation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.GreaterThan(l.reserved) {
		return fmt.Errorf("capital: release %s exceeds reserved %s: %w", amount, l.reserved, domain.ErrInvariantViolation)
	}

	l.reserved = l.reserved.Sub(amount)
	l.available = l.available.Add(amount)
	l.total = l.total.Add(pnl)
	l.profit = l.profit.Add(pnl)
	l.realized = l.realized.Add(pnl)
	l.mergeLocked()
	return nil
}

// mergeLocked folds the profit pocket into available without letting
// available go negative.
func (l *CapitalLedger) mergeLocked() {
	switch {
	case l.profit.IsPositive():
		l.available = l.available.Add(l.profit)
		l.profit = decimal.Zero
	case l.profit.IsNegative():
		absorb := decimal.Min(l.profit.Neg(), l.available)
		l.available = l.available.Sub(absorb)
		l.profit = l.profit.Add(absorb)
	}
}

// Equity returns total capital.
func (l *CapitalLedger) Equity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Available returns unreserved capital.
func (l *CapitalLedger) Available() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Snapshot returns a consistent copy of every balance.
func (l *CapitalLedger) Snapshot() domain.CapitalSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.CapitalSnapshot{
		Total:     l.total,
		Available: l.available,
		Reserved:  l.reserved,
		Profit:    l.profit,
		Realized:  l.realized,
	}
}
