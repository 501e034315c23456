package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

const defaultHistoryCap = 1000

// PositionLedger owns the open positions. A symbol is either free, claimed by
// an order in flight, or held by exactly one position. Closing a position
// releases its reservation, its exposure and books the PnL with the risk
// governor, all inside one critical section.
type PositionLedger struct {
	capital  *CapitalLedger
	exposure *ExposureTracker
	risk     *RiskGovernor
	events   domain.EventPublisher
	logger   *slog.Logger

	mu         sync.Mutex
	byID       map[string]*domain.Position
	bySymbol   map[string]string
	pending    map[string]struct{}
	closed     map[string]struct{}
	history    []domain.ExecutionRecord
	historyCap int

	wins, losses    int
	sumWin, sumLoss float64
}

// NewPositionLedger creates an empty ledger.
func NewPositionLedger(
	capital *CapitalLedger,
	exposure *ExposureTracker,
	risk *RiskGovernor,
	events domain.EventPublisher,
	logger *slog.Logger,
) *PositionLedger {
	if events == nil {
		events = domain.NopPublisher{}
	}
	return &PositionLedger{
		capital:    capital,
		exposure:   exposure,
		risk:       risk,
		events:     events,
		logger:     logger.With(slog.String("component", "position_ledger")),
		byID:       make(map[string]*domain.Position),
		bySymbol:   make(map[string]string),
		pending:    make(map[string]struct{}),
		closed:     make(map[string]struct{}),
		historyCap: defaultHistoryCap,
	}
}

// Held reports whether symbol has an open position or an order in flight.
func (l *PositionLedger) Held(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heldLocked(symbol)
}

func (l *PositionLedger) heldLocked(symbol string) bool {
	if _, ok := l.bySymbol[symbol]; ok {
		return true
	}
	_, ok := l.pending[symbol]
	return ok
}

// Count returns open positions plus orders in flight.
func (l *PositionLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bySymbol) + len(l.pending)
}

// Claim marks symbol as having an order in flight.
func (l *PositionLedger) Claim(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.heldLocked(symbol) {
		return fmt.Errorf("position_ledger: claim %s: %w", symbol, domain.ErrAlreadyExists)
	}
	l.pending[symbol] = struct{}{}
	return nil
}

// Unclaim drops an in-flight claim after a failed order.
func (l *PositionLedger) Unclaim(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, symbol)
}

// Open records a filled position, consuming the symbol's claim.
func (l *PositionLedger) Open(pos domain.Position) error {
	l.mu.Lock()
	if _, ok := l.bySymbol[pos.Symbol]; ok {
		l.mu.Unlock()
		return fmt.Errorf("position_ledger: open %s: %w", pos.Symbol, domain.ErrInvariantViolation)
	}
	delete(l.pending, pos.Symbol)
	pos.Status = domain.PositionStatusActive
	p := pos
	l.byID[p.ID] = &p
	l.bySymbol[p.Symbol] = p.ID
	l.mu.Unlock()

	l.events.Emit(domain.EventPositionOpened, pos)
	return nil
}

// Get returns the position held on symbol.
func (l *PositionLedger) Get(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.bySymbol[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *l.byID[id], true
}

// Active returns copies of every open position, oldest first.
func (l *PositionLedger) Active() []domain.Position {
	l.mu.Lock()
	out := make([]domain.Position, 0, len(l.byID))
	for _, p := range l.byID {
		out = append(out, *p)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}

// Evaluate runs policy against an ACTIVE position and stores the updated
// trailing state. Positions already closing are skipped.
func (l *PositionLedger) Evaluate(id string, policy ExitPolicy, in ExitInput) (domain.Position, domain.CloseReason, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byID[id]
	if !ok || p.Status != domain.PositionStatusActive {
		return domain.Position{}, "", false
	}
	reason, exit := policy.Evaluate(p, in)
	return *p, reason, exit
}

// BeginClose moves the position on symbol to CLOSING so only one caller
// sends its close order. It returns false when the position is already
// closing.
func (l *PositionLedger) BeginClose(symbol string) (domain.Position, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.bySymbol[symbol]
	if !ok {
		return domain.Position{}, false, fmt.Errorf("position_ledger: close %s: %w", symbol, domain.ErrNotFound)
	}
	p := l.byID[id]
	if p.Status != domain.PositionStatusActive {
		return *p, false, nil
	}
	p.Status = domain.PositionStatusClosing
	return *p, true, nil
}

// AbortClose returns a CLOSING position to ACTIVE after its close order
// failed.
func (l *PositionLedger) AbortClose(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.byID[id]; ok && p.Status == domain.PositionStatusClosing {
		p.Status = domain.PositionStatusActive
	}
}

// Close finalizes a position at price. Closing an already closed position is
// a no-op that returns false. Closing an id the ledger never held is an
// invariant violation. Nothing is applied when the capital release fails.
func (l *PositionLedger) Close(id string, price float64, reason domain.CloseReason, at time.Time) (domain.ExecutionRecord, bool, error) {
	l.mu.Lock()
	if _, done := l.closed[id]; done {
		l.mu.Unlock()
		return domain.ExecutionRecord{}, false, nil
	}
	p, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		l.logger.Error("position_ledger: close of unknown position", slog.String("position_id", id))
		return domain.ExecutionRecord{}, false, fmt.Errorf("position_ledger: close %s: %w", id, domain.ErrInvariantViolation)
	}

	pnl := domain.PnL(p.Side, p.SizeUSD, p.EntryPrice, price)
	if err := l.capital.Release(p.SizeUSD, pnl); err != nil {
		l.mu.Unlock()
		l.logger.Error("position_ledger: release failed",
			slog.String("position_id", id),
			slog.String("symbol", p.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.ExecutionRecord{}, false, fmt.Errorf("position_ledger: close %s: %w", id, err)
	}
	l.exposure.Decrement(p.Symbol, p.Category, p.SizeUSD)
	l.risk.RecordClose(pnl)

	closeTime := at.UTC()
	p.Status = domain.PositionStatusClosed
	p.CloseReason = reason
	p.ClosePrice = price
	p.CloseTime = &closeTime
	p.RealizedPnL = pnl
	rec := p.Record()

	delete(l.byID, id)
	delete(l.bySymbol, p.Symbol)
	l.closed[id] = struct{}{}
	l.appendHistoryLocked(rec)
	l.recordStatsLocked(pnl.InexactFloat64())
	closedPos := *p
	l.mu.Unlock()

	l.events.Emit(domain.EventPositionClosed, closedPos)
	return rec, true, nil
}

func (l *PositionLedger) appendHistoryLocked(rec domain.ExecutionRecord) {
	l.history = append(l.history, rec)
	if over := len(l.history) - l.historyCap; over > 0 {
		for _, old := range l.history[:over] {
			delete(l.closed, old.PositionID)
		}
		l.history = append([]domain.ExecutionRecord(nil), l.history[over:]...)
	}
}

func (l *PositionLedger) recordStatsLocked(pnl float64) {
	switch {
	case pnl > 0:
		l.wins++
		l.sumWin += pnl
	case pnl < 0:
		l.losses++
		l.sumLoss += -pnl
	}
}

// History returns up to limit closed records, newest first. limit <= 0
// returns everything retained.
func (l *PositionLedger) History(limit int) []domain.ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.ExecutionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.history[i])
	}
	return out
}

// Stats summarises closed trades for the sizer.
func (l *PositionLedger) Stats() domain.TradeStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := domain.TradeStats{Wins: l.wins, Losses: l.losses}
	if l.wins > 0 {
		st.AvgWin = l.sumWin / float64(l.wins)
	}
	if l.losses > 0 {
		st.AvgLoss = l.sumLoss / float64(l.losses)
	}
	return st
}
