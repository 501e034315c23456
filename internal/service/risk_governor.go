package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

const dayLayout = "2006-01-02"

// RiskConfig holds the drawdown breaker parameters.
type RiskConfig struct {
	MaxDailyDrawdown float64
	// HardStop makes a tripped breaker block admissions. When false the
	// breach is reported but trading continues.
	HardStop bool
}

// RiskGovernor tracks the daily equity watermarks and trips a sticky
// emergency stop when drawdown from the day's peak reaches the limit. The
// stop clears only on a new UTC day or a manual reset.
type RiskGovernor struct {
	capital EquitySource
	cfg     RiskConfig
	events  domain.EventPublisher
	logger  *slog.Logger
	now     func() time.Time

	stop atomic.Bool

	mu    sync.Mutex
	state domain.RiskState
}

// NewRiskGovernor creates a governor whose day starts at the current equity.
func NewRiskGovernor(capital EquitySource, cfg RiskConfig, events domain.EventPublisher, logger *slog.Logger) *RiskGovernor {
	if events == nil {
		events = domain.NopPublisher{}
	}
	g := &RiskGovernor{
		capital: capital,
		cfg:     cfg,
		events:  events,
		logger:  logger.With(slog.String("component", "risk_governor")),
		now:     time.Now,
	}
	g.resetLocked(g.now().UTC())
	return g
}

// WithClock replaces the time source. Intended for tests.
func (g *RiskGovernor) WithClock(now func() time.Time) *RiskGovernor {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	g.state.LastResetDate = now().UTC().Format(dayLayout)
	return g
}

// EmergencyStop reports whether the breaker is tripped.
func (g *RiskGovernor) EmergencyStop() bool {
	return g.stop.Load()
}

// BlocksAdmission reports whether new positions must be refused.
func (g *RiskGovernor) BlocksAdmission() bool {
	return g.cfg.HardStop && g.stop.Load()
}

// Observe rolls the trading day when the UTC date has changed since the last
// reset. It is called at the start of every scheduler tick and admission.
func (g *RiskGovernor) Observe(ctx context.Context) {
	g.mu.Lock()
	rolled := g.rollDayLocked()
	st := g.state
	g.mu.Unlock()

	if rolled {
		g.logger.InfoContext(ctx, "risk: new trading day",
			slog.String("date", st.LastResetDate),
			slog.String("equity", st.Equity.String()),
		)
		g.events.Emit(domain.EventRiskUpdate, st)
	}
}

// RecordClose books a realized PnL against the day and re-evaluates the
// breaker. The capital ledger must already reflect pnl.
func (g *RiskGovernor) RecordClose(pnl decimal.Decimal) {
	g.mu.Lock()
	g.rollDayLocked()

	eq := g.capital.Equity()
	st := &g.state
	st.Equity = eq
	st.DailyPnL = st.DailyPnL.Add(pnl)
	st.PeakEquity = decimal.Max(st.PeakEquity, eq)
	st.TroughEquity = decimal.Min(st.TroughEquity, eq)
	st.Drawdown = drawdown(st.PeakEquity, eq)
	st.UpdatedAt = g.now().UTC()

	tripped := false
	if st.Drawdown >= g.cfg.MaxDailyDrawdown && !st.EmergencyStop {
		at := st.UpdatedAt
		st.EmergencyStop = true
		st.StoppedAt = &at
		g.stop.Store(true)
		tripped = true
	}
	snap := *st
	g.mu.Unlock()

	if tripped {
		g.logger.Error("risk: emergency stop tripped",
			slog.Float64("drawdown", snap.Drawdown),
			slog.Float64("max", g.cfg.MaxDailyDrawdown),
			slog.String("peak", snap.PeakEquity.String()),
			slog.String("equity", snap.Equity.String()),
			slog.Bool("hard_stop", g.cfg.HardStop),
		)
		g.events.Emit(domain.EventEmergencyStop, snap)
	}
	g.events.Emit(domain.EventRiskUpdate, snap)
}

// DailyReset starts a new trading day at the current equity and clears the
// breaker.
func (g *RiskGovernor) DailyReset() {
	g.mu.Lock()
	g.resetLocked(g.now().UTC())
	snap := g.state
	g.mu.Unlock()
	g.events.Emit(domain.EventRiskUpdate, snap)
}

// ManualReset is an operator-initiated DailyReset.
func (g *RiskGovernor) ManualReset(ctx context.Context) {
	wasStopped := g.stop.Load()
	g.DailyReset()
	g.logger.WarnContext(ctx, "risk: manual reset", slog.Bool("was_stopped", wasStopped))
}

// State returns a copy of the current risk state.
func (g *RiskGovernor) State() domain.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state
	st.Equity = g.capital.Equity()
	return st
}

func (g *RiskGovernor) rollDayLocked() bool {
	now := g.now().UTC()
	if now.Format(dayLayout) == g.state.LastResetDate {
		return false
	}
	g.resetLocked(now)
	return true
}

func (g *RiskGovernor) resetLocked(now time.Time) {
	eq := g.capital.Equity()
	g.state = domain.RiskState{
		StartEquity:   eq,
		PeakEquity:    eq,
		TroughEquity:  eq,
		Equity:        eq,
		DailyPnL:      decimal.Zero,
		LastResetDate: now.Format(dayLayout),
		UpdatedAt:     now,
	}
	g.stop.Store(false)
}

func drawdown(peak, equity decimal.Decimal) float64 {
	if !peak.IsPositive() {
		return 0
	}
	return peak.Sub(equity).Div(peak).InexactFloat64()
}
