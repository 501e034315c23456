// Package metrics exposes controller counters and gauges to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/executor"
)

// Sources are read on every scrape. Any field may be nil.
type Sources struct {
	Capital       func() domain.CapitalSnapshot
	OpenPositions func() int
	EventsDropped func() float64
}

// Metrics holds the controller collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	admissions      *prometheus.CounterVec
	execFailures    prometheus.Counter
	positionsOpened prometheus.Counter
	positionsClosed *prometheus.CounterVec
	realizedPnL     prometheus.Counter
	signals         prometheus.Counter
	drawdown        prometheus.Gauge
	emergencyStop   prometheus.Gauge
	equity          prometheus.Gauge
}

// New registers every collector, including scrape-time gauges over src.
func New(src Sources) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qbtc_admissions_total",
			Help: "Admission decisions by result and reason.",
		}, []string{"result", "reason"}),
		execFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qbtc_execution_failures_total",
			Help: "Entry orders that failed after admission.",
		}),
		positionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qbtc_positions_opened_total",
			Help: "Positions opened.",
		}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qbtc_positions_closed_total",
			Help: "Positions closed by reason.",
		}, []string{"reason"}),
		realizedPnL: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qbtc_realized_profit_usd_total",
			Help: "Sum of positive realized PnL in USD.",
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qbtc_signals_received_total",
			Help: "External signals accepted into the queue.",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qbtc_drawdown_ratio",
			Help: "Drawdown from the daily peak equity.",
		}),
		emergencyStop: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qbtc_emergency_stop",
			Help: "1 while the drawdown breaker is tripped.",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qbtc_equity_usd",
			Help: "Equity at the last risk observation.",
		}),
	}
	m.reg.MustRegister(
		m.admissions, m.execFailures, m.positionsOpened, m.positionsClosed,
		m.realizedPnL, m.signals, m.drawdown, m.emergencyStop, m.equity,
	)

	if src.Capital != nil {
		capital := func(pick func(domain.CapitalSnapshot) float64) func() float64 {
			return func() float64 { return pick(src.Capital()) }
		}
		m.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "qbtc_capital_available_usd", Help: "Capital free to reserve."},
				capital(func(s domain.CapitalSnapshot) float64 { return s.Available.InexactFloat64() })),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "qbtc_capital_reserved_usd", Help: "Capital reserved by open positions."},
				capital(func(s domain.CapitalSnapshot) float64 { return s.Reserved.InexactFloat64() })),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "qbtc_capital_total_usd", Help: "Total capital."},
				capital(func(s domain.CapitalSnapshot) float64 { return s.Total.InexactFloat64() })),
		)
	}
	if src.OpenPositions != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "qbtc_open_positions",
			Help: "Positions currently open.",
		}, func() float64 { return float64(src.OpenPositions()) }))
	}
	if src.EventsDropped != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "qbtc_events_dropped_total",
			Help: "Events dropped because a subscriber fell behind.",
		}, src.EventsDropped))
	}
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// HandleEvent updates counters from a controller event. It has the
// events.Handler signature.
func (m *Metrics) HandleEvent(_ context.Context, ev domain.Event) {
	switch p := ev.Payload.(type) {
	case domain.Decision:
		m.observeDecision(p)
	case domain.Position:
		switch ev.Kind {
		case domain.EventPositionOpened:
			m.positionsOpened.Inc()
		case domain.EventPositionClosed:
			m.positionsClosed.WithLabelValues(string(p.CloseReason)).Inc()
			if p.RealizedPnL.IsPositive() {
				m.realizedPnL.Add(p.RealizedPnL.InexactFloat64())
			}
		}
	case domain.RiskState:
		m.drawdown.Set(p.Drawdown)
		m.equity.Set(p.Equity.InexactFloat64())
		if p.EmergencyStop {
			m.emergencyStop.Set(1)
		} else {
			m.emergencyStop.Set(0)
		}
	case domain.Opportunity:
		if ev.Kind == domain.EventSignal {
			m.signals.Inc()
		}
	}
}

func (m *Metrics) observeDecision(d domain.Decision) {
	if d.Admitted {
		m.admissions.WithLabelValues("admitted", "").Inc()
		return
	}
	if d.Reason == executor.ReasonExecutionFailed {
		m.execFailures.Inc()
		m.admissions.WithLabelValues("failed", d.Reason).Inc()
		return
	}
	m.admissions.WithLabelValues("rejected", reasonLabel(d.Reason)).Inc()
}

var knownReasons = map[string]bool{
	string(domain.RejectBreaker):      true,
	string(domain.RejectSymbolHeld):   true,
	string(domain.RejectMaxPositions): true,
	string(domain.RejectThresholds):   true,
	string(domain.RejectNoDirection):  true,
	string(domain.RejectExposure):     true,
	string(domain.RejectPaused):       true,
	string(domain.RejectZeroSize):     true,
}

// reasonLabel keeps label cardinality bounded: free-text reasons collapse to
// "other".
func reasonLabel(reason string) string {
	if knownReasons[reason] {
		return reason
	}
	return "other"
}
