package events

import (
	"context"
	"log/slog"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// Stores are the persistence targets. Any field may be nil.
type Stores struct {
	Positions domain.PositionStore
	History   domain.HistoryStore
	Risk      domain.RiskSnapshotStore
	Audit     domain.AuditStore
}

// PersistKinds are the kinds Persister handles.
var PersistKinds = []domain.EventKind{
	domain.EventPositionOpened,
	domain.EventPositionClosed,
	domain.EventRiskUpdate,
	domain.EventEmergencyStop,
}

// Persister writes position, history, risk and audit rows from events.
// Store errors are logged; the in-memory ledger stays authoritative.
type Persister struct {
	stores Stores
	logger *slog.Logger
}

// NewPersister creates a Persister.
func NewPersister(stores Stores, logger *slog.Logger) *Persister {
	return &Persister{stores: stores, logger: logger.With(slog.String("component", "persister"))}
}

// Handle has the Handler signature.
func (p *Persister) Handle(ctx context.Context, ev domain.Event) {
	switch payload := ev.Payload.(type) {
	case domain.Position:
		switch ev.Kind {
		case domain.EventPositionOpened:
			p.opened(ctx, payload)
		case domain.EventPositionClosed:
			p.closed(ctx, payload)
		}
	case domain.RiskState:
		if p.stores.Risk != nil {
			p.check(ctx, "save risk snapshot", p.stores.Risk.Save(ctx, payload))
		}
		if ev.Kind == domain.EventEmergencyStop {
			p.audit(ctx, "risk.emergency_stop", map[string]any{
				"drawdown":  payload.Drawdown,
				"equity":    payload.Equity.String(),
				"daily_pnl": payload.DailyPnL.String(),
			})
		}
	}
}

func (p *Persister) opened(ctx context.Context, pos domain.Position) {
	if p.stores.Positions != nil {
		p.check(ctx, "create position", p.stores.Positions.Create(ctx, pos), slog.String("position_id", pos.ID))
	}
	p.audit(ctx, "position.opened", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"size_usd":    pos.SizeUSD.String(),
		"entry_price": pos.EntryPrice,
		"order_id":    pos.OrderID,
	})
}

func (p *Persister) closed(ctx context.Context, pos domain.Position) {
	if p.stores.Positions != nil {
		p.check(ctx, "close position", p.stores.Positions.Close(ctx, pos), slog.String("position_id", pos.ID))
	}
	if p.stores.History != nil {
		p.check(ctx, "append history", p.stores.History.Append(ctx, pos.Record()), slog.String("position_id", pos.ID))
	}
	p.audit(ctx, "position.closed", map[string]any{
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"reason":       string(pos.CloseReason),
		"close_price":  pos.ClosePrice,
		"realized_pnl": pos.RealizedPnL.String(),
	})
}

func (p *Persister) audit(ctx context.Context, event string, detail map[string]any) {
	if p.stores.Audit != nil {
		p.check(ctx, "audit "+event, p.stores.Audit.Log(ctx, event, detail))
	}
}

func (p *Persister) check(ctx context.Context, op string, err error, attrs ...slog.Attr) {
	if err == nil {
		return
	}
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("error", err.Error()))
	for _, a := range attrs {
		args = append(args, a)
	}
	p.logger.WarnContext(ctx, op+" failed", args...)
}
