// Package notify forwards operator-relevant controller events to chat
// channels. Delivery is best effort: a failing channel is logged and never
// reaches the component that emitted the event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier renders controller events and fans them out to every Sender.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose kind is listed in kinds
// are forwarded; an empty list forwards every kind that has a renderer.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Kinds returns the event kinds the notifier should be subscribed to.
func (n *Notifier) Kinds() []domain.EventKind {
	out := make([]domain.EventKind, 0, len(n.kinds))
	for _, k := range domain.AllEventKinds {
		if n.allows(k) {
			if _, ok := renderers[k]; ok {
				out = append(out, k)
			}
		}
	}
	return out
}

func (n *Notifier) allows(kind domain.EventKind) bool {
	return len(n.kinds) == 0 || n.kinds[kind]
}

// HandleEvent renders ev and sends it. It has the events.Handler signature.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.Event) {
	if !n.allows(ev.Kind) {
		return
	}
	render, ok := renderers[ev.Kind]
	if !ok {
		return
	}
	title, msg, ok := render(ev.Payload)
	if !ok {
		n.logger.DebugContext(ctx, "unexpected payload", slog.String("kind", string(ev.Kind)))
		return
	}
	if err := n.Send(ctx, title, msg); err != nil {
		n.logger.WarnContext(ctx, "notification failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Send delivers a message to every sender. One sender failing does not stop
// delivery to the rest; the failures are joined.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

type renderer func(payload any) (title, message string, ok bool)

var renderers = map[domain.EventKind]renderer{
	domain.EventEmergencyStop:  renderEmergencyStop,
	domain.EventPositionOpened: renderOpened,
	domain.EventPositionClosed: renderClosed,
}

func renderEmergencyStop(payload any) (string, string, bool) {
	st, ok := payload.(domain.RiskState)
	if !ok {
		return "", "", false
	}
	return "Emergency stop",
		fmt.Sprintf("Drawdown %.2f%%, daily PnL %s, equity %s. Admission is halted until reset.",
			st.Drawdown*100, st.DailyPnL.StringFixed(2), st.Equity.StringFixed(2)),
		true
}

func renderOpened(payload any) (string, string, bool) {
	p, ok := payload.(domain.Position)
	if !ok {
		return "", "", false
	}
	return fmt.Sprintf("Opened %s %s", p.Side, p.Symbol),
		fmt.Sprintf("Size $%s at %g (qty %s, %s)", p.SizeUSD.StringFixed(2), p.EntryPrice, p.Quantity, p.Category),
		true
}

func renderClosed(payload any) (string, string, bool) {
	p, ok := payload.(domain.Position)
	if !ok {
		return "", "", false
	}
	return fmt.Sprintf("Closed %s %s", p.Side, p.Symbol),
		fmt.Sprintf("%s: PnL $%s (%g -> %g)", p.CloseReason, p.RealizedPnL.StringFixed(2), p.EntryPrice, p.ClosePrice),
		true
}
