package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// StreamName is the durable stream every event is appended to.
const StreamName = "stream:events"

// Channel returns the pub/sub channel for kind.
func Channel(kind domain.EventKind) string {
	return "events:" + string(kind)
}

// BusBridge republishes events on a SignalBus so other processes and
// dashboards can follow the controller.
func BusBridge(bus domain.SignalBus, logger *slog.Logger) Handler {
	log := logger.With(slog.String("component", "event_bridge"))
	return func(ctx context.Context, ev domain.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Warn("event encode failed", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
			return
		}
		if err := bus.Publish(ctx, Channel(ev.Kind), data); err != nil {
			log.Warn("event publish failed", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
		}
		if err := bus.StreamAppend(ctx, StreamName, data); err != nil {
			log.Warn("event stream append failed", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
		}
	}
}
