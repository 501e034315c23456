package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

const (
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = time.Minute
)

// Stream is one connection to a tick source. It returns when the connection
// drops or ctx is cancelled. *binance.WSClient implements it.
type Stream interface {
	OnTick(func(domain.PriceTick))
	Run(ctx context.Context) error
}

// MarkStream keeps a Stream connected, reconnecting with exponential backoff,
// and hands every tick to a PriceFeeder.
type MarkStream struct {
	newStream func() Stream
	feeder    *PriceFeeder
	logger    *slog.Logger
}

// NewMarkStream creates a MarkStream. newStream is called for every
// connection attempt.
func NewMarkStream(newStream func() Stream, feeder *PriceFeeder, logger *slog.Logger) *MarkStream {
	return &MarkStream{
		newStream: newStream,
		feeder:    feeder,
		logger:    logger.With(slog.String("component", "mark_stream")),
	}
}

// Run connects and reconnects until ctx is cancelled.
func (m *MarkStream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s := m.newStream()
		received := false
		s.OnTick(func(t domain.PriceTick) {
			received = true
			m.feeder.Handle(ctx, t)
		})
		m.logger.Info("mark stream connecting")
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = reconnectDelay
		}
		m.logger.Warn("mark stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func errString(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
