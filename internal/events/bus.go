// Package events fans controller events out to persistence, notifications,
// metrics and the dashboard without ever blocking the emitting component.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// DefaultCapacity is the per-kind buffer size.
const DefaultCapacity = 256

// drainTimeout bounds delivery of buffered events after shutdown.
const drainTimeout = 5 * time.Second

// Handler consumes one event. Handlers for the same kind run in emission
// order on a single goroutine.
type Handler func(ctx context.Context, ev domain.Event)

type subscription struct {
	name    string
	kinds   map[domain.EventKind]bool
	handler Handler
}

// Bus is a set of bounded channels, one per event kind. When a channel is
// full the oldest buffered event is dropped.
type Bus struct {
	queues  map[domain.EventKind]chan domain.Event
	dropped map[domain.EventKind]*atomic.Int64
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.RWMutex
	subs []subscription
}

// New creates a Bus for every kind in domain.AllEventKinds.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		queues:  make(map[domain.EventKind]chan domain.Event, len(domain.AllEventKinds)),
		dropped: make(map[domain.EventKind]*atomic.Int64, len(domain.AllEventKinds)),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "event_bus")),
	}
	for _, k := range domain.AllEventKinds {
		b.queues[k] = make(chan domain.Event, capacity)
		b.dropped[k] = new(atomic.Int64)
	}
	return b
}

// Subscribe registers h for kinds, or for every kind when none are given.
func (b *Bus) Subscribe(name string, h Handler, kinds ...domain.EventKind) {
	if len(kinds) == 0 {
		kinds = domain.AllEventKinds
	}
	set := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	b.mu.Lock()
	b.subs = append(b.subs, subscription{name: name, kinds: set, handler: h})
	b.mu.Unlock()
}

// Emit buffers an event. It never blocks.
func (b *Bus) Emit(kind domain.EventKind, payload any) {
	q, ok := b.queues[kind]
	if !ok {
		b.logger.Warn("unknown event kind", slog.String("kind", string(kind)))
		return
	}
	ev := domain.Event{Kind: kind, Time: b.now().UTC(), Payload: payload}
	for {
		select {
		case q <- ev:
			return
		default:
		}
		select {
		case <-q:
			b.dropped[kind].Add(1)
		default:
		}
	}
}

// Dropped returns how many events of kind were discarded.
func (b *Bus) Dropped(kind domain.EventKind) int64 {
	if c, ok := b.dropped[kind]; ok {
		return c.Load()
	}
	return 0
}

// Run dispatches events until ctx is cancelled, then delivers whatever is
// still buffered within a short grace period.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("event bus started")
	defer b.logger.Info("event bus stopped")

	var wg sync.WaitGroup
	for kind, q := range b.queues {
		wg.Add(1)
		go func(kind domain.EventKind, q chan domain.Event) {
			defer wg.Done()
			b.dispatchLoop(ctx, kind, q)
		}(kind, q)
	}
	wg.Wait()
	return nil
}

func (b *Bus) dispatchLoop(ctx context.Context, kind domain.EventKind, q chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()
			for {
				select {
				case ev := <-q:
					b.deliver(drainCtx, ev)
				default:
					return
				}
			}
		case ev := <-q:
			b.deliver(ctx, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.kinds[ev.Kind] {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						slog.String("handler", s.name),
						slog.String("kind", string(ev.Kind)),
						slog.Any("panic", r),
					)
				}
			}()
			s.handler(ctx, ev)
		}()
	}
}
