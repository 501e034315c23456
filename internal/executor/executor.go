package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// Attempter opens positions for opportunities. *Coordinator implements it.
type Attempter interface {
	Attempt(ctx context.Context, opp domain.Opportunity) (Result, error)
}

// ConsumerConfig tunes the signal consumer.
type ConsumerConfig struct {
	BatchSize int
	// TTL is the maximum age of a signal when it is popped.
	TTL time.Duration
	// DedupTTL is how long a signal id is remembered after it is popped.
	DedupTTL time.Duration
	// CleanupInterval is how often Run prunes the dedup set.
	CleanupInterval time.Duration
}

// DrainStats counts what one Drain call did.
type DrainStats struct {
	Popped    int
	Expired   int
	Duplicate int
	Opened    int
	Rejected  int
	Failed    int
	Requeued  int
}

// SignalConsumer moves externally published signals into the opportunity
// queue and drains the queue through the coordinator. Ingest and Run accept
// raw JSON from the signal bus; Drain is the body of the signals loop.
type SignalConsumer struct {
	queue     domain.OpportunityQueue
	attempter Attempter
	events    domain.EventPublisher
	dedup     *Dedup
	cfg       ConsumerConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewSignalConsumer creates a SignalConsumer. events may be nil.
func NewSignalConsumer(
	queue domain.OpportunityQueue,
	attempter Attempter,
	events domain.EventPublisher,
	cfg ConsumerConfig,
	logger *slog.Logger,
) *SignalConsumer {
	if events == nil {
		events = domain.NopPublisher{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * cfg.TTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	return &SignalConsumer{
		queue:     queue,
		attempter: attempter,
		events:    events,
		dedup:     NewDedup(cfg.DedupTTL),
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "signal_consumer")),
	}
}

// WithClock replaces the clock used for ages and dedup.
func (s *SignalConsumer) WithClock(now func() time.Time) *SignalConsumer {
	s.now = now
	s.dedup.now = now
	return s
}

// Enqueue validates opp, fills in a missing id and timestamp and publishes it
// to the queue. It returns false when a better signal already holds the key.
func (s *SignalConsumer) Enqueue(ctx context.Context, opp domain.Opportunity) (domain.Opportunity, bool, error) {
	opp.Symbol = strings.ToUpper(strings.TrimSpace(opp.Symbol))
	opp.Action = domain.Action(strings.ToUpper(string(opp.Action)))
	if err := opp.Validate(); err != nil {
		return opp, false, err
	}
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	if opp.Timestamp.IsZero() {
		opp.Timestamp = s.now().UTC()
	}
	if opp.Score == 0 {
		opp.Score = opp.Confidence * opp.Consciousness * opp.Alignment
	}

	kept, err := s.queue.Publish(ctx, opp)
	if err != nil {
		return opp, false, fmt.Errorf("signal_consumer: publish %s: %w", opp.QueueKey(), err)
	}
	s.events.Emit(domain.EventSignal, opp)
	return opp, kept, nil
}

// Ingest decodes one JSON signal and enqueues it.
func (s *SignalConsumer) Ingest(ctx context.Context, payload []byte) error {
	var opp domain.Opportunity
	if err := json.Unmarshal(payload, &opp); err != nil {
		return fmt.Errorf("signal_consumer: decode: %w", err)
	}
	_, _, err := s.Enqueue(ctx, opp)
	return err
}

// Run ingests payloads from ch until ctx is cancelled or ch closes.
func (s *SignalConsumer) Run(ctx context.Context, ch <-chan []byte) error {
	s.logger.Info("signal ingest started")
	defer s.logger.Info("signal ingest stopped")

	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Ingest(ctx, payload); err != nil {
				s.logger.WarnContext(ctx, "signal dropped", slog.String("error", err.Error()))
			}

		case <-cleanup.C:
			s.dedup.Cleanup()
		}
	}
}

// Drain pops one batch and attempts every fresh, unseen signal in it.
// Signals whose order failed go back on the queue with a lower score until
// they expire.
func (s *SignalConsumer) Drain(ctx context.Context) (DrainStats, error) {
	var st DrainStats
	batch, err := s.queue.PopBatch(ctx, s.cfg.BatchSize)
	if err != nil {
		if errors.Is(err, domain.ErrQueueEmpty) {
			return st, nil
		}
		return st, fmt.Errorf("signal_consumer: pop: %w", err)
	}
	st.Popped = len(batch)

	now := s.now()
	for _, opp := range batch {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		log := s.logger.With(slog.String("symbol", opp.Symbol), slog.String("signal_id", opp.ID))

		if age := now.Sub(opp.Timestamp); age > s.cfg.TTL {
			st.Expired++
			log.DebugContext(ctx, "signal expired", slog.Duration("age", age))
			continue
		}
		if s.dedup.Seen(opp.ID) {
			st.Duplicate++
			log.DebugContext(ctx, "signal deduplicated")
			continue
		}

		_, err := s.attempter.Attempt(ctx, opp)
		switch {
		case err == nil:
			st.Opened++
		case errors.Is(err, domain.ErrAdmissionRejected),
			errors.Is(err, domain.ErrInsufficientFunds),
			errors.Is(err, domain.ErrControllerStopped):
			st.Rejected++
		default:
			st.Failed++
			s.dedup.Forget(opp.ID)
			if rqErr := s.queue.Requeue(ctx, opp, -0.1); rqErr != nil {
				log.WarnContext(ctx, "signal requeue failed", slog.String("error", rqErr.Error()))
			} else {
				st.Requeued++
			}
		}
	}

	if st.Popped > 0 {
		s.logger.DebugContext(ctx, "signal batch drained",
			slog.Int("popped", st.Popped),
			slog.Int("opened", st.Opened),
			slog.Int("rejected", st.Rejected),
			slog.Int("failed", st.Failed),
			slog.Int("expired", st.Expired),
		)
	}
	return st, nil
}

// Cleanup prunes the dedup set.
func (s *SignalConsumer) Cleanup() int {
	return s.dedup.Cleanup()
}
