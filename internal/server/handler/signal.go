package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// Enqueuer accepts external signals.
type Enqueuer interface {
	Enqueue(ctx context.Context, opp domain.Opportunity) (domain.Opportunity, bool, error)
}

// QueueView inspects the opportunity queue without consuming it.
type QueueView interface {
	Peek(ctx context.Context, n int) ([]domain.Opportunity, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// SignalHandler publishes and lists queued signals.
type SignalHandler struct {
	consumer Enqueuer
	queue    QueueView
	logger   *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(consumer Enqueuer, queue QueueView, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		consumer: consumer,
		queue:    queue,
		logger:   logger.With(slog.String("handler", "signals")),
	}
}

// PublishSignal enqueues one signal. kept is false when a better signal
// already holds the same key.
// POST /api/signals
func (h *SignalHandler) PublishSignal(w http.ResponseWriter, r *http.Request) {
	var opp domain.Opportunity
	if err := decodeJSON(w, r, &opp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opp, kept, err := h.consumer.Enqueue(r.Context(), opp)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.DebugContext(r.Context(), "signal enqueued",
		slog.String("opportunity_id", opp.ID),
		slog.String("key", opp.QueueKey()),
		slog.Bool("kept", kept),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{"signal": opp, "kept": kept})
}

// ListSignals returns the best queued signals and the queue counters.
// GET /api/signals?limit=
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	opps, err := h.queue.Peek(r.Context(), opts.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": opps, "stats": stats})
}
