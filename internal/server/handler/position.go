package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// PositionView reads the position ledger.
type PositionView interface {
	Active() []domain.Position
	History(limit int) []domain.ExecutionRecord
}

// Closer closes a position through the execution coordinator.
type Closer interface {
	ClosePosition(ctx context.Context, symbol string, reason domain.CloseReason) (domain.ExecutionRecord, bool, error)
}

// MarkSource prices open positions.
type MarkSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// PositionHandler serves open positions, closed history and manual closes.
type PositionHandler struct {
	ledger  PositionView
	closer  Closer
	marks   MarkSource
	history domain.HistoryStore
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler. marks and history may be
// nil; without a history store the ledger's in-memory history is served.
func NewPositionHandler(ledger PositionView, closer Closer, marks MarkSource, history domain.HistoryStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		ledger:  ledger,
		closer:  closer,
		marks:   marks,
		history: history,
		logger:  logger.With(slog.String("handler", "positions")),
	}
}

type positionView struct {
	domain.Position
	MarkPrice     float64          `json:"mark_price,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"`
}

// ListPositions returns every active position with its mark-to-market PnL
// when a price is available.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	active := h.ledger.Active()
	out := make([]positionView, 0, len(active))
	for _, p := range active {
		v := positionView{Position: p}
		if h.marks != nil {
			if price, err := h.marks.MarkPrice(r.Context(), p.Symbol); err == nil && price > 0 {
				pnl := p.UnrealizedPnL(price)
				v.MarkPrice, v.UnrealizedPnL = price, &pnl
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// ListHistory returns closed trades, newest first.
// GET /api/positions/history?limit=&offset=
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if h.history == nil {
		recs := h.ledger.History(opts.Limit + opts.Offset)
		if opts.Offset >= len(recs) {
			recs = nil
		} else {
			recs = recs[opts.Offset:]
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": nonNil(recs)})
		return
	}
	recs, err := h.history.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": nonNil(recs)})
}

// ClosePosition closes the active position on symbol with reason MANUAL.
// POST /api/positions/{symbol}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if !h.isActive(symbol) {
		writeError(w, http.StatusNotFound, "no active position for "+symbol)
		return
	}
	rec, closed, err := h.closer.ClosePosition(r.Context(), symbol, domain.CloseManual)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !closed {
		writeError(w, http.StatusConflict, "position is already closing")
		return
	}
	h.logger.InfoContext(r.Context(), "manual close",
		slog.String("symbol", symbol),
		slog.String("pnl", rec.RealizedPnL.String()),
	)
	writeJSON(w, http.StatusOK, rec)
}

func (h *PositionHandler) isActive(symbol string) bool {
	for _, p := range h.ledger.Active() {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

func nonNil(recs []domain.ExecutionRecord) []domain.ExecutionRecord {
	if recs == nil {
		return []domain.ExecutionRecord{}
	}
	return recs
}
