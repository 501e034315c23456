package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/service"
)

// CapitalView reads the capital ledger.
type CapitalView interface {
	Snapshot() domain.CapitalSnapshot
}

// ExposureView reads the exposure tracker.
type ExposureView interface {
	Snapshot() service.ExposureSnapshot
}

// RiskControl reads and resets the risk governor.
type RiskControl interface {
	State() domain.RiskState
	ManualReset(ctx context.Context)
}

// AccountHandler serves capital, exposure and risk state.
type AccountHandler struct {
	capital  CapitalView
	exposure ExposureView
	risk     RiskControl
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(capital CapitalView, exposure ExposureView, risk RiskControl, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		capital:  capital,
		exposure: exposure,
		risk:     risk,
		logger:   logger.With(slog.String("handler", "account")),
	}
}

type capitalResponse struct {
	Capital  domain.CapitalSnapshot   `json:"capital"`
	Exposure service.ExposureSnapshot `json:"exposure"`
}

// GetCapital returns the ledger balances and the exposure per symbol and
// category.
// GET /api/capital
func (h *AccountHandler) GetCapital(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, capitalResponse{
		Capital:  h.capital.Snapshot(),
		Exposure: h.exposure.Snapshot(),
	})
}

// GetRisk returns the risk governor state.
// GET /api/risk
func (h *AccountHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.risk.State())
}

// ResetRisk clears the emergency stop and restarts the daily watermarks.
// POST /api/risk/reset
func (h *AccountHandler) ResetRisk(w http.ResponseWriter, r *http.Request) {
	before := h.risk.State()
	h.risk.ManualReset(r.Context())
	h.logger.WarnContext(r.Context(), "risk governor reset by operator",
		slog.Bool("was_stopped", before.EmergencyStop),
		slog.Float64("drawdown", before.Drawdown),
	)
	writeJSON(w, http.StatusOK, h.risk.State())
}
