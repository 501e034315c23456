package handler

import (
	"net/http"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/scheduler"
)

// Controller is the part of the scheduler.Controller the API drives.
type Controller interface {
	Status() scheduler.Status
	Pause()
	Resume()
}

// StatusHandler serves the controller status and the pause switch.
type StatusHandler struct {
	ctrl Controller
	mode string
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(ctrl Controller, mode string) *StatusHandler {
	return &StatusHandler{ctrl: ctrl, mode: mode}
}

type statusResponse struct {
	Mode string `json:"mode"`
	scheduler.Status
}

// GetStatus returns the mode, loop state and task statistics.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Mode: h.mode, Status: h.ctrl.Status()})
}

// Pause stops admission of new positions. Monitoring continues.
// POST /api/controller/pause
func (h *StatusHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Resume re-enables admission.
// POST /api/controller/resume
func (h *StatusHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}
