package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// SweepService toggles the global close-all override.
type SweepService interface {
	SetCloseAll(ctx context.Context, active bool)
}

// ControlHandler serves operator control endpoints.
type ControlHandler struct {
	sweep  SweepService
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(sweep SweepService, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{sweep: sweep, logger: logger}
}

type closeAllRequest struct {
	Active *bool `json:"active"`
}

// CloseAll toggles the close-all sweep. An empty body activates the sweep;
// {"active": false} deactivates it.
// POST /api/close-all
func (h *ControlHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	active := true

	var req closeAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Active != nil {
		active = *req.Active
	}

	h.sweep.SetCloseAll(r.Context(), active)
	h.logger.InfoContext(r.Context(), "close-all toggled", slog.Bool("active", active))

	writeJSON(w, http.StatusOK, map[string]any{"close_all_active": active})
}
