package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/engine"
)

// PositionCounter reports active exposure counts per venue.
type PositionCounter interface {
	CountActive(ctx context.Context) (int, error)
	CountActiveByVenue(ctx context.Context, venue string) (int, error)
}

// StatusHandler serves the runtime status of the trading loop.
type StatusHandler struct {
	mode      string
	registry  *domain.VenueRegistry
	counter   PositionCounter
	sweep     *engine.SweepFlag
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, registry *domain.VenueRegistry, counter PositionCounter, sweep *engine.SweepFlag, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:     mode,
		registry: registry,
		counter:  counter,
		sweep:    sweep,
		logger:   logger,
	}
}

type venueStatus struct {
	Name            string `json:"name"`
	Priority        int    `json:"priority"`
	ActivePositions int    `json:"active_positions"`
}

// GetStatus responds with the operating mode, sweep flag, and per-venue
// position counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := h.counter.CountActive(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: status count failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count positions")
		return
	}

	venues := make([]venueStatus, 0)
	for _, b := range h.registry.All() {
		name := b.Venue.Name()
		n, err := h.counter.CountActiveByVenue(ctx, name)
		if err != nil {
			h.logger.ErrorContext(ctx, "handler: venue count failed",
				slog.String("venue", name),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to count positions")
			return
		}
		venues = append(venues, venueStatus{
			Name:            name,
			Priority:        b.Priority,
			ActivePositions: n,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":             h.mode,
		"close_all_active": h.sweep.Active(),
		"active_positions": total,
		"venues":           venues,
	})
}
