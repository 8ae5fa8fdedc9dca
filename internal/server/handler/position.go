package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// PositionService defines the read methods the position handler requires.
type PositionService interface {
	GetOpen(ctx context.Context) ([]domain.Position, error)
	GetByID(ctx context.Context, id string) (domain.Position, error)
}

// ExitService requests a manual exit through the trading loop.
type ExitService interface {
	RequestExit(ctx context.Context, positionID string) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	exits     ExitService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given services.
func NewPositionHandler(positions PositionService, exits ExitService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		exits:     exits,
		logger:    logger,
	}
}

// positionDTO is the wire representation of a position. The entry amount is
// rendered as a decimal string so integer precision survives JSON.
type positionDTO struct {
	ID            string  `json:"id"`
	Venue         string  `json:"venue"`
	Symbol        string  `json:"symbol"`
	Kind          string  `json:"kind"`
	Direction     string  `json:"direction,omitempty"`
	Amount        string  `json:"amount"`
	FilledSize    float64 `json:"filled_size"`
	RemainingSize float64 `json:"remaining_size"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Leverage      int     `json:"leverage"`
	Status        string  `json:"status"`
	ExitRequested bool    `json:"exit_requested"`
	TrailCount    int     `json:"trail_count"`
	CreatedAt     string  `json:"created_at"`
	OpenedAt      string  `json:"opened_at,omitempty"`
	ClosedAt      string  `json:"closed_at,omitempty"`
}

func toDTO(p domain.Position) positionDTO {
	dto := positionDTO{
		ID:            p.ID,
		Venue:         p.Venue,
		Symbol:        p.Symbol,
		Kind:          string(p.Kind),
		Direction:     string(p.Direction),
		FilledSize:    p.FilledSize,
		RemainingSize: p.RemainingSize,
		EntryPrice:    p.EntryPrice,
		CurrentPrice:  p.CurrentPrice,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		RealizedPnL:   p.RealizedPnL,
		Leverage:      p.Leverage,
		Status:        string(p.Status),
		ExitRequested: p.ExitRequested,
		TrailCount:    p.TrailCount,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.Amount != nil {
		dto.Amount = p.Amount.String()
	}
	if p.OpenedAt != nil {
		dto.OpenedAt = p.OpenedAt.UTC().Format(time.RFC3339)
	}
	if p.ClosedAt != nil {
		dto.ClosedAt = p.ClosedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

// ListPositions returns all open positions.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.GetOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := make([]positionDTO, 0, len(positions))
	for _, p := range positions {
		out = append(out, toDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// GetPosition returns one position by id.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(p))
}

// RequestExit flags a position for manual exit on the next monitor cycle.
// POST /api/positions/{id}/exit
func (h *PositionHandler) RequestExit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.exits.RequestExit(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrPositionClosed):
			writeError(w, http.StatusConflict, "position already closed")
		default:
			h.logger.ErrorContext(r.Context(), "handler: request exit failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to request exit")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "exit requested", "position_id": id})
}
