package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/metrics"
)

// positionEventsChannel is the bus channel for position lifecycle events.
const positionEventsChannel = "positions"

// Reconciler applies fill and order-update notifications to authoritative
// position state. It is the only writer of position records.
//
// Fills for the same position are serialized through a per-position mutex so
// the read-modify-write of filled size, weighted entry price, and realized
// PnL cannot race under concurrent delivery. Fills for different positions
// proceed concurrently.
type Reconciler struct {
	positions domain.PositionStore
	orders    domain.OrderStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	metrics   *metrics.Metrics
	logger    *slog.Logger

	locks *PositionLocks
}

// NewReconciler creates a Reconciler. bus and audit may be nil (paper mode).
func NewReconciler(
	positions domain.PositionStore,
	orders domain.OrderStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		positions: positions,
		orders:    orders,
		bus:       bus,
		audit:     audit,
		metrics:   m,
		logger:    logger.With(slog.String("component", "reconciler")),
		locks:     NewPositionLocks(),
	}
}

// Locks exposes the per-position lock table so every other position writer
// (trailing, manual exit flagging) shares the reconciler's critical section.
func (r *Reconciler) Locks() *PositionLocks {
	return r.locks
}

// ApplyFill reconciles one fill event into its position. Duplicate fill ids
// are absorbed as no-ops via the ledger membership check, so at-least-once
// delivery from the venue stream is safe.
func (r *Reconciler) ApplyFill(ctx context.Context, ev domain.FillEvent) error {
	if ev.PositionID == "" {
		return fmt.Errorf("reconciler: fill %s: missing position id", ev.FillID)
	}
	if ev.Size <= 0 {
		return fmt.Errorf("reconciler: fill %s: %w: non-positive size", ev.FillID, domain.ErrInvalidOrder)
	}

	unlock := r.locks.Lock(ev.PositionID)
	defer unlock()

	pos, err := r.positions.GetByID(ctx, ev.PositionID)
	if err != nil {
		return fmt.Errorf("reconciler: get position %s: %w", ev.PositionID, err)
	}

	if pos.HasFill(ev.FillID) {
		r.metrics.DuplicateFills.Inc()
		r.logger.DebugContext(ctx, "duplicate fill dropped",
			slog.String("position_id", pos.ID),
			slog.String("fill_id", ev.FillID),
		)
		return nil
	}

	if pos.Status == domain.PositionStatusClosed {
		r.logger.WarnContext(ctx, "fill for closed position rejected",
			slog.String("position_id", pos.ID),
			slog.String("fill_id", ev.FillID),
		)
		return fmt.Errorf("reconciler: fill %s for position %s: %w", ev.FillID, pos.ID, domain.ErrPositionClosed)
	}

	var event string
	if ev.IsExit() {
		event = r.applyExitFill(&pos, ev)
	} else {
		event = r.applyEntryFill(&pos, ev)
	}

	pos.Fills = append(pos.Fills, domain.AppliedFill{
		FillID:      ev.FillID,
		OrderID:     ev.OrderID,
		Size:        ev.Size,
		Price:       ev.Price,
		RealizedPnL: ev.RealizedPnL,
		Side:        ev.Side,
		Intent:      ev.Intent,
		Timestamp:   ev.Timestamp,
	})

	if err := r.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("reconciler: update position %s: %w", pos.ID, err)
	}

	r.metrics.FillsApplied.Inc()
	r.publish(ctx, event, pos, ev)

	r.logger.InfoContext(ctx, "fill applied",
		slog.String("position_id", pos.ID),
		slog.String("fill_id", ev.FillID),
		slog.String("event", event),
		slog.Float64("size", ev.Size),
		slog.Float64("price", ev.Price),
		slog.Float64("filled", pos.FilledSize),
		slog.Float64("remaining", pos.RemainingSize),
	)
	return nil
}

// applyEntryFill folds an entry fill into the weighted entry price and
// transitions CREATED positions to OPEN on the first fill.
func (r *Reconciler) applyEntryFill(pos *domain.Position, ev domain.FillEvent) string {
	newFilled := pos.FilledSize + ev.Size
	pos.EntryPrice = (pos.FilledSize*pos.EntryPrice + ev.Size*ev.Price) / newFilled
	pos.FilledSize = newFilled
	pos.RemainingSize += ev.Size

	event := "position_fill"
	if pos.Status == domain.PositionStatusCreated {
		pos.Status = domain.PositionStatusOpen
		event = "position_opened"
		r.metrics.PositionsOpened.Inc()
	}
	if pos.OpenedAt == nil {
		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		pos.OpenedAt = &at
	}
	return event
}

// applyExitFill reduces the remaining size, accrues realized PnL, and closes
// the position when nothing remains. Remaining size never goes negative.
func (r *Reconciler) applyExitFill(pos *domain.Position, ev domain.FillEvent) string {
	remaining := pos.RemainingSize - ev.Size
	if remaining < 0 {
		remaining = 0
	}
	pos.RemainingSize = remaining
	pos.RealizedPnL += ev.RealizedPnL

	if remaining == 0 {
		pos.Status = domain.PositionStatusClosed
		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		pos.ClosedAt = &at
		r.metrics.PositionsClosed.Inc()
		return "position_closed"
	}
	return "position_reduced"
}

// ApplyOrderUpdate applies a non-fill order notification. It touches order
// metadata only, never position state.
func (r *Reconciler) ApplyOrderUpdate(ctx context.Context, up domain.OrderUpdate) error {
	var (
		order domain.Order
		err   error
	)
	switch {
	case up.OrderID != "":
		order, err = r.orders.GetByID(ctx, up.OrderID)
	case up.ClientOrderID != "":
		order, err = r.orders.GetByClientOrderID(ctx, up.ClientOrderID)
	default:
		return fmt.Errorf("reconciler: order update without order id")
	}
	if err != nil {
		return fmt.Errorf("reconciler: lookup order for update: %w", err)
	}

	if up.Status != "" && up.Status != order.Status {
		if err := r.orders.UpdateStatus(ctx, order.ID, up.Status); err != nil {
			return fmt.Errorf("reconciler: update order %s status: %w", order.ID, err)
		}
	}
	if up.LimitPrice > 0 && up.LimitPrice != order.LimitPrice {
		if err := r.orders.UpdateLimitPrice(ctx, order.ID, up.LimitPrice); err != nil {
			return fmt.Errorf("reconciler: update order %s limit price: %w", order.ID, err)
		}
	}
	return nil
}

// publish emits the lifecycle event to the signal bus and audit trail.
// Failures are logged, never propagated: bookkeeping already succeeded.
func (r *Reconciler) publish(ctx context.Context, event string, pos domain.Position, ev domain.FillEvent) {
	detail := map[string]any{
		"position_id":  pos.ID,
		"venue":        pos.Venue,
		"symbol":       pos.Symbol,
		"fill_id":      ev.FillID,
		"size":         ev.Size,
		"price":        ev.Price,
		"entry_price":  pos.EntryPrice,
		"remaining":    pos.RemainingSize,
		"realized_pnl": pos.RealizedPnL,
	}

	if r.bus != nil {
		payload, _ := json.Marshal(map[string]any{"event": event, "detail": detail})
		if err := r.bus.Publish(ctx, positionEventsChannel, payload); err != nil {
			r.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.audit != nil {
		if err := r.audit.Log(ctx, event, detail); err != nil {
			r.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
