package domain

import (
	"context"
	"time"
)

// PositionStore persists positions together with their fill ledgers. Size and
// amount columns must round-trip integer amounts exactly.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	// Update replaces all mutable fields and appends any new ledger entries.
	// Existing ledger rows are never rewritten.
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpen(ctx context.Context) ([]Position, error)
	GetOpenByVenue(ctx context.Context, venue string) ([]Position, error)
	// FindOpenBySymbol returns open or created positions for an instrument
	// across all venues (rebuy prevention).
	FindOpenBySymbol(ctx context.Context, symbol string) ([]Position, error)
	CountActive(ctx context.Context) (int, error)
	CountActiveByVenue(ctx context.Context, venue string) (int, error)
	// ListClosedBefore returns closed positions whose closed_at is strictly
	// before the cutoff (archival).
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
	Delete(ctx context.Context, id string) error
}

// OrderStore persists submitted orders. Order updates mutate order metadata
// only; they never reach the position tables.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	GetByClientOrderID(ctx context.Context, clientOrderID string) (Order, error)
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	UpdateLimitPrice(ctx context.Context, id string, price float64) error
	ListByPosition(ctx context.Context, positionID string) ([]Order, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit trail of trading decisions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
