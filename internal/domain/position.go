package domain

import (
	"math/big"
	"time"
)

// PositionStatus tracks the position lifecycle. A position is created before
// any fill is confirmed, opens on the first entry fill, and closes when the
// remaining size reaches zero.
type PositionStatus string

const (
	PositionStatusCreated PositionStatus = "created"
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosed  PositionStatus = "closed"
)

// PositionKind distinguishes leveraged perpetual positions from plain spot
// holdings.
type PositionKind string

const (
	PositionKindPerp PositionKind = "perp"
	PositionKindSpot PositionKind = "spot"
)

// Direction is the exposure direction of a position. Spot positions have no
// direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = ""
)

// Opposite returns the reversed direction. DirectionNone maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

// AppliedFill is one ledger entry of a position: a fill that has already been
// reconciled into the position state. The ledger is append-only and is the
// source of truth for idempotent fill application.
type AppliedFill struct {
	FillID      string
	OrderID     string
	Size        float64
	Price       float64
	RealizedPnL float64
	Side        OrderSide
	Intent      FillIntent
	Timestamp   time.Time
}

// Position represents one open or historical leveraged trade. It is mutated
// exclusively by the fill reconciler and by position-closing code in the
// orchestrator; everything else reads it.
type Position struct {
	ID     string
	Venue  string
	Symbol string
	Kind   PositionKind

	// Direction is empty for spot positions.
	Direction Direction

	// Amount is the requested entry amount in exact integer units. Integer
	// precision is kept end to end so repeated partial fills cannot
	// accumulate rounding drift against the requested size.
	Amount *big.Int

	FilledSize    float64
	RemainingSize float64

	// EntryPrice is the size-weighted average over all entry fills. Exit
	// fills never alter it.
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64

	// RealizedPnL accrues on exit fills only and is never recomputed from
	// scratch.
	RealizedPnL float64
	Leverage    int

	Status        PositionStatus
	ExitRequested bool

	CreatedAt time.Time
	OpenedAt  *time.Time
	ClosedAt  *time.Time

	LastTrailAt *time.Time
	TrailCount  int

	Fills []AppliedFill
}

// HasFill reports whether a fill id is already present in the ledger.
func (p *Position) HasFill(fillID string) bool {
	for i := range p.Fills {
		if p.Fills[i].FillID == fillID {
			return true
		}
	}
	return false
}

// IsOpen reports whether the position still has exposure.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// UnrealizedPnL computes the mark-to-market PnL of the remaining size at the
// given price. Returns 0 when the position holds no exposure.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Status != PositionStatusOpen || p.RemainingSize <= 0 {
		return 0
	}
	switch p.Direction {
	case DirectionShort:
		return (p.EntryPrice - price) * p.RemainingSize
	default:
		return (price - p.EntryPrice) * p.RemainingSize
	}
}
