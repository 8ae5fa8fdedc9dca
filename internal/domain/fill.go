package domain

import "time"

// FillEvent is one fill notification delivered by a venue's execution
// channel. Delivery is at-least-once and unordered: events may arrive
// duplicated, partial, or out of order, and the reconciler must absorb all
// three.
type FillEvent struct {
	Venue      string
	PositionID string
	OrderID    string
	FillID     string
	Symbol     string
	Size       float64
	Price      float64

	// RealizedPnL is the venue-reported PnL contribution of this fill. Only
	// reduce fills carry a meaningful value.
	RealizedPnL float64

	Side OrderSide

	// Intent is the tag threaded through from the originating order. Venues
	// that do not echo it leave it unknown and the reconciler falls back to
	// the PnL-field heuristic.
	Intent FillIntent

	Timestamp time.Time
}

// IsExit classifies the fill. The explicit intent tag wins; the non-zero PnL
// heuristic is only a fallback and misclassifies breakeven exits, which is
// why orders carry the tag in the first place.
func (f FillEvent) IsExit() bool {
	switch f.Intent {
	case FillIntentReduce:
		return true
	case FillIntentEntry:
		return false
	default:
		return f.RealizedPnL != 0
	}
}

// OrderUpdate is a non-fill order notification: a limit price change, a
// client-order-id echo, or a status transition. Order updates never touch
// position state.
type OrderUpdate struct {
	Venue         string
	OrderID       string
	ClientOrderID string
	PositionID    string
	LimitPrice    float64
	Status        OrderStatus
	Timestamp     time.Time
}

// StreamEvent is one message from a venue's execution channel, carrying
// either a fill or an order update.
type StreamEvent struct {
	Fill        *FillEvent
	OrderUpdate *OrderUpdate
}

// Key returns the serialization key for dispatch: events for the same
// position must be processed in sequence, events for different positions may
// run concurrently.
func (e StreamEvent) Key() string {
	switch {
	case e.Fill != nil && e.Fill.PositionID != "":
		return e.Fill.PositionID
	case e.Fill != nil:
		return e.Fill.OrderID
	case e.OrderUpdate != nil && e.OrderUpdate.PositionID != "":
		return e.OrderUpdate.PositionID
	case e.OrderUpdate != nil:
		return e.OrderUpdate.OrderID
	default:
		return ""
	}
}
