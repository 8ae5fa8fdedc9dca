package domain

import (
	"math/big"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// FillIntent is the declared purpose of an order, carried through to each of
// its fill events. Tagging intent at submission time removes the need to
// guess entry-vs-exit from the shape of the fill payload, which would
// misclassify a breakeven exit.
type FillIntent string

const (
	FillIntentEntry   FillIntent = "entry"
	FillIntentReduce  FillIntent = "reduce"
	FillIntentUnknown FillIntent = ""
)

// OrderStatus tracks the order lifecycle at the venue.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order represents an order submitted to an execution venue on behalf of a
// position.
type Order struct {
	ID            string
	ClientOrderID string
	PositionID    string
	Venue         string
	Symbol        string
	Side          OrderSide
	Intent        FillIntent
	Amount        *big.Int // exact integer units
	LimitPrice    float64  // 0 for market orders
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EntryRequest carries everything a venue needs to submit an opening order.
type EntryRequest struct {
	ClientOrderID string
	PositionID    string
	Symbol        string
	Side          OrderSide
	Amount        *big.Int
	Leverage      int
	StopLoss      float64
	TakeProfit    float64
}

// OrderHandle is the venue's acknowledgement of a submitted order.
type OrderHandle struct {
	OrderID       string
	ClientOrderID string
	Status        OrderStatus
}
