package hyperbit

import (
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// instrumentInfo is one entry of the GET /v1/instruments response.
type instrumentInfo struct {
	Symbol      string `json:"symbol"`
	Kind        string `json:"kind"` // "perp" or "spot"
	Status      string `json:"status"`
	MaxLeverage int    `json:"max_leverage"`
}

// orderRequest is the POST /v1/orders payload.
type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"` // "market" or "limit"
	Amount        string  `json:"amount,omitempty"`
	Size          float64 `json:"size,omitempty"`
	Leverage      int     `json:"leverage,omitempty"`
	ReduceOnly    bool    `json:"reduce_only"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`

	// Intent is echoed back on every fill of this order.
	Intent string `json:"intent"`
}

// orderResponse is the order acknowledgement.
type orderResponse struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	ErrorMsg      string `json:"error_msg"`
}

func (r orderResponse) toHandle() domain.OrderHandle {
	return domain.OrderHandle{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Status:        orderStatusFromAPI(r.Status),
	}
}

func orderStatusFromAPI(s string) domain.OrderStatus {
	switch s {
	case "open", "accepted":
		return domain.OrderStatusOpen
	case "filled":
		return domain.OrderStatusFilled
	case "cancelled":
		return domain.OrderStatusCancelled
	case "rejected", "failed":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusPending
	}
}

// wsCommand is an outbound websocket frame.
type wsCommand struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// wsEnvelope is an inbound websocket frame. Type selects which payload field
// is populated.
type wsEnvelope struct {
	Type  string           `json:"type"` // "fill", "order_update", "ack", "heartbeat"
	Fill  *fillMessage     `json:"fill,omitempty"`
	Order *orderUpdateBody `json:"order,omitempty"`
}

type fillMessage struct {
	FillID      string  `json:"fill_id"`
	OrderID     string  `json:"order_id"`
	PositionID  string  `json:"position_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	Price       float64 `json:"price"`
	RealizedPnL float64 `json:"realized_pnl"`
	Intent      string  `json:"intent"`
	Timestamp   int64   `json:"timestamp_ms"`
}

func (m fillMessage) toDomain() domain.FillEvent {
	return domain.FillEvent{
		Venue:       VenueName,
		PositionID:  m.PositionID,
		OrderID:     m.OrderID,
		FillID:      m.FillID,
		Symbol:      m.Symbol,
		Size:        m.Size,
		Price:       m.Price,
		RealizedPnL: m.RealizedPnL,
		Side:        domain.OrderSide(m.Side),
		Intent:      domain.FillIntent(m.Intent),
		Timestamp:   time.UnixMilli(m.Timestamp).UTC(),
	}
}

type orderUpdateBody struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	PositionID    string  `json:"position_id"`
	LimitPrice    float64 `json:"limit_price"`
	Status        string  `json:"status"`
	Timestamp     int64   `json:"timestamp_ms"`
}

func (m orderUpdateBody) toDomain() domain.OrderUpdate {
	return domain.OrderUpdate{
		Venue:         VenueName,
		OrderID:       m.OrderID,
		ClientOrderID: m.ClientOrderID,
		PositionID:    m.PositionID,
		LimitPrice:    m.LimitPrice,
		Status:        orderStatusFromAPI(m.Status),
		Timestamp:     time.UnixMilli(m.Timestamp).UTC(),
	}
}
