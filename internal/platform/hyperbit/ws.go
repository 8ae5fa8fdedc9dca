package hyperbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leverbot/leverbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// FillStream is the websocket source for Hyperbit execution events. It
// implements feed.Source: the feed layer owns reconnection, this type owns
// one connection at a time including keep-alive and subscription replay.
type FillStream struct {
	cfg Config

	mu       sync.Mutex
	conn     *websocket.Conn
	stopPing chan struct{}
}

// NewFillStream creates a fill stream for the configured account.
func NewFillStream(cfg Config) *FillStream {
	return &FillStream{cfg: cfg}
}

// Connect dials the websocket endpoint, authenticates, and subscribes to the
// fills channel. Safe to call again after a disconnect.
func (s *FillStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("hyperbit/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.conn = conn
	s.stopPing = make(chan struct{})
	go s.pingLoop(conn, s.stopPing)

	// Authenticate and subscribe; replayed on every reconnect.
	for _, cmd := range []wsCommand{
		{Op: "auth", APIKey: s.cfg.APIKey},
		{Op: "subscribe", Channel: "fills"},
		{Op: "subscribe", Channel: "orders"},
	} {
		if err := s.sendLocked(cmd); err != nil {
			s.teardownLocked()
			return fmt.Errorf("hyperbit/ws: %s: %w", cmd.Op, err)
		}
	}
	return nil
}

// Next blocks for the next fill or order-update event, skipping heartbeats
// and acks.
func (s *FillStream) Next(ctx context.Context) (domain.StreamEvent, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return domain.StreamEvent{}, fmt.Errorf("hyperbit/ws: %w", domain.ErrStreamDisconnected)
	}

	for {
		if err := ctx.Err(); err != nil {
			return domain.StreamEvent{}, err
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return domain.StreamEvent{}, fmt.Errorf("hyperbit/ws: read: %w", err)
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frames are skipped, not fatal to the connection.
			continue
		}

		switch env.Type {
		case "fill":
			if env.Fill == nil {
				continue
			}
			fill := env.Fill.toDomain()
			return domain.StreamEvent{Fill: &fill}, nil
		case "order_update":
			if env.Order == nil {
				continue
			}
			up := env.Order.toDomain()
			return domain.StreamEvent{OrderUpdate: &up}, nil
		default:
			// heartbeat, ack
		}
	}
}

// Close tears down the current connection.
func (s *FillStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

func (s *FillStream) teardownLocked() {
	if s.stopPing != nil {
		close(s.stopPing)
		s.stopPing = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *FillStream) sendLocked(cmd wsCommand) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(cmd)
}

// pingLoop keeps the connection alive until stop is closed.
func (s *FillStream) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != conn {
				s.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
