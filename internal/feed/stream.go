// Package feed drives venue execution streams: it owns the reconnect state
// machine for the websocket fill channel and the dispatcher that serializes
// events per position before they reach the reconciler.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/metrics"
)

// ConnState is the execution-stream connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name for logs and the status API.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Source is the transport behind a Stream: it dials the venue, replays
// subscriptions, and yields one event per Next call. Implementations live in
// the venue adapters.
type Source interface {
	// Connect dials and re-establishes any subscriptions. Called again after
	// every disconnect.
	Connect(ctx context.Context) error
	// Next blocks for the next event. A transport error ends the current
	// connection and triggers a reconnect.
	Next(ctx context.Context) (domain.StreamEvent, error)
	Close() error
}

// StreamConfig controls the reconnect behavior.
type StreamConfig struct {
	// MaxAttempts bounds consecutive failed connection attempts before Run
	// gives up. Zero means retry forever.
	MaxAttempts int
}

// Stream runs one venue execution stream through its connection state
// machine: disconnected, connecting, connected, reconnecting. Events are
// handed to the sink in arrival order; ordering per position is the
// dispatcher's job.
type Stream struct {
	cfg     StreamConfig
	venue   string
	source  Source
	sink    func(ctx context.Context, ev domain.StreamEvent)
	metrics *metrics.Metrics
	logger  *slog.Logger

	state atomic.Int32
}

// NewStream creates a stream over the given source. sink must not block
// indefinitely.
func NewStream(
	cfg StreamConfig,
	venue string,
	source Source,
	sink func(ctx context.Context, ev domain.StreamEvent),
	m *metrics.Metrics,
	logger *slog.Logger,
) *Stream {
	return &Stream{
		cfg:     cfg,
		venue:   venue,
		source:  source,
		sink:    sink,
		metrics: m,
		logger: logger.With(
			slog.String("component", "stream"),
			slog.String("venue", venue),
		),
	}
}

// State returns the current connection state.
func (s *Stream) State() ConnState {
	return ConnState(s.state.Load())
}

func (s *Stream) setState(st ConnState) {
	s.state.Store(int32(st))
	s.metrics.StreamState.WithLabelValues(s.venue).Set(float64(st))
}

// Run drives the stream until ctx is cancelled or the retry budget is
// exhausted, in which case it returns ErrStreamDisconnected. Backoff doubles
// from the base delay up to the cap and resets after any successful connect.
func (s *Stream) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	defer s.source.Close()

	attempts := 0
	delay := reconnectDelay

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempts == 0 {
			s.setState(StateConnecting)
		} else {
			s.setState(StateReconnecting)
			s.metrics.StreamReconnects.Inc()
		}

		if err := s.source.Connect(ctx); err != nil {
			attempts++
			if s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts {
				return fmt.Errorf("feed: %s stream after %d attempts: %w", s.venue, attempts, domain.ErrStreamDisconnected)
			}
			s.logger.WarnContext(ctx, "connect failed, backing off",
				slog.Int("attempt", attempts),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		s.setState(StateConnected)
		attempts = 0
		delay = reconnectDelay
		s.logger.InfoContext(ctx, "stream connected")

		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WarnContext(ctx, "stream dropped", slog.String("error", err.Error()))
			attempts = 1
			s.metrics.StreamReconnects.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// consume reads events until the connection breaks.
func (s *Stream) consume(ctx context.Context) error {
	for {
		ev, err := s.source.Next(ctx)
		if err != nil {
			return err
		}
		s.sink(ctx, ev)
	}
}
