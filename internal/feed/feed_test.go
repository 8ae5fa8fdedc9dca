package feed_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/feed"
	"github.com/leverbot/leverbot/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedSource fails the first connectFailures dials, then serves the
// queued events and reports a broken connection.
type scriptedSource struct {
	mu              sync.Mutex
	connectFailures int
	connects        int
	events          []domain.StreamEvent
}

func (s *scriptedSource) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connects <= s.connectFailures {
		return errors.New("dial refused")
	}
	return nil
}

func (s *scriptedSource) Next(ctx context.Context) (domain.StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return domain.StreamEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *scriptedSource) Close() error { return nil }

func fillEvent(posID, fillID string) domain.StreamEvent {
	return domain.StreamEvent{Fill: &domain.FillEvent{
		Venue:      "hyperbit",
		PositionID: posID,
		FillID:     fillID,
		Size:       1,
		Price:      100,
		Timestamp:  time.Now().UTC(),
	}}
}

func TestStreamDeliversEvents(t *testing.T) {
	src := &scriptedSource{events: []domain.StreamEvent{
		fillEvent("p1", "f1"),
		fillEvent("p1", "f2"),
	}}

	var mu sync.Mutex
	var got []string
	sink := func(_ context.Context, ev domain.StreamEvent) {
		mu.Lock()
		got = append(got, ev.Fill.FillID)
		mu.Unlock()
	}

	stream := feed.NewStream(feed.StreamConfig{MaxAttempts: 1}, "hyperbit", src, sink, metrics.New(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		// The source EOFs after the queued events; cancel once delivered.
		for {
			mu.Lock()
			n := len(got)
			mu.Unlock()
			if n == 2 {
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	err := stream.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"f1", "f2"}, got)
	assert.Equal(t, feed.StateDisconnected, stream.State())
}

func TestStreamRetryBudgetExhausted(t *testing.T) {
	src := &scriptedSource{connectFailures: 100}
	stream := feed.NewStream(feed.StreamConfig{MaxAttempts: 2}, "hyperbit", src, func(context.Context, domain.StreamEvent) {}, metrics.New(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := stream.Run(ctx)
	require.ErrorIs(t, err, domain.ErrStreamDisconnected)
}

func TestStreamStateString(t *testing.T) {
	assert.Equal(t, "disconnected", feed.StateDisconnected.String())
	assert.Equal(t, "connecting", feed.StateConnecting.String())
	assert.Equal(t, "connected", feed.StateConnected.String())
	assert.Equal(t, "reconnecting", feed.StateReconnecting.String())
}

// recordingApplier records application order per position.
type recordingApplier struct {
	mu    sync.Mutex
	fills map[string][]string
	slow  time.Duration
}

func newRecordingApplier(slow time.Duration) *recordingApplier {
	return &recordingApplier{fills: make(map[string][]string), slow: slow}
}

func (a *recordingApplier) ApplyFill(_ context.Context, ev domain.FillEvent) error {
	if a.slow > 0 {
		time.Sleep(a.slow)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fills[ev.PositionID] = append(a.fills[ev.PositionID], ev.FillID)
	return nil
}

func (a *recordingApplier) ApplyOrderUpdate(context.Context, domain.OrderUpdate) error {
	return nil
}

// Events for one position apply in arrival order even under a slow applier.
func TestDispatcherSerializesPerKey(t *testing.T) {
	applier := newRecordingApplier(time.Millisecond)
	d := feed.NewDispatcher(applier, 32, testLogger())
	ctx := context.Background()

	const perPos = 10
	for i := 0; i < perPos; i++ {
		d.Dispatch(ctx, fillEvent("p1", fmt.Sprintf("a%02d", i)))
		d.Dispatch(ctx, fillEvent("p2", fmt.Sprintf("b%02d", i)))
	}
	d.Close()

	applier.mu.Lock()
	defer applier.mu.Unlock()
	require.Len(t, applier.fills["p1"], perPos)
	require.Len(t, applier.fills["p2"], perPos)
	for i := 0; i < perPos; i++ {
		assert.Equal(t, fmt.Sprintf("a%02d", i), applier.fills["p1"][i])
		assert.Equal(t, fmt.Sprintf("b%02d", i), applier.fills["p2"][i])
	}
}

func TestDispatcherDropsKeylessEvents(t *testing.T) {
	applier := newRecordingApplier(0)
	d := feed.NewDispatcher(applier, 8, testLogger())

	d.Dispatch(context.Background(), domain.StreamEvent{})
	d.Close()

	applier.mu.Lock()
	defer applier.mu.Unlock()
	assert.Empty(t, applier.fills)
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := feed.NewDispatcher(newRecordingApplier(0), 8, testLogger())
	d.Dispatch(context.Background(), fillEvent("p1", "f1"))
	d.Close()
	d.Close()

	// Dispatch after close is a no-op, not a panic.
	d.Dispatch(context.Background(), fillEvent("p1", "f2"))
}
