package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/leverbot/leverbot/internal/domain"
)

// defaultQueueSize bounds each per-key event queue.
const defaultQueueSize = 64

// Applier reconciles stream events into position and order state.
type Applier interface {
	ApplyFill(ctx context.Context, ev domain.FillEvent) error
	ApplyOrderUpdate(ctx context.Context, up domain.OrderUpdate) error
}

// Dispatcher routes stream events to per-key queues, each drained by a single
// goroutine. Events for the same position are therefore applied in arrival
// order while different positions reconcile concurrently.
type Dispatcher struct {
	applier   Applier
	queueSize int
	logger    *slog.Logger

	mu     sync.Mutex
	queues map[string]chan domain.StreamEvent
	wg     sync.WaitGroup
	closed bool
}

// NewDispatcher creates a Dispatcher over the given applier.
func NewDispatcher(applier Applier, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		applier:   applier,
		queueSize: queueSize,
		logger:    logger.With(slog.String("component", "dispatcher")),
		queues:    make(map[string]chan domain.StreamEvent),
	}
}

// Dispatch enqueues one event on its key's queue, starting the queue worker
// on first use. Blocks when the queue is full so backpressure reaches the
// stream reader instead of dropping fills.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.StreamEvent) {
	key := ev.Key()
	if key == "" {
		d.logger.WarnContext(ctx, "event without routing key dropped")
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	q, ok := d.queues[key]
	if !ok {
		q = make(chan domain.StreamEvent, d.queueSize)
		d.queues[key] = q
		d.wg.Add(1)
		go d.drain(key, q)
	}
	d.mu.Unlock()

	select {
	case q <- ev:
	case <-ctx.Done():
	}
}

// drain applies events for one key in order until the queue is closed.
func (d *Dispatcher) drain(key string, q <-chan domain.StreamEvent) {
	defer d.wg.Done()
	ctx := context.Background()

	for ev := range q {
		var err error
		switch {
		case ev.Fill != nil:
			err = d.applier.ApplyFill(ctx, *ev.Fill)
		case ev.OrderUpdate != nil:
			err = d.applier.ApplyOrderUpdate(ctx, *ev.OrderUpdate)
		}
		if err != nil {
			d.logger.Error("event application failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops accepting events and waits for every queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
