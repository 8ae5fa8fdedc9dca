// Package notify delivers operator alerts for trading events. Alerts are
// dispatched to all configured senders (Telegram, Discord) and can be
// filtered by event type so operators receive only what they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier is implemented by anything that can deliver a tagged alert.
type Notifier interface {
	Notify(ctx context.Context, event, message string) error
}

// Dispatcher fans one alert out to every configured sender. It maintains a
// set of allowed event types; events outside the set are dropped silently.
// An empty set allows everything.
type Dispatcher struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given senders. Only events
// whose type appears in the events slice are forwarded; an empty slice
// forwards all of them.
func NewDispatcher(senders []Sender, events []string, logger *slog.Logger) *Dispatcher {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Dispatcher{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the message to all senders when the event type passes the
// filter. A single sender failure does not prevent delivery to the rest.
func (d *Dispatcher) Notify(ctx context.Context, event, message string) error {
	if len(d.events) > 0 && !d.events[event] {
		d.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	if len(d.senders) == 0 {
		return nil
	}

	title := strings.ReplaceAll(event, "_", " ")

	var errs []string
	for _, s := range d.senders {
		if err := s.Send(ctx, title, message); err != nil {
			d.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		d.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var _ Notifier = (*Dispatcher)(nil)
