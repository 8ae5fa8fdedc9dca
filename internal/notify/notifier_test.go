package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDispatcherFansOutToAllSenders(t *testing.T) {
	a := &fakeSender{name: "a"}
	b := &fakeSender{name: "b"}
	d := NewDispatcher([]Sender{a, b}, nil, testLogger())

	require.NoError(t, d.Notify(context.Background(), "entry_submitted", "opened BTC-PERP"))

	require.Len(t, a.titles, 1)
	require.Len(t, b.titles, 1)
	assert.Equal(t, "entry submitted", a.titles[0])
	assert.Equal(t, "opened BTC-PERP", a.bodies[0])
}

func TestDispatcherFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "a"}
	d := NewDispatcher([]Sender{s}, []string{"exit_submitted"}, testLogger())

	require.NoError(t, d.Notify(context.Background(), "entry_submitted", "ignored"))
	assert.Empty(t, s.titles)

	require.NoError(t, d.Notify(context.Background(), "exit_submitted", "delivered"))
	assert.Len(t, s.titles, 1)
}

func TestDispatcherOneFailureDoesNotBlockOthers(t *testing.T) {
	failing := &fakeSender{name: "telegram", err: errors.New("boom")}
	working := &fakeSender{name: "discord"}
	d := NewDispatcher([]Sender{failing, working}, nil, testLogger())

	err := d.Notify(context.Background(), "close_all_toggled", "sweep on")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	// The healthy sender still received the alert.
	assert.Len(t, working.titles, 1)
}

func TestDispatcherNoSendersIsNoop(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger())
	assert.NoError(t, d.Notify(context.Background(), "entry_submitted", "x"))
}
