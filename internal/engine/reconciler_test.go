package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/engine"
	"github.com/leverbot/leverbot/internal/metrics"
	"github.com/leverbot/leverbot/internal/store/memory"
)

func newReconciler(t *testing.T) (*engine.Reconciler, *memory.PositionStore, *memory.OrderStore) {
	t.Helper()
	positions := memory.NewPositionStore()
	orders := memory.NewOrderStore()
	rec := engine.NewReconciler(positions, orders, nil, memory.NewAuditStore(), metrics.New(), testLogger())
	return rec, positions, orders
}

func createdPosition(id string) domain.Position {
	pos := openPosition(id)
	pos.Status = domain.PositionStatusCreated
	pos.FilledSize = 0
	pos.RemainingSize = 0
	pos.EntryPrice = 0
	pos.OpenedAt = nil
	return pos
}

func entryFill(posID, fillID string, size, price float64) domain.FillEvent {
	return domain.FillEvent{
		Venue:      "hyperbit",
		PositionID: posID,
		OrderID:    "ord-1",
		FillID:     fillID,
		Symbol:     "BTC-PERP",
		Size:       size,
		Price:      price,
		Side:       domain.OrderSideBuy,
		Intent:     domain.FillIntentEntry,
		Timestamp:  time.Now().UTC(),
	}
}

func exitFill(posID, fillID string, size, pnl float64) domain.FillEvent {
	return domain.FillEvent{
		Venue:       "hyperbit",
		PositionID:  posID,
		OrderID:     "ord-2",
		FillID:      fillID,
		Symbol:      "BTC-PERP",
		Size:        size,
		Price:       55000,
		RealizedPnL: pnl,
		Side:        domain.OrderSideSell,
		Intent:      domain.FillIntentReduce,
		Timestamp:   time.Now().UTC(),
	}
}

// Two entry fills 100@10 and 50@13: filled 150, weighted entry 11.0.
func TestReconcilerWeightedEntryPrice(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))

	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "f1", 100, 10)))
	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "f2", 50, 13)))

	pos, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 150.0, pos.FilledSize)
	assert.InDelta(t, 11.0, pos.EntryPrice, 1e-9)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	require.NotNil(t, pos.OpenedAt)
	assert.Len(t, pos.Fills, 2)
}

// Weighted average must not depend on arrival order.
func TestReconcilerWeightedEntryPriceOrderIndependent(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))
	require.NoError(t, positions.Create(ctx, createdPosition("p2")))

	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "a", 100, 10)))
	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "b", 50, 13)))

	require.NoError(t, rec.ApplyFill(ctx, exchangePosID(entryFill("p1", "b", 50, 13), "p2")))
	require.NoError(t, rec.ApplyFill(ctx, exchangePosID(entryFill("p1", "a", 100, 10), "p2")))

	p1, _ := positions.GetByID(ctx, "p1")
	p2, _ := positions.GetByID(ctx, "p2")
	assert.InDelta(t, p1.EntryPrice, p2.EntryPrice, 1e-9)
}

func exchangePosID(ev domain.FillEvent, id string) domain.FillEvent {
	ev.PositionID = id
	return ev
}

// Applying the same fill id twice yields identical state as applying it once.
func TestReconcilerIdempotence(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))

	fill := entryFill("p1", "f1", 100, 10)
	require.NoError(t, rec.ApplyFill(ctx, fill))
	once, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, rec.ApplyFill(ctx, fill))
	twice, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, once.FilledSize, twice.FilledSize)
	assert.Equal(t, once.EntryPrice, twice.EntryPrice)
	assert.Equal(t, once.RealizedPnL, twice.RealizedPnL)
	assert.Len(t, twice.Fills, 1)
}

// Exit fill draining the position closes it and accrues the PnL contribution.
func TestReconcilerFullExitClosesPosition(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))
	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "f1", 150, 11)))

	require.NoError(t, rec.ApplyFill(ctx, exitFill("p1", "x1", 150, 200)))

	pos, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Zero(t, pos.RemainingSize)
	assert.Equal(t, 200.0, pos.RealizedPnL)
	require.NotNil(t, pos.ClosedAt)
}

func TestReconcilerPartialExit(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))
	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "f1", 150, 11)))

	require.NoError(t, rec.ApplyFill(ctx, exitFill("p1", "x1", 50, 80)))

	pos, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 100.0, pos.RemainingSize)
	assert.Equal(t, 80.0, pos.RealizedPnL)
	// Entry price untouched by exits.
	assert.InDelta(t, 11.0, pos.EntryPrice, 1e-9)
}

// Remaining size clamps at zero when the venue over-reports the exit size.
func TestReconcilerRemainingNeverNegative(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))
	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "f1", 100, 10)))

	require.NoError(t, rec.ApplyFill(ctx, exitFill("p1", "x1", 120, 50)))

	pos, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, pos.RemainingSize)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
}

// A breakeven exit (PnL exactly 0) must close the position when tagged with
// reduce intent; the PnL heuristic alone would misread it as an entry.
func TestReconcilerBreakevenExitWithIntentTag(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))
	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "f1", 100, 10)))

	require.NoError(t, rec.ApplyFill(ctx, exitFill("p1", "x1", 100, 0)))

	pos, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Zero(t, pos.RealizedPnL)
}

// Untagged fills fall back to the PnL heuristic.
func TestReconcilerHeuristicClassification(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))

	entry := entryFill("p1", "f1", 100, 10)
	entry.Intent = domain.FillIntentUnknown
	require.NoError(t, rec.ApplyFill(ctx, entry))

	exit := exitFill("p1", "x1", 100, 75)
	exit.Intent = domain.FillIntentUnknown
	require.NoError(t, rec.ApplyFill(ctx, exit))

	pos, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, 75.0, pos.RealizedPnL)
}

func TestReconcilerRejectsFillForClosedPosition(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))
	require.NoError(t, rec.ApplyFill(ctx, entryFill("p1", "f1", 100, 10)))
	require.NoError(t, rec.ApplyFill(ctx, exitFill("p1", "x1", 100, 10)))

	err := rec.ApplyFill(ctx, entryFill("p1", "f2", 10, 10))
	require.ErrorIs(t, err, domain.ErrPositionClosed)

	// Replays of ledger fills stay no-ops even after closure.
	require.NoError(t, rec.ApplyFill(ctx, exitFill("p1", "x1", 100, 10)))
}

// Concurrent entry fills must serialize: the weighted average over all fills
// has to match the sequential result regardless of interleaving.
func TestReconcilerConcurrentFills(t *testing.T) {
	rec, positions, _ := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := entryFill("p1", fmt.Sprintf("f%d", i), 10, float64(100+i))
			assert.NoError(t, rec.ApplyFill(ctx, ev))
		}(i)
	}
	wg.Wait()

	pos, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(n*10), pos.FilledSize)
	assert.Len(t, pos.Fills, n)

	// Σ(si·pi)/Σsi with si=10, pi=100..119 → mean of prices.
	var want float64
	for i := 0; i < n; i++ {
		want += float64(100 + i)
	}
	want /= n
	assert.InDelta(t, want, pos.EntryPrice, 1e-6)
}

// Order updates touch order metadata only.
func TestReconcilerOrderUpdate(t *testing.T) {
	rec, positions, orders := newReconciler(t)
	ctx := context.Background()
	require.NoError(t, positions.Create(ctx, createdPosition("p1")))
	require.NoError(t, orders.Create(ctx, domain.Order{
		ID:         "ord-1",
		PositionID: "p1",
		Venue:      "hyperbit",
		Symbol:     "BTC-PERP",
		Side:       domain.OrderSideBuy,
		Intent:     domain.FillIntentEntry,
		LimitPrice: 50000,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}))

	require.NoError(t, rec.ApplyOrderUpdate(ctx, domain.OrderUpdate{
		OrderID:    "ord-1",
		LimitPrice: 50100,
		Status:     domain.OrderStatusOpen,
	}))

	order, err := orders.GetByID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 50100.0, order.LimitPrice)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)

	pos, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, pos.FilledSize, "order updates must not touch position state")
}
