package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/engine"
	"github.com/leverbot/leverbot/internal/metrics"
	"github.com/leverbot/leverbot/internal/store/memory"
)

func newTrailer(t *testing.T, pred *fakePredictor) (*engine.TrailingAdjuster, *memory.PositionStore) {
	t.Helper()
	positions := memory.NewPositionStore()
	adj := engine.NewTrailingAdjuster(
		engine.DefaultTrailingConfig(),
		pred,
		positions,
		engine.NewPositionLocks(),
		memory.NewAuditStore(),
		metrics.New(),
		testLogger(),
	)
	return adj, positions
}

func confirmingPredictor() *fakePredictor {
	return &fakePredictor{rec: domain.Recommendation{
		Action:           domain.ActionBuy,
		Confidence:       0.75,
		PercentageChange: 1.2,
	}}
}

// Long position entered at 50000 with TP 60000: price 58500 is 85% of the way
// to target, past the 0.8 activation, and trails to SL 57915 / TP 59085.
func TestTrailingAppliesPastActivation(t *testing.T) {
	adj, positions := newTrailer(t, confirmingPredictor())
	ctx := context.Background()
	pos := openPosition("p1")
	require.NoError(t, positions.Create(ctx, pos))

	eval, err := adj.Evaluate(ctx, pos, 58500)
	require.NoError(t, err)
	require.True(t, eval.Adjusted, eval.Reason)
	assert.InDelta(t, 58500*0.99, eval.NewStopLoss, 1e-6)
	assert.InDelta(t, 58500*1.01, eval.NewTakeProfit, 1e-6)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, eval.NewStopLoss, got.StopLoss)
	assert.Equal(t, eval.NewTakeProfit, got.TakeProfit)
	assert.Equal(t, 1, got.TrailCount)
	require.NotNil(t, got.LastTrailAt)
}

func TestTrailingBelowActivation(t *testing.T) {
	pred := confirmingPredictor()
	adj, positions := newTrailer(t, pred)
	ctx := context.Background()
	pos := openPosition("p1")
	require.NoError(t, positions.Create(ctx, pos))

	// 54000 is 40% of the distance to target.
	eval, err := adj.Evaluate(ctx, pos, 54000)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
	assert.InDelta(t, 0.4, eval.Progress, 1e-9)
	assert.Zero(t, pred.recCalls, "no continuation check below activation")
}

// A candidate TP within 0.5% of the current one is noise and must be rejected
// before the predictor is consulted.
func TestTrailingMovementGuard(t *testing.T) {
	pred := confirmingPredictor()
	adj, positions := newTrailer(t, pred)
	ctx := context.Background()
	pos := openPosition("p1")
	pos.TakeProfit = 59200 // candidate at 58500*1.01 = 59085, 0.19% away
	require.NoError(t, positions.Create(ctx, pos))

	eval, err := adj.Evaluate(ctx, pos, 58500)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
	assert.Contains(t, eval.Reason, "guard")
	assert.Zero(t, pred.recCalls)
}

func TestTrailingMinInterval(t *testing.T) {
	adj, positions := newTrailer(t, confirmingPredictor())
	ctx := context.Background()
	pos := openPosition("p1")
	just := time.Now().UTC().Add(-time.Minute)
	pos.LastTrailAt = &just
	require.NoError(t, positions.Create(ctx, pos))

	eval, err := adj.Evaluate(ctx, pos, 58500)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
	assert.Contains(t, eval.Reason, "interval")
}

func TestTrailingRequiresContinuation(t *testing.T) {
	pred := &fakePredictor{rec: domain.Recommendation{
		Action:           domain.ActionSell,
		Confidence:       0.9,
		PercentageChange: -0.8,
	}}
	adj, positions := newTrailer(t, pred)
	ctx := context.Background()
	pos := openPosition("p1")
	require.NoError(t, positions.Create(ctx, pos))

	eval, err := adj.Evaluate(ctx, pos, 58500)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
	assert.Equal(t, 1, pred.recCalls)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 45000.0, got.StopLoss, "rejected trail must not move levels")
}

func TestTrailingConfidenceFloor(t *testing.T) {
	pred := &fakePredictor{rec: domain.Recommendation{
		Action:           domain.ActionBuy,
		Confidence:       0.4,
		PercentageChange: 2.0,
	}}
	adj, positions := newTrailer(t, pred)
	ctx := context.Background()
	pos := openPosition("p1")
	require.NoError(t, positions.Create(ctx, pos))

	eval, err := adj.Evaluate(ctx, pos, 58500)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
}

func TestTrailingShortDirection(t *testing.T) {
	pred := &fakePredictor{rec: domain.Recommendation{
		Action:           domain.ActionSell,
		Confidence:       0.8,
		PercentageChange: -1.5,
	}}
	adj, positions := newTrailer(t, pred)
	ctx := context.Background()

	pos := openPosition("p1")
	pos.Direction = domain.DirectionShort
	pos.EntryPrice = 50000
	pos.StopLoss = 55000
	pos.TakeProfit = 40000
	require.NoError(t, positions.Create(ctx, pos))

	// 41500 covers 85% of the 50000→40000 span.
	eval, err := adj.Evaluate(ctx, pos, 41500)
	require.NoError(t, err)
	require.True(t, eval.Adjusted, eval.Reason)
	assert.InDelta(t, 41500*1.01, eval.NewStopLoss, 1e-6)
	assert.InDelta(t, 41500*0.99, eval.NewTakeProfit, 1e-6)
	assert.Less(t, eval.NewTakeProfit, 41500.0)
	assert.Greater(t, eval.NewStopLoss, 41500.0)
}

func TestTrailingSkipsNonOpenPositions(t *testing.T) {
	adj, positions := newTrailer(t, confirmingPredictor())
	ctx := context.Background()
	pos := openPosition("p1")
	pos.Status = domain.PositionStatusClosed
	require.NoError(t, positions.Create(ctx, pos))

	eval, err := adj.Evaluate(ctx, pos, 58500)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
}

func TestTrailingNoTargetNoProgress(t *testing.T) {
	adj, positions := newTrailer(t, confirmingPredictor())
	ctx := context.Background()
	pos := openPosition("p1")
	pos.TakeProfit = 0
	require.NoError(t, positions.Create(ctx, pos))

	eval, err := adj.Evaluate(ctx, pos, 58500)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
}

func TestTrailingPredictorUnavailable(t *testing.T) {
	pred := &fakePredictor{recErr: context.DeadlineExceeded}
	adj, positions := newTrailer(t, pred)
	ctx := context.Background()
	pos := openPosition("p1")
	require.NoError(t, positions.Create(ctx, pos))

	eval, err := adj.Evaluate(ctx, pos, 58500)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
	assert.Contains(t, eval.Reason, "unavailable")
}

// A position closed by an exit fill after the monitor loop took its snapshot
// must stay closed: the trail re-reads the record under the write lock and
// backs off instead of writing the stale snapshot back.
func TestTrailingDoesNotResurrectClosedPosition(t *testing.T) {
	adj, positions := newTrailer(t, confirmingPredictor())
	ctx := context.Background()
	snapshot := openPosition("p1")
	require.NoError(t, positions.Create(ctx, snapshot))

	closed := snapshot
	closed.Status = domain.PositionStatusClosed
	closed.RemainingSize = 0
	now := time.Now().UTC()
	closed.ClosedAt = &now
	require.NoError(t, positions.Update(ctx, closed))

	eval, err := adj.Evaluate(ctx, snapshot, 58500)
	require.NoError(t, err)
	assert.False(t, eval.Adjusted)
	assert.Equal(t, "position no longer open", eval.Reason)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Zero(t, got.RemainingSize)
}

// A fill that reduced the position between snapshot and trail must survive
// the trail write: only the stop/take-profit and trail bookkeeping change.
func TestTrailingPreservesConcurrentFillState(t *testing.T) {
	adj, positions := newTrailer(t, confirmingPredictor())
	ctx := context.Background()
	snapshot := openPosition("p1")
	require.NoError(t, positions.Create(ctx, snapshot))

	reduced := snapshot
	reduced.RemainingSize = 0.4
	reduced.RealizedPnL = 5100
	require.NoError(t, positions.Update(ctx, reduced))

	eval, err := adj.Evaluate(ctx, snapshot, 58500)
	require.NoError(t, err)
	require.True(t, eval.Adjusted, eval.Reason)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0.4, got.RemainingSize, "concurrent reduction must survive the trail")
	assert.Equal(t, 5100.0, got.RealizedPnL)
	assert.Equal(t, eval.NewStopLoss, got.StopLoss)
	assert.Equal(t, eval.NewTakeProfit, got.TakeProfit)
	assert.Equal(t, 1, got.TrailCount)
}
