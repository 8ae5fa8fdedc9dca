package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/engine"
	"github.com/leverbot/leverbot/internal/metrics"
)

// fakeVenue satisfies domain.Venue for registry construction; execution
// methods are never reached by the arbiter.
type fakeVenue struct {
	name string
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) ListCandidateInstruments(context.Context) ([]string, error) {
	return []string{"BTC-PERP"}, nil
}

func (v *fakeVenue) SubmitEntry(context.Context, domain.EntryRequest) (domain.OrderHandle, error) {
	return domain.OrderHandle{}, errors.New("not implemented")
}

func (v *fakeVenue) SubmitExit(context.Context, domain.Position) (domain.OrderHandle, error) {
	return domain.OrderHandle{}, errors.New("not implemented")
}

func registryWith(bindings ...domain.VenueBinding) *domain.VenueRegistry {
	return domain.NewVenueRegistry(bindings)
}

func hyperbitBinding(predictive bool) domain.VenueBinding {
	return domain.VenueBinding{
		Venue:             &fakeVenue{name: "hyperbit"},
		Priority:          10,
		MaxPositions:      3,
		PredictiveEnabled: predictive,
	}
}

func newArbiter(p *fakePredictor, reg *domain.VenueRegistry, sweep *engine.SweepFlag) *engine.ExitArbiter {
	return engine.NewExitArbiter(p, reg, sweep, metrics.New(), testLogger())
}

func TestExitArbiterSweepOverridesEverything(t *testing.T) {
	pred := &fakePredictor{exit: domain.ExitDecision{ShouldExit: false}}
	sweep := &engine.SweepFlag{}
	sweep.Set(true)
	arb := newArbiter(pred, registryWith(hyperbitBinding(true)), sweep)

	pos := openPosition("p1")
	d, err := arb.Evaluate(context.Background(), pos, 50000)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Equal(t, domain.UrgencyHigh, d.Urgency)
	assert.Zero(t, pred.exitCalls, "sweep must short-circuit the predictor")
}

func TestExitArbiterManualFlag(t *testing.T) {
	pred := &fakePredictor{exit: domain.ExitDecision{ShouldExit: false}}
	arb := newArbiter(pred, registryWith(hyperbitBinding(true)), &engine.SweepFlag{})

	pos := openPosition("p1")
	pos.ExitRequested = true
	d, err := arb.Evaluate(context.Background(), pos, 50000)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Equal(t, "manual exit requested", d.Reason)
	assert.Zero(t, pred.exitCalls, "manual flag must short-circuit the predictor")
}

// Stop-loss breach fires without consulting the predictor.
func TestExitArbiterStopLossBreach(t *testing.T) {
	pred := &fakePredictor{}
	arb := newArbiter(pred, registryWith(hyperbitBinding(true)), &engine.SweepFlag{})

	pos := openPosition("p1") // long, SL 45000
	d, err := arb.Evaluate(context.Background(), pos, 44900)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Equal(t, domain.UrgencyHigh, d.Urgency)
	assert.Contains(t, d.Reason, "stop-loss")
	assert.Zero(t, pred.exitCalls)
}

func TestExitArbiterTakeProfitReached(t *testing.T) {
	pred := &fakePredictor{}
	arb := newArbiter(pred, registryWith(hyperbitBinding(true)), &engine.SweepFlag{})

	pos := openPosition("p1") // long, TP 60000
	d, err := arb.Evaluate(context.Background(), pos, 60200)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Equal(t, domain.UrgencyMedium, d.Urgency)
	assert.Contains(t, d.Reason, "take-profit")
}

func TestExitArbiterShortThresholds(t *testing.T) {
	pred := &fakePredictor{}
	arb := newArbiter(pred, registryWith(hyperbitBinding(true)), &engine.SweepFlag{})

	pos := openPosition("p1")
	pos.Direction = domain.DirectionShort
	pos.StopLoss = 55000
	pos.TakeProfit = 45000

	d, err := arb.Evaluate(context.Background(), pos, 55100)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Contains(t, d.Reason, "stop-loss")

	d, err = arb.Evaluate(context.Background(), pos, 44800)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Contains(t, d.Reason, "take-profit")
}

// Thresholds still apply on a venue with predictive evaluation disabled, and
// absent a breach the answer is hold.
func TestExitArbiterPredictiveDisabledVenue(t *testing.T) {
	pred := &fakePredictor{exit: domain.ExitDecision{ShouldExit: true, Reason: "trend reversal"}}
	arb := newArbiter(pred, registryWith(hyperbitBinding(false)), &engine.SweepFlag{})

	pos := openPosition("p1")
	d, err := arb.Evaluate(context.Background(), pos, 44000)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit, "hard thresholds bypass the predictive switch")

	d, err = arb.Evaluate(context.Background(), pos, 50000)
	require.NoError(t, err)
	assert.False(t, d.ShouldExit)
	assert.Zero(t, pred.exitCalls)
}

func TestExitArbiterUnknownVenue(t *testing.T) {
	arb := newArbiter(&fakePredictor{}, registryWith(hyperbitBinding(true)), &engine.SweepFlag{})

	pos := openPosition("p1")
	pos.Venue = "ghost"
	_, err := arb.Evaluate(context.Background(), pos, 50000)
	require.ErrorIs(t, err, domain.ErrUnknownVenue)
}

func TestExitArbiterHonorsPredictiveDecision(t *testing.T) {
	pred := &fakePredictor{exit: domain.ExitDecision{
		ShouldExit: true,
		Reason:     "momentum reversal on 1h",
		Confidence: 0.82,
		Urgency:    domain.UrgencyMedium,
	}}
	arb := newArbiter(pred, registryWith(hyperbitBinding(true)), &engine.SweepFlag{})

	d, err := arb.Evaluate(context.Background(), openPosition("p1"), 50000)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Equal(t, "momentum reversal on 1h", d.Reason)
	assert.Equal(t, 1, pred.exitCalls)
}

// A predictive response whose reason reads as an internal failure is a
// pseudo-decision and must never trigger an exit.
func TestExitArbiterDiscardsPseudoDecision(t *testing.T) {
	for _, reason := range []string{
		"Error during evaluation",
		"evaluation failed: upstream timeout",
		"Internal error in scoring pipeline",
	} {
		pred := &fakePredictor{exit: domain.ExitDecision{
			ShouldExit: true,
			Reason:     reason,
			Confidence: 0.9,
		}}
		arb := newArbiter(pred, registryWith(hyperbitBinding(true)), &engine.SweepFlag{})

		d, err := arb.Evaluate(context.Background(), openPosition("p1"), 50000)
		require.NoError(t, err)
		assert.False(t, d.ShouldExit, "reason %q must be discarded", reason)
	}
}

// Transport failure from the predictor is a hold, not an exit and not an
// error surfaced to the monitor loop.
func TestExitArbiterPredictorErrorIsHold(t *testing.T) {
	pred := &fakePredictor{exitErr: errors.New("dial tcp: connection refused")}
	arb := newArbiter(pred, registryWith(hyperbitBinding(true)), &engine.SweepFlag{})

	d, err := arb.Evaluate(context.Background(), openPosition("p1"), 50000)
	require.NoError(t, err)
	assert.False(t, d.ShouldExit)
}

// A predictive exit below the venue's confidence floor is a hold.
func TestExitArbiterConfidenceFloor(t *testing.T) {
	pred := &fakePredictor{exit: domain.ExitDecision{
		ShouldExit: true,
		Reason:     "weak reversal",
		Confidence: 0.35,
	}}
	binding := hyperbitBinding(true)
	binding.Risk.ExitConfidence = 0.6
	arb := newArbiter(pred, registryWith(binding), &engine.SweepFlag{})

	d, err := arb.Evaluate(context.Background(), openPosition("p1"), 50000)
	require.NoError(t, err)
	assert.False(t, d.ShouldExit)
	assert.Contains(t, d.Reason, "confidence floor")

	pred.exit.Confidence = 0.8
	d, err = arb.Evaluate(context.Background(), openPosition("p1"), 50000)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
}

// A position carrying no explicit levels falls back to the venue's
// percentage thresholds off the entry price.
func TestExitArbiterPercentageThresholdFallback(t *testing.T) {
	binding := hyperbitBinding(false)
	binding.Risk.StopLossPct = 2.0
	binding.Risk.TakeProfitPct = 4.0
	arb := newArbiter(&fakePredictor{}, registryWith(binding), &engine.SweepFlag{})

	pos := openPosition("p1") // entry 50000
	pos.StopLoss = 0
	pos.TakeProfit = 0

	// 2% below entry is 49000.
	d, err := arb.Evaluate(context.Background(), pos, 48900)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Contains(t, d.Reason, "stop-loss")

	// 4% above entry is 52000.
	d, err = arb.Evaluate(context.Background(), pos, 52100)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Contains(t, d.Reason, "take-profit")

	d, err = arb.Evaluate(context.Background(), pos, 50500)
	require.NoError(t, err)
	assert.False(t, d.ShouldExit)
}

// The venue's exit horizon rides along on every predictive evaluation.
func TestExitArbiterPassesExitHorizon(t *testing.T) {
	pred := &fakePredictor{}
	binding := hyperbitBinding(true)
	binding.Risk.ExitHorizon = "4h"
	arb := newArbiter(pred, registryWith(binding), &engine.SweepFlag{})

	_, err := arb.Evaluate(context.Background(), openPosition("p1"), 50000)
	require.NoError(t, err)
	assert.Equal(t, "4h", pred.exitHorizon)
}
