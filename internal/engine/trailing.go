package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/metrics"
)

// TrailingConfig controls the trailing adjuster.
type TrailingConfig struct {
	// ActivationRatio is the fraction of the distance to take-profit a
	// position must cover before trailing starts.
	ActivationRatio float64

	// MinInterval is the minimum time between two trail adjustments of one
	// position.
	MinInterval time.Duration

	// TakeProfitOffsetPct / StopLossOffsetPct offset the candidate levels
	// from the current price, in percent.
	TakeProfitOffsetPct float64
	StopLossOffsetPct   float64

	// MovementGuardPct rejects trails whose take-profit change is below this
	// percentage, to avoid thrashing on noise.
	MovementGuardPct float64

	// ConfidenceFloor is the minimum predictive confidence for the
	// continuation check.
	ConfidenceFloor float64

	// Horizon is the recommendation horizon for the continuation check.
	Horizon string
}

// DefaultTrailingConfig returns the stock parameters.
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		ActivationRatio:     0.8,
		MinInterval:         5 * time.Minute,
		TakeProfitOffsetPct: 1.0,
		StopLossOffsetPct:   1.0,
		MovementGuardPct:    0.5,
		ConfidenceFloor:     0.6,
		Horizon:             "1h",
	}
}

// TrailingEvaluation reports whether a trail was applied and why.
type TrailingEvaluation struct {
	Adjusted      bool
	Reason        string
	Progress      float64
	NewStopLoss   float64
	NewTakeProfit float64
}

// TrailingAdjuster progressively moves stop-loss/take-profit in the favorable
// direction once a position has covered enough of the distance to its target.
// A trail requires a continuation confirmation from the predictive signal and
// is validated against the SL < price < TP ordering invariant before being
// persisted; violations reject the trail, never clamp it.
type TrailingAdjuster struct {
	cfg       TrailingConfig
	predictor domain.Predictor
	positions domain.PositionStore
	locks     *PositionLocks
	audit     domain.AuditStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewTrailingAdjuster creates a trailing adjuster. locks must be the
// reconciler's lock table so trail writes serialize with fill application.
// audit may be nil.
func NewTrailingAdjuster(
	cfg TrailingConfig,
	predictor domain.Predictor,
	positions domain.PositionStore,
	locks *PositionLocks,
	audit domain.AuditStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *TrailingAdjuster {
	if cfg.ActivationRatio <= 0 {
		cfg.ActivationRatio = 0.8
	}
	if cfg.MovementGuardPct <= 0 {
		cfg.MovementGuardPct = 0.5
	}
	return &TrailingAdjuster{
		cfg:       cfg,
		predictor: predictor,
		positions: positions,
		locks:     locks,
		audit:     audit,
		metrics:   m,
		logger:    logger.With(slog.String("component", "trailing")),
	}
}

// Evaluate checks whether pos qualifies for a trail at the current price and
// applies it when every guard passes. Trailing never touches filled size or
// PnL.
func (t *TrailingAdjuster) Evaluate(ctx context.Context, pos domain.Position, current float64) (TrailingEvaluation, error) {
	if pos.Status != domain.PositionStatusOpen {
		return TrailingEvaluation{Reason: "position not open"}, nil
	}

	progress, ok := progressToTarget(pos, current)
	if !ok {
		return TrailingEvaluation{Reason: "no take-profit distance to measure progress against"}, nil
	}
	eval := TrailingEvaluation{Progress: progress}

	if progress < t.cfg.ActivationRatio {
		eval.Reason = fmt.Sprintf("progress %.2f below activation %.2f", progress, t.cfg.ActivationRatio)
		return eval, nil
	}

	if pos.LastTrailAt != nil && time.Since(*pos.LastTrailAt) < t.cfg.MinInterval {
		t.reject("interval")
		eval.Reason = "re-trail interval not elapsed"
		return eval, nil
	}

	long := pos.Direction != domain.DirectionShort

	var newTP float64
	if long {
		newTP = current * (1 + t.cfg.TakeProfitOffsetPct/100)
	} else {
		newTP = current * (1 - t.cfg.TakeProfitOffsetPct/100)
	}

	if pos.TakeProfit > 0 {
		changePct := math.Abs(newTP-pos.TakeProfit) / pos.TakeProfit * 100
		if changePct < t.cfg.MovementGuardPct {
			t.reject("movement_guard")
			eval.Reason = fmt.Sprintf("take-profit change %.3f%% under guard %.2f%%", changePct, t.cfg.MovementGuardPct)
			return eval, nil
		}
	}

	cont, err := t.continuationConfirmed(ctx, pos.Symbol, long)
	if err != nil {
		t.reject("predictive_unavailable")
		eval.Reason = "predictive signal unavailable"
		return eval, nil
	}
	if !cont {
		t.reject("no_continuation")
		eval.Reason = "predictive signal does not confirm continuation"
		return eval, nil
	}

	var newSL float64
	if long {
		newSL = current * (1 - t.cfg.StopLossOffsetPct/100)
	} else {
		newSL = current * (1 + t.cfg.StopLossOffsetPct/100)
	}

	if long && !(newSL < current && current < newTP) ||
		!long && !(newTP < current && current < newSL) {
		t.reject("validation")
		eval.Reason = fmt.Sprintf("ordering invariant violated: sl=%.4f price=%.4f tp=%.4f", newSL, current, newTP)
		return eval, nil
	}

	// Persist under the position's write lock against a fresh read, never
	// the monitor loop's snapshot: a fill may have reduced or closed the
	// position since the snapshot was taken, and only the trail fields may
	// change here.
	unlock := t.locks.Lock(pos.ID)
	defer unlock()

	fresh, err := t.positions.GetByID(ctx, pos.ID)
	if err != nil {
		return eval, fmt.Errorf("engine: reload position %s for trail: %w", pos.ID, err)
	}
	if fresh.Status != domain.PositionStatusOpen {
		t.reject("position_changed")
		eval.Reason = "position no longer open"
		return eval, nil
	}
	if fresh.LastTrailAt != nil && time.Since(*fresh.LastTrailAt) < t.cfg.MinInterval {
		t.reject("interval")
		eval.Reason = "re-trail interval not elapsed"
		return eval, nil
	}

	now := time.Now().UTC()
	fresh.StopLoss = newSL
	fresh.TakeProfit = newTP
	fresh.LastTrailAt = &now
	fresh.TrailCount++

	if err := t.positions.Update(ctx, fresh); err != nil {
		return eval, fmt.Errorf("engine: persist trail for %s: %w", pos.ID, err)
	}

	t.metrics.TrailsApplied.Inc()
	if t.audit != nil {
		_ = t.audit.Log(ctx, "position_trailed", map[string]any{
			"position_id": fresh.ID,
			"symbol":      fresh.Symbol,
			"stop_loss":   newSL,
			"take_profit": newTP,
			"trail_count": fresh.TrailCount,
		})
	}
	t.logger.InfoContext(ctx, "trail applied",
		slog.String("position_id", fresh.ID),
		slog.Float64("stop_loss", newSL),
		slog.Float64("take_profit", newTP),
		slog.Int("trail_count", fresh.TrailCount),
	)

	eval.Adjusted = true
	eval.Reason = "trail applied"
	eval.NewStopLoss = newSL
	eval.NewTakeProfit = newTP
	return eval, nil
}

func (t *TrailingAdjuster) reject(reason string) {
	t.metrics.TrailsRejected.WithLabelValues(reason).Inc()
}

// continuationConfirmed checks the predictive signal for trend continuation
// in the position's direction at or above the confidence floor.
func (t *TrailingAdjuster) continuationConfirmed(ctx context.Context, symbol string, long bool) (bool, error) {
	rec, err := t.predictor.GetRecommendation(ctx, symbol, t.cfg.Horizon)
	if err != nil {
		return false, err
	}
	if rec.Confidence < t.cfg.ConfidenceFloor {
		return false, nil
	}
	if long {
		return rec.Action == domain.ActionBuy || rec.PercentageChange > 0, nil
	}
	return rec.Action == domain.ActionSell || rec.PercentageChange < 0, nil
}

// progressToTarget is the covered fraction of the distance from entry to
// take-profit. Returns false when the distance is degenerate.
func progressToTarget(pos domain.Position, current float64) (float64, bool) {
	if pos.TakeProfit <= 0 || pos.EntryPrice <= 0 {
		return 0, false
	}
	if pos.Direction == domain.DirectionShort {
		span := pos.EntryPrice - pos.TakeProfit
		if span <= 0 {
			return 0, false
		}
		return (pos.EntryPrice - current) / span, true
	}
	span := pos.TakeProfit - pos.EntryPrice
	if span <= 0 {
		return 0, false
	}
	return (current - pos.EntryPrice) / span, true
}
