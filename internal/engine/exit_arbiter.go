package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/metrics"
)

// SweepFlag is the process-wide "close everything" override. It is set
// externally (operator API) and checked before any other exit signal.
type SweepFlag struct {
	active atomic.Bool
}

// Set activates or clears the sweep.
func (s *SweepFlag) Set(v bool) { s.active.Store(v) }

// Active reports whether the sweep is on.
func (s *SweepFlag) Active() bool { return s.active.Load() }

// ExitArbiter evaluates exit signals for open positions in strict precedence:
// global sweep, manual exit flag, hard risk thresholds, then the predictive
// recommendation. Lower-precedence signals are never consulted once a higher
// one fires.
type ExitArbiter struct {
	predictor domain.Predictor
	registry  *domain.VenueRegistry
	sweep     *SweepFlag
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewExitArbiter creates an arbiter against the given venue registry.
func NewExitArbiter(
	predictor domain.Predictor,
	registry *domain.VenueRegistry,
	sweep *SweepFlag,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ExitArbiter {
	return &ExitArbiter{
		predictor: predictor,
		registry:  registry,
		sweep:     sweep,
		metrics:   m,
		logger:    logger.With(slog.String("component", "exit_arbiter")),
	}
}

// Evaluate returns the single go/no-go exit decision for a position at the
// given mark price. Every decision carries a reason.
func (a *ExitArbiter) Evaluate(ctx context.Context, pos domain.Position, currentPrice float64) (domain.ExitDecision, error) {
	if a.sweep != nil && a.sweep.Active() {
		a.metrics.ExitDecisions.WithLabelValues("sweep").Inc()
		return domain.ExitDecision{
			ShouldExit: true,
			Reason:     "close-all sweep active",
			Confidence: 1,
			Urgency:    domain.UrgencyHigh,
		}, nil
	}

	if pos.ExitRequested {
		a.metrics.ExitDecisions.WithLabelValues("manual").Inc()
		return domain.ExitDecision{
			ShouldExit: true,
			Reason:     "manual exit requested",
			Confidence: 1,
			Urgency:    domain.UrgencyHigh,
		}, nil
	}

	binding, ok := a.registry.Get(pos.Venue)
	if !ok {
		return domain.ExitDecision{}, fmt.Errorf("engine: position %s: %w: %s", pos.ID, domain.ErrUnknownVenue, pos.Venue)
	}

	// Hard thresholds apply even when the venue is disabled for predictive
	// trading. Positions without explicit levels fall back to the venue's
	// percentage thresholds off the entry price.
	if d, breached := thresholdBreach(pos, binding.Risk, currentPrice); breached {
		a.metrics.ExitDecisions.WithLabelValues("threshold").Inc()
		return d, nil
	}

	if !binding.PredictiveEnabled {
		return domain.ExitDecision{
			Reason:  "predictive evaluation disabled for venue",
			Urgency: domain.UrgencyLow,
		}, nil
	}

	decision, err := a.predictor.EvaluateExit(ctx, pos.Symbol, pos.Direction, binding.Risk.ExitHorizon)
	if err != nil {
		// A failed predictive source is never an affirmative exit signal.
		a.logger.WarnContext(ctx, "predictive exit evaluation failed",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.ExitDecision{
			Reason:  "predictive signal unavailable, deterministic checks passed",
			Urgency: domain.UrgencyLow,
		}, nil
	}

	if isEvaluationFailure(decision.Reason) {
		a.logger.WarnContext(ctx, "predictive pseudo-decision discarded",
			slog.String("position_id", pos.ID),
			slog.String("reason", decision.Reason),
		)
		return domain.ExitDecision{
			Reason:  "predictive evaluation failed, recommendation discarded",
			Urgency: domain.UrgencyLow,
		}, nil
	}

	if decision.ShouldExit && decision.Confidence < binding.Risk.ExitConfidence {
		a.metrics.ExitDecisions.WithLabelValues("below_floor").Inc()
		return domain.ExitDecision{
			Reason: fmt.Sprintf("predictive exit below confidence floor: %.2f < %.2f",
				decision.Confidence, binding.Risk.ExitConfidence),
			Confidence: decision.Confidence,
			Urgency:    domain.UrgencyLow,
		}, nil
	}

	if decision.ShouldExit {
		a.metrics.ExitDecisions.WithLabelValues("predictive").Inc()
	}
	return decision, nil
}

// thresholdBreach applies the deterministic stop-loss / take-profit checks.
// A position without an explicit level uses the venue's percentage threshold
// off the entry price, when configured.
func thresholdBreach(pos domain.Position, risk domain.RiskConfig, price float64) (domain.ExitDecision, bool) {
	long := pos.Direction != domain.DirectionShort

	stopLoss := pos.StopLoss
	if stopLoss == 0 && risk.StopLossPct > 0 && pos.EntryPrice > 0 {
		if long {
			stopLoss = pos.EntryPrice * (1 - risk.StopLossPct/100)
		} else {
			stopLoss = pos.EntryPrice * (1 + risk.StopLossPct/100)
		}
	}
	takeProfit := pos.TakeProfit
	if takeProfit == 0 && risk.TakeProfitPct > 0 && pos.EntryPrice > 0 {
		if long {
			takeProfit = pos.EntryPrice * (1 + risk.TakeProfitPct/100)
		} else {
			takeProfit = pos.EntryPrice * (1 - risk.TakeProfitPct/100)
		}
	}

	if stopLoss > 0 {
		if (long && price <= stopLoss) || (!long && price >= stopLoss) {
			return domain.ExitDecision{
				ShouldExit: true,
				Reason:     fmt.Sprintf("stop-loss breached: price %.4f vs %.4f", price, stopLoss),
				Confidence: 1,
				Urgency:    domain.UrgencyHigh,
			}, true
		}
	}
	if takeProfit > 0 {
		if (long && price >= takeProfit) || (!long && price <= takeProfit) {
			return domain.ExitDecision{
				ShouldExit: true,
				Reason:     fmt.Sprintf("take-profit reached: price %.4f vs %.4f", price, takeProfit),
				Confidence: 1,
				Urgency:    domain.UrgencyMedium,
			}, true
		}
	}
	return domain.ExitDecision{}, false
}

// isEvaluationFailure recognizes pseudo-decisions where the predictive
// service surfaced its own internal error as a recommendation.
func isEvaluationFailure(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "error during evaluation") ||
		strings.Contains(r, "evaluation failed") ||
		strings.Contains(r, "internal error")
}
