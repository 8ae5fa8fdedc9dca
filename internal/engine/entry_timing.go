package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leverbot/leverbot/internal/domain"
)

// fallbackShortTimeframe is tried when the configured short-horizon signal is
// undefined.
const fallbackShortTimeframe = "15m"

// Entry timing confidence levels. The matrix is ordered: full alignment with
// a deep enough correction scores highest, a live counter-trend correction
// blocks entry at the configured floor.
const (
	confidenceAlignedDeep    = 0.85
	confidenceAlignedShallow = 0.70
	confidenceShortNeutral   = 0.65
	confidenceDefault        = 0.60
)

// EntryType labels how the evaluator arrived at its verdict.
type EntryType string

const (
	EntryImmediate      EntryType = "immediate"
	EntryReversal       EntryType = "reversal_detected"
	EntryWaitCorrection EntryType = "wait_correction"
	EntryNone           EntryType = "none"
)

// EntryTimingConfig controls the evaluator.
type EntryTimingConfig struct {
	Enabled bool

	// ShortTimeframe is the short-horizon signal used for timing, e.g. "5m".
	ShortTimeframe string

	// MinCorrectionPct is the correction depth required for a full-strength
	// reversal entry.
	MinCorrectionPct float64

	// ReversalFloor is the confidence reported while waiting out a live
	// counter-trend correction.
	ReversalFloor float64

	// UseExtremeDepth selects extreme-based correction depth over the
	// MA-deviation fallback when a current price is available.
	UseExtremeDepth bool

	LookbackMinutes int
}

// EntryEvaluation is the full evaluator verdict. Reason is always set.
type EntryEvaluation struct {
	ShouldEnter bool
	Direction   domain.Direction
	Confidence  float64
	EntryType   EntryType

	// CorrectionDepth is nil when no depth could be computed.
	CorrectionDepth  *float64
	ReversalDetected bool
	TrendAligned     bool

	PrimaryTrend     domain.TrendStatus
	PrimaryTimeframe string
	ShortTrend       domain.TrendStatus
	ShortTimeframe   string

	Reason string
}

// EntryTiming decides whether to enter a position now, wait for a correction
// to deepen, or decline. Stateless per call.
type EntryTiming struct {
	cfg      EntryTimingConfig
	predictor domain.Predictor
	extremes *ExtremeTracker
	logger   *slog.Logger
}

// NewEntryTiming creates an evaluator. extremes may be nil when extreme-based
// depth is disabled.
func NewEntryTiming(cfg EntryTimingConfig, predictor domain.Predictor, extremes *ExtremeTracker, logger *slog.Logger) *EntryTiming {
	if cfg.ShortTimeframe == "" {
		cfg.ShortTimeframe = "5m"
	}
	return &EntryTiming{
		cfg:       cfg,
		predictor: predictor,
		extremes:  extremes,
		logger:    logger.With(slog.String("component", "entry_timing")),
	}
}

// Evaluate combines the long-horizon primary trend with the short-horizon
// timing signal. currentPrice may be 0 when unknown; the evaluator then falls
// back to MA-deviation depth.
func (e *EntryTiming) Evaluate(ctx context.Context, symbol string, primary domain.TrendSignal, currentPrice float64) (EntryEvaluation, error) {
	eval := EntryEvaluation{
		PrimaryTrend:     primary.Status,
		PrimaryTimeframe: primary.Timeframe,
		EntryType:        EntryNone,
	}

	direction, ok := directionFromTrend(primary.Status)
	if !ok {
		eval.Reason = fmt.Sprintf("primary trend %s gives no direction", primary.Status)
		return eval, nil
	}
	eval.Direction = direction

	if !e.cfg.Enabled {
		eval.ShouldEnter = true
		eval.EntryType = EntryImmediate
		eval.Confidence = confidenceDefault
		eval.Reason = "entry timing disabled, entering on primary trend"
		return eval, nil
	}

	short, shortOK := e.resolveShortSignal(ctx, symbol)
	if !shortOK {
		eval.ShouldEnter = true
		eval.EntryType = EntryImmediate
		eval.Confidence = confidenceDefault
		eval.ShortTrend = domain.TrendUndefined
		eval.Reason = "short-horizon trend data unavailable, entering immediately"
		return eval, nil
	}
	eval.ShortTrend = short.Status
	eval.ShortTimeframe = short.Timeframe

	depth, hasDepth := e.correctionDepth(ctx, symbol, direction, currentPrice, short)
	if hasDepth {
		eval.CorrectionDepth = &depth
	}

	shortDir, shortHasDir := directionFromTrend(short.Status)

	switch {
	case shortHasDir && shortDir == direction && hasDepth && depth >= e.cfg.MinCorrectionPct:
		eval.ShouldEnter = true
		eval.EntryType = EntryReversal
		eval.Confidence = confidenceAlignedDeep
		eval.ReversalDetected = true
		eval.TrendAligned = true
		eval.Reason = fmt.Sprintf("trends aligned %s with %.2f%% correction depth (min %.2f%%)", direction, depth, e.cfg.MinCorrectionPct)

	case shortHasDir && shortDir == direction:
		eval.ShouldEnter = true
		eval.EntryType = EntryReversal
		eval.Confidence = confidenceAlignedShallow
		eval.ReversalDetected = true
		eval.TrendAligned = true
		eval.Reason = fmt.Sprintf("trends aligned %s, correction shallow", direction)

	case shortHasDir && shortDir == direction.Opposite():
		eval.EntryType = EntryWaitCorrection
		eval.Confidence = e.cfg.ReversalFloor
		eval.Reason = fmt.Sprintf("short trend %s against primary %s, waiting for correction to turn", short.Status, primary.Status)

	case short.Status == domain.TrendNeutral:
		eval.ShouldEnter = true
		eval.EntryType = EntryImmediate
		eval.Confidence = confidenceShortNeutral
		eval.Reason = "short trend neutral, entering on primary trend"

	default:
		eval.ShouldEnter = true
		eval.EntryType = EntryImmediate
		eval.Confidence = confidenceDefault
		eval.Reason = "no timing signal against entry"
	}

	return eval, nil
}

// resolveShortSignal fetches the configured short-horizon signal, falling
// back to the 15-minute one when undefined.
func (e *EntryTiming) resolveShortSignal(ctx context.Context, symbol string) (domain.TrendSignal, bool) {
	trends, err := e.predictor.GetTrends(ctx, symbol)
	if err != nil {
		e.logger.WarnContext(ctx, "trend fetch failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return domain.TrendSignal{}, false
	}

	if s, ok := trends[e.cfg.ShortTimeframe]; ok && s.Defined() {
		return s, true
	}
	if s, ok := trends[fallbackShortTimeframe]; ok && s.Defined() {
		return s, true
	}
	return domain.TrendSignal{}, false
}

// correctionDepth prefers the extreme tracker when enabled and a current
// price is known; on tracker failure it degrades to the short signal's MA
// deviation, oriented so that a move against the entry direction is positive.
func (e *EntryTiming) correctionDepth(ctx context.Context, symbol string, dir domain.Direction, currentPrice float64, short domain.TrendSignal) (float64, bool) {
	if e.cfg.UseExtremeDepth && e.extremes != nil && currentPrice > 0 {
		res, err := e.extremes.Track(ctx, symbol, dir, currentPrice, e.cfg.LookbackMinutes)
		if err == nil {
			return res.CorrectionDepth, true
		}
		e.logger.WarnContext(ctx, "extreme tracking failed, degrading to MA deviation",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}

	if !short.Defined() {
		return 0, false
	}
	if dir == domain.DirectionShort {
		return short.DeviationPct, true
	}
	return -short.DeviationPct, true
}

func directionFromTrend(s domain.TrendStatus) (domain.Direction, bool) {
	switch s {
	case domain.TrendUp:
		return domain.DirectionLong, true
	case domain.TrendDown:
		return domain.DirectionShort, true
	default:
		return domain.DirectionNone, false
	}
}
