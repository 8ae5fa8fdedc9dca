// Package engine implements the trading decision core: extreme tracking,
// entry timing, fill reconciliation, exit arbitration, and trailing
// adjustment. Everything here is computed fresh per call; the position store
// is the only shared mutable state and is owned by the reconciler.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// DefaultLookbackMinutes is the candle window used when the caller does not
// specify one: an hour of 1-minute candles.
const DefaultLookbackMinutes = 60

// staleCandleAge is how old the freshest candle may be before the window is
// considered stale (warned, not fatal).
const staleCandleAge = 5 * time.Minute

// ExtremeResult is the tracked adverse-excursion extreme and the retracement
// of current price from it.
type ExtremeResult struct {
	// Extreme is the lowest low (long bias) or highest high (short bias)
	// observed in the window.
	Extreme   float64
	ExtremeAt time.Time

	// CorrectionDepth is the percentage retracement of current price from
	// the extreme. Negative means price is beyond the extreme, i.e. a new
	// extreme has not been recorded yet; a negative depth never satisfies a
	// "deep enough" check.
	CorrectionDepth float64

	Candles int
}

// ExtremeTracker computes recent price extremes from the market-data
// collaborator. It holds no state between calls.
type ExtremeTracker struct {
	market domain.MarketData
	logger *slog.Logger
}

// NewExtremeTracker creates an ExtremeTracker reading from the given
// market-data source.
func NewExtremeTracker(market domain.MarketData, logger *slog.Logger) *ExtremeTracker {
	return &ExtremeTracker{
		market: market,
		logger: logger.With(slog.String("component", "extreme_tracker")),
	}
}

// Track fetches the candle window for symbol and returns the extreme for the
// given bias plus the correction depth of current relative to it.
// lookbackMinutes <= 0 selects the default window.
func (t *ExtremeTracker) Track(ctx context.Context, symbol string, bias domain.Direction, current float64, lookbackMinutes int) (ExtremeResult, error) {
	if lookbackMinutes <= 0 {
		lookbackMinutes = DefaultLookbackMinutes
	}

	candles, err := t.market.GetCandles(ctx, symbol, lookbackMinutes)
	if err != nil {
		return ExtremeResult{}, fmt.Errorf("engine: get candles for %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return ExtremeResult{}, fmt.Errorf("engine: %s: %w", symbol, domain.ErrEmptyWindow)
	}

	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return ExtremeResult{}, fmt.Errorf("engine: %s: %w", symbol, err)
		}
	}

	if len(candles) < lookbackMinutes/2 {
		t.logger.WarnContext(ctx, "sparse candle window",
			slog.String("symbol", symbol),
			slog.Int("got", len(candles)),
			slog.Int("expected", lookbackMinutes),
		)
	}
	freshest := candles[len(candles)-1].Timestamp
	if age := time.Since(freshest); age > staleCandleAge {
		t.logger.WarnContext(ctx, "stale candle window",
			slog.String("symbol", symbol),
			slog.Duration("age", age),
		)
	}

	res := ExtremeResult{Candles: len(candles)}
	switch bias {
	case domain.DirectionShort:
		res.Extreme = candles[0].High
		res.ExtremeAt = candles[0].Timestamp
		for _, c := range candles[1:] {
			if c.High > res.Extreme {
				res.Extreme = c.High
				res.ExtremeAt = c.Timestamp
			}
		}
		res.CorrectionDepth = (res.Extreme - current) / res.Extreme * 100
	default:
		res.Extreme = candles[0].Low
		res.ExtremeAt = candles[0].Timestamp
		for _, c := range candles[1:] {
			if c.Low < res.Extreme {
				res.Extreme = c.Low
				res.ExtremeAt = c.Timestamp
			}
		}
		res.CorrectionDepth = (current - res.Extreme) / res.Extreme * 100
	}

	return res, nil
}
