package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/engine"
)

const (
	defaultPrimaryTimeframe = "1h"
	defaultMinConfidence    = 0.6
)

// TrendFollow enters in the direction of the long-horizon trend, with the
// entry-timing evaluator deciding whether to take the trade immediately, on a
// confirmed reversal out of a correction, or not at all while a counter-trend
// correction is still running.
type TrendFollow struct {
	cfg    Config
	market domain.MarketData
	pred   domain.Predictor
	timing *engine.EntryTiming
	logger *slog.Logger
}

// NewTrendFollow creates a TrendFollow strategy. The following defaults apply
// when cfg leaves them zero: primary timeframe "1h", minimum confidence 0.6,
// leverage 1.
func NewTrendFollow(
	cfg Config,
	market domain.MarketData,
	pred domain.Predictor,
	timing *engine.EntryTiming,
	logger *slog.Logger,
) *TrendFollow {
	if cfg.PrimaryTimeframe == "" {
		cfg.PrimaryTimeframe = defaultPrimaryTimeframe
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.Amount == nil {
		cfg.Amount = big.NewInt(0)
	}
	return &TrendFollow{
		cfg:    cfg,
		market: market,
		pred:   pred,
		timing: timing,
		logger: logger.With(slog.String("strategy", "trend_follow")),
	}
}

// Name returns the strategy identifier.
func (tf *TrendFollow) Name() string { return "trend_follow" }

// Init performs one-time setup. For TrendFollow this is a no-op.
func (tf *TrendFollow) Init(_ context.Context) error { return nil }

// Close releases resources. For TrendFollow this is a no-op.
func (tf *TrendFollow) Close() error { return nil }

// Decide evaluates one instrument. A no-trade verdict is a valid decision,
// not an error; errors are reserved for data-source failures on the primary
// trend itself.
func (tf *TrendFollow) Decide(ctx context.Context, symbol string) (domain.TradeDecision, error) {
	trends, err := tf.pred.GetTrends(ctx, symbol)
	if err != nil {
		return domain.TradeDecision{}, fmt.Errorf("strategy: trends for %s: %w", symbol, err)
	}

	primary, ok := trends[tf.cfg.PrimaryTimeframe]
	if !ok || !primary.Defined() {
		return domain.TradeDecision{
			Reason: fmt.Sprintf("no defined %s trend for %s", tf.cfg.PrimaryTimeframe, symbol),
		}, nil
	}

	price, err := tf.market.GetCurrentPrice(ctx, symbol)
	if err != nil {
		// Timing can still run on MA deviation without a mark price.
		tf.logger.WarnContext(ctx, "current price unavailable",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		price = 0
	}

	eval, err := tf.timing.Evaluate(ctx, symbol, primary, price)
	if err != nil {
		return domain.TradeDecision{}, fmt.Errorf("strategy: entry timing for %s: %w", symbol, err)
	}

	if !eval.ShouldEnter || eval.Confidence < tf.cfg.MinConfidence {
		return domain.TradeDecision{
			Direction:  eval.Direction,
			Confidence: eval.Confidence,
			Reason:     eval.Reason,
		}, nil
	}

	decision := domain.TradeDecision{
		Trade:      true,
		Direction:  eval.Direction,
		Confidence: eval.Confidence,
		Amount:     new(big.Int).Set(tf.cfg.Amount),
		Leverage:   tf.cfg.Leverage,
		Reason:     eval.Reason,
	}
	if price > 0 {
		decision.StopLoss, decision.TakeProfit = riskLevels(eval.Direction, price, tf.cfg.StopLossPct, tf.cfg.TakeProfitPct)
	}

	tf.logger.InfoContext(ctx, "trade decision",
		slog.String("symbol", symbol),
		slog.String("direction", string(eval.Direction)),
		slog.Float64("confidence", eval.Confidence),
		slog.String("entry_type", string(eval.EntryType)),
	)
	return decision, nil
}

// riskLevels positions stop-loss and take-profit around the reference price.
// A zero percentage leaves the level unset.
func riskLevels(dir domain.Direction, price, slPct, tpPct float64) (sl, tp float64) {
	if dir == domain.DirectionShort {
		if slPct > 0 {
			sl = price * (1 + slPct/100)
		}
		if tpPct > 0 {
			tp = price * (1 - tpPct/100)
		}
		return sl, tp
	}
	if slPct > 0 {
		sl = price * (1 - slPct/100)
	}
	if tpPct > 0 {
		tp = price * (1 + tpPct/100)
	}
	return sl, tp
}
