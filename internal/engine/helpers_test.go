package engine_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMarket serves a fixed candle window and price.
type fakeMarket struct {
	candles []domain.Candle
	price   float64
	err     error
}

func (m *fakeMarket) GetCandles(context.Context, string, int) ([]domain.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.candles, nil
}

func (m *fakeMarket) GetCurrentPrice(context.Context, string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.price, nil
}

// fakePredictor serves canned trends, recommendations, and exit decisions,
// and records how often each was consulted.
type fakePredictor struct {
	trends    map[string]domain.TrendSignal
	trendsErr error

	rec    domain.Recommendation
	recErr error

	exit    domain.ExitDecision
	exitErr error

	trendCalls  int
	recCalls    int
	exitCalls   int
	exitHorizon string
}

func (p *fakePredictor) GetTrends(context.Context, string) (map[string]domain.TrendSignal, error) {
	p.trendCalls++
	if p.trendsErr != nil {
		return nil, p.trendsErr
	}
	return p.trends, nil
}

func (p *fakePredictor) GetRecommendation(context.Context, string, string) (domain.Recommendation, error) {
	p.recCalls++
	if p.recErr != nil {
		return domain.Recommendation{}, p.recErr
	}
	return p.rec, nil
}

func (p *fakePredictor) EvaluateExit(_ context.Context, _ string, _ domain.Direction, horizon string) (domain.ExitDecision, error) {
	p.exitCalls++
	p.exitHorizon = horizon
	if p.exitErr != nil {
		return domain.ExitDecision{}, p.exitErr
	}
	return p.exit, nil
}

// candleWindow builds n ascending 1-minute candles ending now, all around the
// given base price except for explicit overrides applied afterwards.
func candleWindow(n int, base float64) []domain.Candle {
	out := make([]domain.Candle, n)
	start := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := range out {
		out[i] = domain.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      base,
			High:      base * 1.001,
			Low:       base * 0.999,
			Close:     base,
			Volume:    10,
		}
	}
	return out
}

func openPosition(id string) domain.Position {
	now := time.Now().UTC().Add(-time.Hour)
	return domain.Position{
		ID:            id,
		Venue:         "hyperbit",
		Symbol:        "BTC-PERP",
		Kind:          domain.PositionKindPerp,
		Direction:     domain.DirectionLong,
		Amount:        big.NewInt(1000),
		FilledSize:    1,
		RemainingSize: 1,
		EntryPrice:    50000,
		StopLoss:      45000,
		TakeProfit:    60000,
		Leverage:      5,
		Status:        domain.PositionStatusOpen,
		CreatedAt:     now,
		OpenedAt:      &now,
	}
}

func trend(status domain.TrendStatus, timeframe string, dev float64) domain.TrendSignal {
	return domain.TrendSignal{
		Status:       status,
		Timeframe:    timeframe,
		Price:        50000,
		MovingAvg:    50000,
		DeviationPct: dev,
		At:           time.Now(),
	}
}
