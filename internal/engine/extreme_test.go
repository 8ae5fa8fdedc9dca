package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/engine"
)

func TestExtremeTrackerLongBias(t *testing.T) {
	candles := candleWindow(60, 50000)
	candles[20].Low = 48000 // window low
	market := &fakeMarket{candles: candles}
	tracker := engine.NewExtremeTracker(market, testLogger())

	res, err := tracker.Track(context.Background(), "BTC-PERP", domain.DirectionLong, 49680, 60)
	require.NoError(t, err)

	assert.Equal(t, 48000.0, res.Extreme)
	assert.Equal(t, candles[20].Timestamp, res.ExtremeAt)
	// (49680-48000)/48000*100 = 3.5
	assert.InDelta(t, 3.5, res.CorrectionDepth, 1e-9)
}

func TestExtremeTrackerShortBias(t *testing.T) {
	candles := candleWindow(60, 50000)
	candles[10].High = 52000
	market := &fakeMarket{candles: candles}
	tracker := engine.NewExtremeTracker(market, testLogger())

	res, err := tracker.Track(context.Background(), "BTC-PERP", domain.DirectionShort, 51480, 60)
	require.NoError(t, err)

	assert.Equal(t, 52000.0, res.Extreme)
	// (52000-51480)/52000*100 = 1.0
	assert.InDelta(t, 1.0, res.CorrectionDepth, 1e-9)
}

func TestExtremeTrackerNegativeDepthBeyondExtreme(t *testing.T) {
	candles := candleWindow(60, 50000)
	candles[20].Low = 48000
	market := &fakeMarket{candles: candles}
	tracker := engine.NewExtremeTracker(market, testLogger())

	// Price below the tracked low: depth must be negative, never "deep
	// enough".
	res, err := tracker.Track(context.Background(), "BTC-PERP", domain.DirectionLong, 47500, 60)
	require.NoError(t, err)
	assert.Negative(t, res.CorrectionDepth)
}

func TestExtremeTrackerEmptyWindow(t *testing.T) {
	tracker := engine.NewExtremeTracker(&fakeMarket{}, testLogger())

	_, err := tracker.Track(context.Background(), "BTC-PERP", domain.DirectionLong, 50000, 60)
	require.ErrorIs(t, err, domain.ErrEmptyWindow)
}

func TestExtremeTrackerRejectsMalformedCandle(t *testing.T) {
	candles := candleWindow(60, 50000)
	candles[5].Low = candles[5].High + 1 // low above high
	tracker := engine.NewExtremeTracker(&fakeMarket{candles: candles}, testLogger())

	_, err := tracker.Track(context.Background(), "BTC-PERP", domain.DirectionLong, 50000, 60)
	require.ErrorIs(t, err, domain.ErrBadCandle)
}

func TestExtremeTrackerRejectsNonPositivePrice(t *testing.T) {
	candles := candleWindow(60, 50000)
	candles[0].Close = 0
	candles[0].Low = 0
	tracker := engine.NewExtremeTracker(&fakeMarket{candles: candles}, testLogger())

	_, err := tracker.Track(context.Background(), "BTC-PERP", domain.DirectionLong, 50000, 60)
	require.ErrorIs(t, err, domain.ErrBadCandle)
}

func TestCandleValidate(t *testing.T) {
	good := domain.Candle{
		Timestamp: time.Now(),
		Open:      10, High: 11, Low: 9, Close: 10.5,
	}
	require.NoError(t, good.Validate())

	bad := good
	bad.High = 9.5 // below open
	require.ErrorIs(t, bad.Validate(), domain.ErrBadCandle)
}
