package paper

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverbot/leverbot/internal/domain"
)

type stubMarket struct {
	price float64
	err   error
}

func (m stubMarket) GetCandles(context.Context, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func (m stubMarket) GetCurrentPrice(context.Context, string) (float64, error) {
	return m.price, m.err
}

func collectFills(fills *[]domain.FillEvent) func(ctx context.Context, ev domain.StreamEvent) {
	return func(_ context.Context, ev domain.StreamEvent) {
		if ev.Fill != nil {
			*fills = append(*fills, *ev.Fill)
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSubmitEntryEmitsSyntheticFill(t *testing.T) {
	var fills []domain.FillEvent
	v := NewVenue([]string{"BTC-PERP"}, stubMarket{price: 50000}, collectFills(&fills), testLogger())

	handle, err := v.SubmitEntry(context.Background(), domain.EntryRequest{
		ClientOrderID: "cli-1",
		PositionID:    "pos-1",
		Symbol:        "BTC-PERP",
		Side:          domain.OrderSideBuy,
		Amount:        big.NewInt(1000),
		Leverage:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, handle.Status)
	assert.Equal(t, "cli-1", handle.ClientOrderID)

	require.Len(t, fills, 1)
	fill := fills[0]
	assert.Equal(t, VenueName, fill.Venue)
	assert.Equal(t, "pos-1", fill.PositionID)
	assert.Equal(t, domain.FillIntentEntry, fill.Intent)
	assert.Equal(t, 50000.0, fill.Price)
	// 1000 notional at 5x over 50000 = 0.1 contracts.
	assert.InDelta(t, 0.1, fill.Size, 1e-9)
	assert.NotEmpty(t, fill.FillID)
}

func TestSubmitEntryRejectsNonPositiveAmount(t *testing.T) {
	var fills []domain.FillEvent
	v := NewVenue(nil, stubMarket{price: 50000}, collectFills(&fills), testLogger())

	_, err := v.SubmitEntry(context.Background(), domain.EntryRequest{
		Symbol: "BTC-PERP",
		Amount: big.NewInt(0),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Empty(t, fills)
}

func TestSubmitExitReportsPnL(t *testing.T) {
	var fills []domain.FillEvent
	v := NewVenue(nil, stubMarket{price: 110}, collectFills(&fills), testLogger())

	_, err := v.SubmitExit(context.Background(), domain.Position{
		ID:            "pos-long",
		Symbol:        "ETH-PERP",
		Direction:     domain.DirectionLong,
		EntryPrice:    100,
		RemainingSize: 2,
	})
	require.NoError(t, err)

	require.Len(t, fills, 1)
	assert.Equal(t, domain.OrderSideSell, fills[0].Side)
	assert.Equal(t, domain.FillIntentReduce, fills[0].Intent)
	assert.InDelta(t, 20.0, fills[0].RealizedPnL, 1e-9)
}

func TestSubmitExitShortInvertsPnL(t *testing.T) {
	var fills []domain.FillEvent
	v := NewVenue(nil, stubMarket{price: 110}, collectFills(&fills), testLogger())

	_, err := v.SubmitExit(context.Background(), domain.Position{
		ID:            "pos-short",
		Symbol:        "ETH-PERP",
		Direction:     domain.DirectionShort,
		EntryPrice:    100,
		RemainingSize: 2,
	})
	require.NoError(t, err)

	require.Len(t, fills, 1)
	assert.Equal(t, domain.OrderSideBuy, fills[0].Side)
	assert.InDelta(t, -20.0, fills[0].RealizedPnL, 1e-9)
}

func TestOrderIDsAreSequential(t *testing.T) {
	v := NewVenue(nil, stubMarket{price: 1}, nil, testLogger())

	h1, err := v.SubmitEntry(context.Background(), domain.EntryRequest{
		Symbol: "A", Side: domain.OrderSideBuy, Amount: big.NewInt(10), Leverage: 1,
	})
	require.NoError(t, err)
	h2, err := v.SubmitEntry(context.Background(), domain.EntryRequest{
		Symbol: "A", Side: domain.OrderSideBuy, Amount: big.NewInt(10), Leverage: 1,
	})
	require.NoError(t, err)
	assert.NotEqual(t, h1.OrderID, h2.OrderID)
}
