// Package paper is an in-memory execution venue that fills orders instantly
// at the last known mark price. It is used for dry runs: the engine still
// consumes real market data and predictive signals, but orders never leave
// the process.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leverbot/leverbot/internal/domain"
)

// VenueName identifies the paper venue in the registry.
const VenueName = "paper"

// Venue simulates execution. Every submitted order produces a synthetic fill
// pushed to the sink, exercising the same reconciliation path as live fills.
type Venue struct {
	symbols []string
	market  domain.MarketData
	sink    func(ctx context.Context, ev domain.StreamEvent)
	logger  *slog.Logger

	mu      sync.Mutex
	orderSeq int
}

// NewVenue creates a paper venue over the given instruments. sink receives
// the synthetic fills; it is typically the feed dispatcher.
func NewVenue(
	symbols []string,
	market domain.MarketData,
	sink func(ctx context.Context, ev domain.StreamEvent),
	logger *slog.Logger,
) *Venue {
	return &Venue{
		symbols: symbols,
		market:  market,
		sink:    sink,
		logger:  logger.With(slog.String("component", "paper_venue")),
	}
}

// Name returns the venue identifier.
func (v *Venue) Name() string { return VenueName }

// ListCandidateInstruments returns the configured instruments.
func (v *Venue) ListCandidateInstruments(context.Context) ([]string, error) {
	return v.symbols, nil
}

// SubmitEntry fills the entry instantly at the current mark price.
func (v *Venue) SubmitEntry(ctx context.Context, req domain.EntryRequest) (domain.OrderHandle, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("paper: entry for %s: %w: non-positive amount", req.Symbol, domain.ErrInvalidOrder)
	}

	price, err := v.market.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("paper: mark price for %s: %w", req.Symbol, err)
	}

	orderID := v.nextOrderID()
	size := sizeForAmount(req.Amount, price, req.Leverage)

	v.emit(ctx, domain.StreamEvent{Fill: &domain.FillEvent{
		Venue:      VenueName,
		PositionID: req.PositionID,
		OrderID:    orderID,
		FillID:     uuid.NewString(),
		Symbol:     req.Symbol,
		Size:       size,
		Price:      price,
		Side:       req.Side,
		Intent:     domain.FillIntentEntry,
		Timestamp:  time.Now().UTC(),
	}})

	v.logger.InfoContext(ctx, "paper entry filled",
		slog.String("symbol", req.Symbol),
		slog.Float64("price", price),
		slog.Float64("size", size),
	)
	return domain.OrderHandle{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Status:        domain.OrderStatusFilled,
	}, nil
}

// SubmitExit closes the full remaining size at the current mark price and
// reports the resulting PnL on the fill.
func (v *Venue) SubmitExit(ctx context.Context, pos domain.Position) (domain.OrderHandle, error) {
	price, err := v.market.GetCurrentPrice(ctx, pos.Symbol)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("paper: mark price for %s: %w", pos.Symbol, err)
	}

	side := domain.OrderSideSell
	pnl := (price - pos.EntryPrice) * pos.RemainingSize
	if pos.Direction == domain.DirectionShort {
		side = domain.OrderSideBuy
		pnl = (pos.EntryPrice - price) * pos.RemainingSize
	}

	orderID := v.nextOrderID()
	v.emit(ctx, domain.StreamEvent{Fill: &domain.FillEvent{
		Venue:       VenueName,
		PositionID:  pos.ID,
		OrderID:     orderID,
		FillID:      uuid.NewString(),
		Symbol:      pos.Symbol,
		Size:        pos.RemainingSize,
		Price:       price,
		RealizedPnL: pnl,
		Side:        side,
		Intent:      domain.FillIntentReduce,
		Timestamp:   time.Now().UTC(),
	}})

	v.logger.InfoContext(ctx, "paper exit filled",
		slog.String("position_id", pos.ID),
		slog.Float64("price", price),
		slog.Float64("pnl", pnl),
	)
	return domain.OrderHandle{
		OrderID: orderID,
		Status:  domain.OrderStatusFilled,
	}, nil
}

func (v *Venue) emit(ctx context.Context, ev domain.StreamEvent) {
	if v.sink != nil {
		v.sink(ctx, ev)
	}
}

func (v *Venue) nextOrderID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orderSeq++
	return fmt.Sprintf("paper-%d", v.orderSeq)
}

// sizeForAmount converts a notional amount into contract size at the given
// price, with leverage applied.
func sizeForAmount(amount *big.Int, price float64, leverage int) float64 {
	if price <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	notional, _ := new(big.Float).SetInt(amount).Float64()
	return notional * float64(leverage) / price
}

var _ domain.Venue = (*Venue)(nil)
