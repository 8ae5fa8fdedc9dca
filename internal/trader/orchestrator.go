package trader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/engine"
	"github.com/leverbot/leverbot/internal/metrics"
	"github.com/leverbot/leverbot/internal/notify"
)

// Config controls the trading loops.
type Config struct {
	ScanInterval    time.Duration
	MonitorInterval time.Duration

	// MaxActivePositions caps created plus open positions across all venues.
	MaxActivePositions int
}

// Orchestrator runs the two trading loops: the scan loop that turns ranked
// opportunities into new positions, and the monitor loop that drives exits
// and trailing for open ones. Position state changes from fills arrive
// through the reconciler, not through these loops.
type Orchestrator struct {
	cfg       Config
	ranker    *Ranker
	registry  *domain.VenueRegistry
	positions domain.PositionStore
	orders    domain.OrderStore
	arbiter   *engine.ExitArbiter
	trailer   *engine.TrailingAdjuster
	sweep     *engine.SweepFlag
	locks     *engine.PositionLocks
	market    domain.MarketData
	prices    domain.PriceCache
	audit     domain.AuditStore
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. prices, audit, and notifier may be
// nil.
func NewOrchestrator(
	cfg Config,
	ranker *Ranker,
	registry *domain.VenueRegistry,
	positions domain.PositionStore,
	orders domain.OrderStore,
	arbiter *engine.ExitArbiter,
	trailer *engine.TrailingAdjuster,
	sweep *engine.SweepFlag,
	locks *engine.PositionLocks,
	market domain.MarketData,
	prices domain.PriceCache,
	audit domain.AuditStore,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 15 * time.Second
	}
	return &Orchestrator{
		cfg:       cfg,
		ranker:    ranker,
		registry:  registry,
		positions: positions,
		orders:    orders,
		arbiter:   arbiter,
		trailer:   trailer,
		sweep:     sweep,
		locks:     locks,
		market:    market,
		prices:    prices,
		audit:     audit,
		notifier:  notifier,
		metrics:   m,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts the scan and monitor loops as concurrent goroutines using an
// errgroup. Each loop respects ctx cancellation; a non-context error from
// either cancels the shared context and Run returns it.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		slog.Duration("scan_interval", o.cfg.ScanInterval),
		slog.Duration("monitor_interval", o.cfg.MonitorInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.runLoop(ctx, o.cfg.ScanInterval, func(ctx context.Context) {
			if _, err := o.ScanOnce(ctx); err != nil {
				o.logger.ErrorContext(ctx, "scan cycle failed", slog.String("error", err.Error()))
			}
		})
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("scan loop: %w", err)
	})

	g.Go(func() error {
		err := o.runLoop(ctx, o.cfg.MonitorInterval, func(ctx context.Context) {
			if err := o.MonitorOnce(ctx); err != nil {
				o.logger.ErrorContext(ctx, "monitor cycle failed", slog.String("error", err.Error()))
			}
		})
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("monitor loop: %w", err)
	})

	err := g.Wait()
	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// RunMonitorOnly runs only the exit and trailing loop. No new entries are
// opened; existing positions are still monitored, trailed, and closed.
func (o *Orchestrator) RunMonitorOnly(ctx context.Context) error {
	o.logger.Info("orchestrator starting in monitor-only mode",
		slog.Duration("monitor_interval", o.cfg.MonitorInterval),
	)

	err := o.runLoop(ctx, o.cfg.MonitorInterval, func(ctx context.Context) {
		if err := o.MonitorOnce(ctx); err != nil {
			o.logger.ErrorContext(ctx, "monitor cycle failed", slog.String("error", err.Error()))
		}
	})
	if ctx.Err() != nil {
		return nil // clean shutdown
	}
	return fmt.Errorf("monitor loop: %w", err)
}

// runLoop runs fn immediately, then on every tick until ctx is done.
func (o *Orchestrator) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// ScanOnce runs one scan cycle: collect ranked opportunities and open
// positions for as many as the caps allow. Returns the number of entries
// submitted.
func (o *Orchestrator) ScanOnce(ctx context.Context) (int, error) {
	o.metrics.ScanCycles.Inc()

	if o.sweep != nil && o.sweep.Active() {
		o.logger.InfoContext(ctx, "scan skipped, close-all sweep active")
		return 0, nil
	}

	opportunities, err := o.ranker.Collect(ctx)
	if err != nil {
		return 0, fmt.Errorf("trader: collect opportunities: %w", err)
	}

	var submitted int
	for _, op := range opportunities {
		active, err := o.positions.CountActive(ctx)
		if err != nil {
			return submitted, fmt.Errorf("trader: count active positions: %w", err)
		}
		if o.cfg.MaxActivePositions > 0 && active >= o.cfg.MaxActivePositions {
			o.logger.InfoContext(ctx, "global position cap reached",
				slog.Int("active", active),
				slog.Int("cap", o.cfg.MaxActivePositions),
			)
			break
		}

		binding, ok := o.registry.Get(op.Venue)
		if !ok {
			continue
		}
		if binding.MaxPositions > 0 {
			venueActive, err := o.positions.CountActiveByVenue(ctx, op.Venue)
			if err != nil {
				return submitted, fmt.Errorf("trader: count active on %s: %w", op.Venue, err)
			}
			if venueActive >= binding.MaxPositions {
				continue
			}
		}

		if err := o.openPosition(ctx, binding, op); err != nil {
			o.logger.ErrorContext(ctx, "entry submission failed",
				slog.String("venue", op.Venue),
				slog.String("symbol", op.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		submitted++
	}
	return submitted, nil
}

// openPosition creates a position record and submits its entry order. The
// record is created before submission so a fill arriving immediately after
// the venue acknowledges always finds its position; if submission itself
// fails the record is removed again.
func (o *Orchestrator) openPosition(ctx context.Context, binding domain.VenueBinding, op domain.Opportunity) error {
	now := time.Now().UTC()
	pos := domain.Position{
		ID:         uuid.NewString(),
		Venue:      op.Venue,
		Symbol:     op.Symbol,
		Kind:       domain.PositionKindPerp,
		Direction:  op.Decision.Direction,
		Amount:     op.Decision.Amount,
		StopLoss:   op.Decision.StopLoss,
		TakeProfit: op.Decision.TakeProfit,
		Leverage:   op.Decision.Leverage,
		Status:     domain.PositionStatusCreated,
		CreatedAt:  now,
	}
	if err := o.positions.Create(ctx, pos); err != nil {
		return fmt.Errorf("create position: %w", err)
	}

	side := domain.OrderSideBuy
	if op.Decision.Direction == domain.DirectionShort {
		side = domain.OrderSideSell
	}
	req := domain.EntryRequest{
		ClientOrderID: uuid.NewString(),
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Side:          side,
		Amount:        pos.Amount,
		Leverage:      pos.Leverage,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
	}

	handle, err := binding.Venue.SubmitEntry(ctx, req)
	if err != nil {
		if delErr := o.positions.Delete(ctx, pos.ID); delErr != nil {
			o.logger.ErrorContext(ctx, "orphaned created position",
				slog.String("position_id", pos.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return fmt.Errorf("submit entry: %w", err)
	}

	order := domain.Order{
		ID:            handle.OrderID,
		ClientOrderID: req.ClientOrderID,
		PositionID:    pos.ID,
		Venue:         pos.Venue,
		Symbol:        pos.Symbol,
		Side:          side,
		Intent:        domain.FillIntentEntry,
		Amount:        pos.Amount,
		Status:        handle.Status,
		CreatedAt:     now,
	}
	if err := o.orders.Create(ctx, order); err != nil {
		o.logger.ErrorContext(ctx, "order record creation failed",
			slog.String("order_id", handle.OrderID),
			slog.String("error", err.Error()),
		)
	}

	o.metrics.EntriesSubmitted.WithLabelValues(op.Venue).Inc()
	o.auditLog(ctx, "position_created", map[string]any{
		"position_id": pos.ID,
		"venue":       pos.Venue,
		"symbol":      pos.Symbol,
		"direction":   string(pos.Direction),
		"confidence":  op.Decision.Confidence,
		"reason":      op.Decision.Reason,
	})
	o.notify(ctx, "entry_submitted", fmt.Sprintf("%s %s %s: %s",
		pos.Venue, pos.Symbol, pos.Direction, op.Decision.Reason))

	o.logger.InfoContext(ctx, "position created",
		slog.String("position_id", pos.ID),
		slog.String("venue", pos.Venue),
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("confidence", op.Decision.Confidence),
	)
	return nil
}

// MonitorOnce runs one monitor cycle over all open positions: exit decisions
// first, trailing for the survivors. Per-position failures are logged and
// skipped.
func (o *Orchestrator) MonitorOnce(ctx context.Context) error {
	open, err := o.positions.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("trader: list open positions: %w", err)
	}

	for _, pos := range open {
		price, err := o.currentPrice(ctx, pos.Symbol)
		if err != nil {
			o.logger.WarnContext(ctx, "price unavailable, skipping position",
				slog.String("position_id", pos.ID),
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		decision, err := o.arbiter.Evaluate(ctx, pos, price)
		if err != nil {
			o.logger.ErrorContext(ctx, "exit evaluation failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if decision.ShouldExit {
			o.submitExit(ctx, pos, decision)
			continue
		}

		binding, ok := o.registry.Get(pos.Venue)
		if ok && binding.Risk.TrailingEnabled {
			if _, err := o.trailer.Evaluate(ctx, pos, price); err != nil {
				o.logger.ErrorContext(ctx, "trailing evaluation failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

// submitExit sends a closing order for the position. Closure itself happens
// when the exit fill comes back through the reconciler.
func (o *Orchestrator) submitExit(ctx context.Context, pos domain.Position, decision domain.ExitDecision) {
	binding, ok := o.registry.Get(pos.Venue)
	if !ok {
		o.logger.ErrorContext(ctx, "exit for unknown venue",
			slog.String("position_id", pos.ID),
			slog.String("venue", pos.Venue),
		)
		return
	}

	handle, err := binding.Venue.SubmitExit(ctx, pos)
	if err != nil {
		o.logger.ErrorContext(ctx, "exit submission failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	side := domain.OrderSideSell
	if pos.Direction == domain.DirectionShort {
		side = domain.OrderSideBuy
	}
	order := domain.Order{
		ID:            handle.OrderID,
		ClientOrderID: handle.ClientOrderID,
		PositionID:    pos.ID,
		Venue:         pos.Venue,
		Symbol:        pos.Symbol,
		Side:          side,
		Intent:        domain.FillIntentReduce,
		Status:        handle.Status,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.orders.Create(ctx, order); err != nil {
		o.logger.ErrorContext(ctx, "exit order record creation failed",
			slog.String("order_id", handle.OrderID),
			slog.String("error", err.Error()),
		)
	}

	o.auditLog(ctx, "exit_submitted", map[string]any{
		"position_id": pos.ID,
		"venue":       pos.Venue,
		"symbol":      pos.Symbol,
		"reason":      decision.Reason,
		"urgency":     string(decision.Urgency),
	})
	o.notify(ctx, "exit_submitted", fmt.Sprintf("%s %s: %s", pos.Venue, pos.Symbol, decision.Reason))

	o.logger.InfoContext(ctx, "exit submitted",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", decision.Reason),
		slog.String("urgency", string(decision.Urgency)),
	)
}

// RequestExit flags one position for closure on the next monitor cycle. The
// read-modify-write runs under the position's lock so a fill landing at the
// same moment is never overwritten.
func (o *Orchestrator) RequestExit(ctx context.Context, positionID string) error {
	unlock := o.locks.Lock(positionID)
	defer unlock()

	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("trader: request exit for %s: %w", positionID, err)
	}
	if pos.Status == domain.PositionStatusClosed {
		return fmt.Errorf("trader: request exit for %s: %w", positionID, domain.ErrPositionClosed)
	}
	pos.ExitRequested = true
	if err := o.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("trader: flag exit for %s: %w", positionID, err)
	}
	o.auditLog(ctx, "exit_requested", map[string]any{"position_id": positionID})
	return nil
}

// SetCloseAll toggles the close-all sweep. While active, scanning stops and
// every open position exits on the next monitor cycle.
func (o *Orchestrator) SetCloseAll(ctx context.Context, active bool) {
	o.sweep.Set(active)
	o.auditLog(ctx, "close_all_toggled", map[string]any{"active": active})
	o.logger.InfoContext(ctx, "close-all sweep toggled", slog.Bool("active", active))
}

// currentPrice reads the mark price from the cache, falling back to the
// market data service on miss.
func (o *Orchestrator) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if o.prices != nil {
		if price, _, err := o.prices.GetPrice(ctx, symbol); err == nil && price > 0 {
			return price, nil
		}
	}
	return o.market.GetCurrentPrice(ctx, symbol)
}

func (o *Orchestrator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Log(ctx, event, detail); err != nil {
		o.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) notify(ctx context.Context, event, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, message); err != nil {
		o.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
