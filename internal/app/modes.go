package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/engine"
	"github.com/leverbot/leverbot/internal/feed"
	"github.com/leverbot/leverbot/internal/platform/hyperbit"
	"github.com/leverbot/leverbot/internal/platform/paper"
	"github.com/leverbot/leverbot/internal/server"
	"github.com/leverbot/leverbot/internal/server/handler"
	"github.com/leverbot/leverbot/internal/strategy"
	"github.com/leverbot/leverbot/internal/trader"
)

// scanLockTTL bounds how long a crashed instance can block a replacement
// from taking over the scan loop.
const scanLockTTL = time.Hour

// runtime bundles the wired trading loop for one mode.
type runtime struct {
	orchestrator *trader.Orchestrator
	dispatcher   *feed.Dispatcher
	registry     *domain.VenueRegistry
	sweep        *engine.SweepFlag
	stream       *feed.Stream
}

// TradeMode runs the full loop: opportunity scanning, entry admission, fill
// reconciliation, exit arbitration, and trailing.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, "scan", scanLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another instance holds the scan lock: %w", err)
			}
			return fmt.Errorf("app: acquire scan lock: %w", err)
		}
		defer unlock()
	}

	rt, err := a.buildRuntime(deps, false)
	if err != nil {
		return err
	}
	defer rt.dispatcher.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.orchestrator.Run(ctx)
	})

	if rt.stream != nil {
		g.Go(func() error {
			err := rt.stream.Run(ctx)
			if err != nil && ctx.Err() == nil {
				_ = deps.Notifier.Notify(ctx, "stream_disconnected", "fill stream gave up reconnecting")
			}
			return err
		})
	}

	a.startPriceRefresh(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)
	a.startServer(ctx, g, deps, rt, "trade")

	return g.Wait()
}

// MonitorMode runs exits and trailing for existing positions without
// opening new ones. The fill stream stays connected so closes reconcile.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	rt, err := a.buildRuntime(deps, false)
	if err != nil {
		return err
	}
	defer rt.dispatcher.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.orchestrator.RunMonitorOnly(ctx)
	})

	if rt.stream != nil {
		g.Go(func() error {
			err := rt.stream.Run(ctx)
			if err != nil && ctx.Err() == nil {
				_ = deps.Notifier.Notify(ctx, "stream_disconnected", "fill stream gave up reconnecting")
			}
			return err
		})
	}

	a.startPriceRefresh(ctx, g, deps)
	a.startServer(ctx, g, deps, rt, "monitor")

	return g.Wait()
}

// PaperMode runs the full loop against the in-memory paper venue. Orders
// fill instantly at the oracle mark price; nothing touches Postgres, Redis,
// or a real venue.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	rt, err := a.buildRuntime(deps, true)
	if err != nil {
		return err
	}
	defer rt.dispatcher.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.orchestrator.Run(ctx)
	})

	a.startServer(ctx, g, deps, rt, "paper")

	return g.Wait()
}

// buildRuntime wires the engines, venue registry, and trading loops shared
// by every mode. When paperVenue is set the registry holds only the paper
// venue; otherwise it holds the configured real venues.
func (a *App) buildRuntime(deps *Dependencies, paperVenue bool) (*runtime, error) {
	sweep := &engine.SweepFlag{}

	reconciler := engine.NewReconciler(
		deps.PositionStore, deps.OrderStore, deps.SignalBus, deps.AuditStore,
		deps.Metrics, a.logger,
	)
	dispatcher := feed.NewDispatcher(reconciler, 0, a.logger)

	var (
		registry *domain.VenueRegistry
		stream   *feed.Stream
	)

	risk := domain.RiskConfig{
		StopLossPct:     a.cfg.Hyperbit.StopLossPct,
		TakeProfitPct:   a.cfg.Hyperbit.TakeProfitPct,
		TrailingEnabled: a.cfg.Hyperbit.TrailingEnabled,
		ExitHorizon:     a.cfg.Hyperbit.ExitHorizon,
		ExitConfidence:  a.cfg.Hyperbit.ExitConfidence,
	}

	if paperVenue {
		venue := paper.NewVenue(
			a.cfg.Paper.Symbols,
			deps.Oracle,
			dispatcher.Dispatch,
			a.logger,
		)
		registry = domain.NewVenueRegistry([]domain.VenueBinding{{
			Venue:             venue,
			Priority:          1,
			MaxPositions:      a.cfg.Trading.MaxActivePositions,
			PredictiveEnabled: a.cfg.Hyperbit.PredictiveEnabled,
			StrategyName:      a.cfg.Trading.StrategyName,
			Risk:              risk,
		}})
	} else {
		if !a.cfg.Hyperbit.Enabled {
			return nil, fmt.Errorf("app: no venue enabled for mode %q", a.cfg.Mode)
		}
		hbCfg := hyperbit.Config{
			BaseURL: a.cfg.Hyperbit.BaseURL,
			WSURL:   a.cfg.Hyperbit.WSURL,
			APIKey:  a.cfg.Hyperbit.APIKey,
		}
		strategyName := a.cfg.Hyperbit.StrategyName
		if strategyName == "" {
			strategyName = a.cfg.Trading.StrategyName
		}
		venue := hyperbit.NewClient(hbCfg)
		registry = domain.NewVenueRegistry([]domain.VenueBinding{{
			Venue:             venue,
			Priority:          a.cfg.Hyperbit.Priority,
			MaxPositions:      a.cfg.Hyperbit.MaxPositions,
			PredictiveEnabled: a.cfg.Hyperbit.PredictiveEnabled,
			StrategyName:      strategyName,
			Risk:              risk,
		}})

		if a.cfg.Hyperbit.WSURL != "" {
			stream = feed.NewStream(
				feed.StreamConfig{MaxAttempts: a.cfg.Hyperbit.WSMaxAttempts},
				hyperbit.VenueName,
				hyperbit.NewFillStream(hbCfg),
				dispatcher.Dispatch,
				deps.Metrics,
				a.logger,
			)
		}
	}

	strategies, err := a.buildStrategies(deps)
	if err != nil {
		return nil, err
	}

	ranker := trader.NewRanker(
		trader.RankerConfig{CrossVenueRebuyBlock: a.cfg.Trading.CrossVenueRebuyBlock},
		registry, strategies, deps.PositionStore, deps.Metrics, a.logger,
	)
	arbiter := engine.NewExitArbiter(deps.Oracle, registry, sweep, deps.Metrics, a.logger)
	trailer := engine.NewTrailingAdjuster(
		engine.TrailingConfig{
			ActivationRatio:     a.cfg.Trailing.ActivationRatio,
			MinInterval:         a.cfg.Trailing.MinInterval.Duration,
			TakeProfitOffsetPct: a.cfg.Trailing.TakeProfitOffsetPct,
			StopLossOffsetPct:   a.cfg.Trailing.StopLossOffsetPct,
			MovementGuardPct:    a.cfg.Trailing.MovementGuardPct,
			ConfidenceFloor:     a.cfg.Trailing.ConfidenceFloor,
			Horizon:             a.cfg.Trailing.Horizon,
		},
		deps.Oracle, deps.PositionStore, reconciler.Locks(), deps.AuditStore, deps.Metrics, a.logger,
	)

	orchestrator := trader.NewOrchestrator(
		trader.Config{
			ScanInterval:       a.cfg.Trading.ScanInterval.Duration,
			MonitorInterval:    a.cfg.Trading.MonitorInterval.Duration,
			MaxActivePositions: a.cfg.Trading.MaxActivePositions,
		},
		ranker, registry, deps.PositionStore, deps.OrderStore,
		arbiter, trailer, sweep, reconciler.Locks(),
		deps.Oracle, deps.PriceCache, deps.AuditStore, deps.Notifier,
		deps.Metrics, a.logger,
	)

	return &runtime{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		registry:     registry,
		sweep:        sweep,
		stream:       stream,
	}, nil
}

// buildStrategies registers the configured strategies.
func (a *App) buildStrategies(deps *Dependencies) (*strategy.Registry, error) {
	amount, ok := new(big.Int).SetString(a.cfg.Trading.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("app: invalid trading.amount %q", a.cfg.Trading.Amount)
	}

	extremes := engine.NewExtremeTracker(deps.Oracle, a.logger)
	timing := engine.NewEntryTiming(engine.EntryTimingConfig{
		Enabled:          a.cfg.Timing.Enabled,
		ShortTimeframe:   a.cfg.Timing.ShortTimeframe,
		MinCorrectionPct: a.cfg.Timing.MinCorrectionPct,
		ReversalFloor:    a.cfg.Timing.ReversalFloor,
		UseExtremeDepth:  a.cfg.Timing.UseExtremeDepth,
		LookbackMinutes:  a.cfg.Timing.LookbackMinutes,
	}, deps.Oracle, extremes, a.logger)

	reg := strategy.NewRegistry()
	reg.Register(a.cfg.Trading.StrategyName, strategy.NewTrendFollow(strategy.Config{
		Name:             a.cfg.Trading.StrategyName,
		Amount:           amount,
		Leverage:         a.cfg.Trading.Leverage,
		StopLossPct:      a.cfg.Trading.StopLossPct,
		TakeProfitPct:    a.cfg.Trading.TakeProfitPct,
		PrimaryTimeframe: a.cfg.Trading.PrimaryTimeframe,
		MinConfidence:    a.cfg.Trading.MinConfidence,
	}, deps.Oracle, deps.Oracle, timing, a.logger))

	return reg, nil
}

// startPriceRefresh caches the mark price of every open position symbol in
// Redis so the monitor loop and the status endpoint read one consistent
// recent price. No-op when no price cache is wired.
func (a *App) startPriceRefresh(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.PriceCache == nil {
		return
	}

	interval := a.cfg.Trading.MonitorInterval.Duration
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.refreshPrices(ctx, deps)
			}
		}
	})
}

func (a *App) refreshPrices(ctx context.Context, deps *Dependencies) {
	open, err := deps.PositionStore.GetOpen(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "price refresh: list open positions", slog.String("error", err.Error()))
		return
	}

	seen := make(map[string]struct{}, len(open))
	for _, pos := range open {
		if _, ok := seen[pos.Symbol]; ok {
			continue
		}
		seen[pos.Symbol] = struct{}{}

		price, err := deps.Oracle.GetCurrentPrice(ctx, pos.Symbol)
		if err != nil {
			a.logger.WarnContext(ctx, "price refresh: fetch failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := deps.PriceCache.SetPrice(ctx, pos.Symbol, price, time.Now()); err != nil {
			a.logger.WarnContext(ctx, "price refresh: cache write failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// startArchiveLoop moves closed positions and audit rows past the retention
// window to S3 once a day. No-op when S3 is not wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	retention := time.Duration(a.cfg.Trading.ArchiveRetentionDays) * 24 * time.Hour
	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				if n, err := deps.Archiver.ArchivePositions(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "archive positions failed", slog.String("error", err.Error()))
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archived positions", slog.Int64("count", n))
				}
				if n, err := deps.Archiver.ArchiveAudit(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "archive audit failed", slog.String("error", err.Error()))
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archived audit rows", slog.Int64("count", n))
				}
			}
		}
	})
}

// startServer runs the HTTP API when enabled and shuts it down when the
// group context is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime, mode string) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(server.Config{Port: a.cfg.Server.Port}, server.Handlers{
		Health:    handler.NewHealthHandler(),
		Positions: handler.NewPositionHandler(deps.PositionStore, rt.orchestrator, a.logger),
		Status:    handler.NewStatusHandler(mode, rt.registry, deps.PositionStore, rt.sweep, a.logger),
		Control:   handler.NewControlHandler(rt.orchestrator, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}, a.logger)

	g.Go(func() error {
		err := srv.Start()
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
