package trader

import (
	"context"
	"log/slog"
	"sort"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/metrics"
	"github.com/leverbot/leverbot/internal/strategy"
)

// RankerConfig controls opportunity collection.
type RankerConfig struct {
	// CrossVenueRebuyBlock extends rebuy prevention across venues: an open
	// position on an instrument anywhere blocks new entries on that
	// instrument everywhere.
	CrossVenueRebuyBlock bool
}

// Ranker collects trade candidates from every venue and orders them for
// execution. Opportunities are ephemeral: ranked, consumed, and dropped
// within one scan cycle.
type Ranker struct {
	cfg        RankerConfig
	registry   *domain.VenueRegistry
	strategies *strategy.Registry
	positions  domain.PositionStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewRanker creates a Ranker over the given venue and strategy registries.
func NewRanker(
	cfg RankerConfig,
	registry *domain.VenueRegistry,
	strategies *strategy.Registry,
	positions domain.PositionStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Ranker {
	return &Ranker{
		cfg:        cfg,
		registry:   registry,
		strategies: strategies,
		positions:  positions,
		metrics:    m,
		logger:     logger.With(slog.String("component", "ranker")),
	}
}

// Collect gathers positive trade decisions across all venues and returns them
// ordered by venue priority descending, then confidence descending. Venue and
// instrument failures are logged and skipped, never fatal to the scan.
func (r *Ranker) Collect(ctx context.Context) ([]domain.Opportunity, error) {
	var out []domain.Opportunity

	for _, binding := range r.registry.All() {
		venueName := binding.Venue.Name()

		strat, err := r.strategies.Get(binding.StrategyName)
		if err != nil {
			r.logger.ErrorContext(ctx, "venue has no usable strategy",
				slog.String("venue", venueName),
				slog.String("strategy", binding.StrategyName),
				slog.String("error", err.Error()),
			)
			continue
		}

		symbols, err := binding.Venue.ListCandidateInstruments(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "instrument listing failed",
				slog.String("venue", venueName),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, symbol := range symbols {
			blocked, err := r.rebuyBlocked(ctx, venueName, symbol)
			if err != nil {
				r.logger.WarnContext(ctx, "rebuy check failed",
					slog.String("venue", venueName),
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
			if blocked {
				continue
			}

			decision, err := strat.Decide(ctx, symbol)
			if err != nil {
				r.logger.WarnContext(ctx, "strategy decision failed",
					slog.String("venue", venueName),
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !decision.Trade {
				continue
			}

			out = append(out, domain.Opportunity{
				Venue:         venueName,
				Symbol:        symbol,
				Decision:      decision,
				VenuePriority: binding.Priority,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].VenuePriority != out[j].VenuePriority {
			return out[i].VenuePriority > out[j].VenuePriority
		}
		return out[i].Decision.Confidence > out[j].Decision.Confidence
	})

	r.metrics.Opportunities.Add(float64(len(out)))
	return out, nil
}

// rebuyBlocked reports whether an active position on the instrument already
// exists. Same-venue duplicates always block; cross-venue duplicates block
// only when configured.
func (r *Ranker) rebuyBlocked(ctx context.Context, venue, symbol string) (bool, error) {
	open, err := r.positions.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return false, err
	}
	for _, pos := range open {
		if pos.Venue == venue {
			return true, nil
		}
		if r.cfg.CrossVenueRebuyBlock {
			return true, nil
		}
	}
	return false, nil
}
