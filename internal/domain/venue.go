package domain

import (
	"context"
	"sort"
)

// MarketData is the read interface to the candle/price service.
type MarketData interface {
	// GetCandles returns 1-minute candles covering the lookback window,
	// oldest first.
	GetCandles(ctx context.Context, symbol string, lookbackMinutes int) ([]Candle, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Predictor is the read interface to the predictive-signal service.
type Predictor interface {
	// GetTrends returns the per-timeframe trend map for an instrument, keyed
	// by timeframe ("5m", "15m", "1h", ...).
	GetTrends(ctx context.Context, symbol string) (map[string]TrendSignal, error)
	GetRecommendation(ctx context.Context, symbol, horizon string) (Recommendation, error)
	// EvaluateExit asks the service whether an open position in the given
	// direction should be closed, judged over the given horizon. Internal
	// evaluation failures are surfaced as pseudo-decisions whose reason says
	// so; callers must discard those.
	EvaluateExit(ctx context.Context, symbol string, dir Direction, horizon string) (ExitDecision, error)
}

// Venue is the common execution contract each venue adapter implements.
// Order signing and authentication live inside the adapter.
type Venue interface {
	Name() string
	ListCandidateInstruments(ctx context.Context) ([]string, error)
	SubmitEntry(ctx context.Context, req EntryRequest) (OrderHandle, error)
	SubmitExit(ctx context.Context, pos Position) (OrderHandle, error)
}

// RiskConfig holds the deterministic exit thresholds and trailing parameters
// for one venue.
type RiskConfig struct {
	StopLossPct     float64
	TakeProfitPct   float64
	TrailingEnabled bool
	ExitHorizon     string  // recommendation horizon for exit checks
	ExitConfidence  float64 // minimum confidence to honor an exit signal
}

// VenueBinding couples a venue adapter with its scan priority, caps, and
// strategy selection.
type VenueBinding struct {
	Venue             Venue
	Priority          int
	MaxPositions      int
	PredictiveEnabled bool
	StrategyName      string
	Risk              RiskConfig
}

// VenueRegistry is the immutable venue dispatch table, built once at startup
// and passed by reference to every component that needs it. There is no
// mutation path after construction, so reads need no locking.
type VenueRegistry struct {
	byName  map[string]VenueBinding
	ordered []VenueBinding
}

// NewVenueRegistry builds a registry from the given bindings. Bindings are
// ordered by descending priority for iteration.
func NewVenueRegistry(bindings []VenueBinding) *VenueRegistry {
	byName := make(map[string]VenueBinding, len(bindings))
	ordered := make([]VenueBinding, len(bindings))
	copy(ordered, bindings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	for _, b := range ordered {
		byName[b.Venue.Name()] = b
	}
	return &VenueRegistry{byName: byName, ordered: ordered}
}

// Get returns the binding for a venue name.
func (r *VenueRegistry) Get(name string) (VenueBinding, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// All returns the bindings ordered by descending priority. The slice must not
// be modified.
func (r *VenueRegistry) All() []VenueBinding {
	return r.ordered
}
