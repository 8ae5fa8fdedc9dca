package strategy

import (
	"context"
	"math/big"

	"github.com/leverbot/leverbot/internal/domain"
)

// Strategy defines the contract for per-venue entry strategies. A strategy
// answers "should we open a position on this instrument now" and sizes the
// trade; execution and lifecycle belong to the orchestrator.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	Decide(ctx context.Context, symbol string) (domain.TradeDecision, error)
	Close() error
}

// Config holds strategy configuration.
type Config struct {
	Name string

	// Amount is the requested entry amount per trade, exact integer units.
	Amount   *big.Int
	Leverage int

	// StopLossPct / TakeProfitPct position the risk levels relative to the
	// entry price, in percent.
	StopLossPct   float64
	TakeProfitPct float64

	// PrimaryTimeframe is the long-horizon trend the strategy follows.
	PrimaryTimeframe string

	// MinConfidence is the floor below which a decision becomes a no-trade.
	MinConfidence float64

	Params map[string]any
}
