package domain

import "math/big"

// TradeDecision is a per-venue strategy's answer to "should we trade this
// instrument now".
type TradeDecision struct {
	Trade      bool
	Direction  Direction
	Confidence float64
	Amount     *big.Int // requested entry amount, exact integer units
	Leverage   int
	StopLoss   float64
	TakeProfit float64
	Reason     string
}

// Opportunity is one ranked trade candidate produced by a scan. It is
// ephemeral: consumed immediately by the orchestrator, never persisted.
type Opportunity struct {
	Venue         string
	Symbol        string
	Decision      TradeDecision
	VenuePriority int
}
