package domain

import "time"

// TrendStatus is the direction of a trend signal on one timeframe.
type TrendStatus string

const (
	TrendUp        TrendStatus = "UP"
	TrendDown      TrendStatus = "DOWN"
	TrendNeutral   TrendStatus = "NEUTRAL"
	TrendUndefined TrendStatus = "UNDEFINED"
)

// TrendSignal is a per-instrument, per-timeframe trend reading from the
// predictive-signal service. An UNDEFINED signal carries no numeric fields
// and must never be used in arithmetic.
type TrendSignal struct {
	Status       TrendStatus
	Timeframe    string
	Price        float64
	MovingAvg    float64
	DeviationPct float64
	At           time.Time
}

// Defined reports whether the signal carries usable numeric fields.
func (s TrendSignal) Defined() bool {
	return s.Status != TrendUndefined && s.Status != ""
}

// RecommendationAction is the predictive service's directional advice.
type RecommendationAction string

const (
	ActionBuy  RecommendationAction = "BUY"
	ActionSell RecommendationAction = "SELL"
	ActionHold RecommendationAction = "HOLD"
)

// Recommendation is a directional forecast for one instrument and horizon.
type Recommendation struct {
	Action           RecommendationAction
	Confidence       float64
	PercentageChange float64
	Reason           string
}

// Urgency is a coarse priority tag used to order simultaneous exit
// candidates.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ExitDecision is the arbiter's verdict for one open position. Every decision
// carries a human-readable reason.
type ExitDecision struct {
	ShouldExit bool
	Reason     string
	Confidence float64
	Urgency    Urgency
}
