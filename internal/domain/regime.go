package domain

import "time"

// RawRegime is a per-bar regime classification from an external classifier.
type RawRegime struct {
	Regime     string
	Confidence float64 // 0..1
}

// TransitionState describes how the stabilized regime was reached on a bar.
type TransitionState string

const (
	RegimeStable     TransitionState = "stable"
	RegimeTransition TransitionState = "transition"
	RegimeUncertain  TransitionState = "uncertain"
	RegimeLocked     TransitionState = "locked"
)

// StabilizedRegime is the output of the regime stabilizer for one bar.
type StabilizedRegime struct {
	Regime       string
	Previous     string // Regime before this bar's decision
	State        TransitionState
	Raw          string
	Confidence   float64
	DurationBars int     // Bars since the last committed change
	Consensus    float64 // Reported when the consensus gate was evaluated
	Changed      bool
}

// Level is an externally computed support/resistance price.
type Level struct {
	Price float64
	Label string
}

// ConditionOutlook is the overall reading of a migration/condition signal.
type ConditionOutlook string

const (
	ConditionDeteriorating ConditionOutlook = "deteriorating"
	ConditionImproving     ConditionOutlook = "improving"
	ConditionNeutral       ConditionOutlook = "neutral"
)

// ConditionSignal is the latest migration/condition reading for an instrument.
type ConditionSignal struct {
	OverallSignal ConditionOutlook       `json:"overallSignal"`
	Timestamp     time.Time              `json:"timestamp"`
	Details       map[string]interface{} `json:"details,omitempty"`
}
