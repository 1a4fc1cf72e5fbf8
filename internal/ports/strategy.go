package ports

import (
	"context"

	"tradeLifecycle/internal/domain"
)

// SignalSource produces entry signals at the close of a decision period.
// Implementations hold the strategy-specific heuristics.
type SignalSource interface {
	// Evaluate inspects the bar history (oldest first, last element is the bar that
	// just closed) and returns a signal when one should be taken.
	Evaluate(ctx context.Context, history []domain.Bar) (*domain.Signal, bool)
}

// RegimeClassifier produces the raw, per-bar regime classification.
type RegimeClassifier interface {
	Classify(ctx context.Context, history []domain.Bar) (domain.RawRegime, bool)
}

// LevelSource provides the current structural levels for an instrument.
// Implementations must answer from memory; no blocking I/O.
type LevelSource interface {
	Levels(symbol string) []domain.Level
}

// ConditionSource provides the latest migration/condition reading for an instrument.
// Implementations must answer from memory; no blocking I/O.
type ConditionSource interface {
	Condition(symbol string) (domain.ConditionSignal, bool)
}

// RiskGate decides whether a valid signal may open a position and tracks the
// session results it bases that decision on.
type RiskGate interface {
	Allow(ctx context.Context, sig domain.Signal) error
	UpdateStats(ctx context.Context, trade *domain.Trade)
	ResetDailyStats(ctx context.Context)
}
