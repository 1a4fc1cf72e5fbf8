package backtesting

import (
	"context"
	"time"

	"tradeLifecycle/internal/domain"
)

// ScheduledSignals replays precomputed signals keyed by the start time of the
// coarse bar they were decided on.
type ScheduledSignals map[time.Time]domain.Signal

// NewScheduledSignals indexes signals by their decision bar time.
func NewScheduledSignals(byBar map[time.Time]domain.Signal) ScheduledSignals {
	s := make(ScheduledSignals, len(byBar))
	for t, sig := range byBar {
		s[t.UTC()] = sig
	}
	return s
}

// Evaluate returns the signal scheduled for the last bar of history.
func (s ScheduledSignals) Evaluate(ctx context.Context, history []domain.Bar) (*domain.Signal, bool) {
	if len(history) == 0 {
		return nil, false
	}
	sig, ok := s[history[len(history)-1].Timestamp.UTC()]
	if !ok {
		return nil, false
	}
	sig.Metadata = domain.CloneMetadata(sig.Metadata)
	return &sig, true
}

// ScheduledRegimes replays precomputed raw regime labels keyed by coarse bar time.
type ScheduledRegimes map[time.Time]domain.RawRegime

// NewScheduledRegimes indexes raw regimes by bar time.
func NewScheduledRegimes(byBar map[time.Time]domain.RawRegime) ScheduledRegimes {
	s := make(ScheduledRegimes, len(byBar))
	for t, r := range byBar {
		s[t.UTC()] = r
	}
	return s
}

// Classify returns the label scheduled for the last bar of history.
func (s ScheduledRegimes) Classify(ctx context.Context, history []domain.Bar) (domain.RawRegime, bool) {
	if len(history) == 0 {
		return domain.RawRegime{}, false
	}
	r, ok := s[history[len(history)-1].Timestamp.UTC()]
	return r, ok
}
