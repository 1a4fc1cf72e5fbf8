// Package exits holds the composable stop-tightening policies applied to open positions.
//
// Every policy only ever proposes a stop; a proposal is adopted iff it is strictly
// more protective than the stop in force (see Tighter). Policies never loosen a stop.
package exits

import (
	"fmt"
	"time"

	"tradeLifecycle/internal/domain"
)

// Tighter reports whether proposed is strictly more protective than current for the given side.
func Tighter(side domain.Side, current, proposed float64) bool {
	if side == domain.Short {
		return proposed < current
	}
	return proposed > current
}

// Tightest returns the more protective of a and b for the given side.
func Tightest(side domain.Side, a, b float64) float64 {
	if Tighter(side, a, b) {
		return b
	}
	return a
}

// State is the read-only view of an open position that policies evaluate.
type State struct {
	Symbol        string
	Side          domain.Side
	Entry         float64
	Stop          float64 // Effective stop in force
	HighWaterMark float64
	Close         float64
	MFE           float64
	BarsHeld      int
	Elapsed       time.Duration
}

// StateOf builds the policy state of pos after it has absorbed bar.
func StateOf(pos *domain.Position, bar domain.Bar) State {
	return State{
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Entry:         pos.EntryPrice,
		Stop:          pos.EffectiveStop(),
		HighWaterMark: pos.Trailing.HighWaterMark,
		Close:         bar.Close,
		MFE:           pos.MFE,
		BarsHeld:      pos.BarsHeld,
		Elapsed:       bar.Timestamp.Sub(pos.EntryTime),
	}
}

// Proposal is a candidate stop produced by a policy.
type Proposal struct {
	Stop   float64
	Reason string
}

// Policies bundles the optional tightening policies of a lifecycle manager.
// Nil members are disabled.
type Policies struct {
	TimeRules  *RuleSet
	Ratchet    *RuleSet
	Structural *Structural
	Condition  *Condition
}

// Validate checks the static configuration of every enabled policy.
func (p Policies) Validate() error {
	if p.TimeRules != nil {
		if err := p.TimeRules.Validate(); err != nil {
			return fmt.Errorf("time rules: %w", err)
		}
	}
	if p.Ratchet != nil {
		if err := p.Ratchet.Validate(); err != nil {
			return fmt.Errorf("ratchet tiers: %w", err)
		}
	}
	if p.Structural != nil {
		if err := p.Structural.Validate(); err != nil {
			return fmt.Errorf("structural trailing: %w", err)
		}
	}
	if p.Condition != nil {
		if err := p.Condition.Validate(); err != nil {
			return fmt.Errorf("condition tightening: %w", err)
		}
	}
	return nil
}

// Evaluate returns the proposals of all enabled policies in fixed order:
// time rules, ratchet tiers, structural trailing, condition tightening.
// Each proposal is already tighter than s.Stop; the caller re-checks against
// the stop it has adopted so far.
func (p Policies) Evaluate(s State) []Proposal {
	var out []Proposal
	if p.TimeRules != nil {
		if prop, ok := p.TimeRules.Propose(s); ok {
			out = append(out, prop)
		}
	}
	if p.Ratchet != nil {
		if prop, ok := p.Ratchet.Propose(s); ok {
			out = append(out, prop)
		}
	}
	if p.Structural != nil {
		if prop, ok := p.Structural.Propose(s); ok {
			out = append(out, prop)
		}
	}
	if p.Condition != nil {
		if prop, ok := p.Condition.Propose(s); ok {
			out = append(out, prop)
		}
	}
	return out
}

// FixedTrailing is the point-distance trailing stop carried on a signal.
type FixedTrailing struct {
	Trigger float64 // Favorable excursion that arms the trail
	Offset  float64 // Distance kept from the high-water mark
}

// Armed reports whether the high-water mark has moved far enough from entry.
func (f FixedTrailing) Armed(side domain.Side, entry, highWaterMark float64) bool {
	return (highWaterMark-entry)*side.Direction() >= f.Trigger
}

// Level returns the trailing stop price for the given high-water mark.
func (f FixedTrailing) Level(side domain.Side, highWaterMark float64) float64 {
	return highWaterMark - f.Offset*side.Direction()
}
