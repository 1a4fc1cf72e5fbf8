package exits

import (
	"fmt"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"
)

// Structural trails the stop behind the nearest structural level between entry and price.
type Structural struct {
	EveryBars int     // Evaluate on every Nth bar held
	MinMFE    float64 // MFE required before trailing structurally
	Buffer    float64 // Points placed beyond the level
	Source    ports.LevelSource
}

// Validate checks the static configuration.
func (p *Structural) Validate() error {
	if p.EveryBars <= 0 {
		return fmt.Errorf("every_bars must be positive")
	}
	if p.MinMFE < 0 || p.Buffer < 0 {
		return fmt.Errorf("min_mfe and buffer cannot be negative")
	}
	return nil
}

// Propose returns a structural stop when a qualifying level exists.
// Without a source or levels it is a silent no-op.
func (p *Structural) Propose(s State) (Proposal, bool) {
	if p.Source == nil || s.BarsHeld%p.EveryBars != 0 || s.MFE < p.MinMFE {
		return Proposal{}, false
	}
	levels := p.Source.Levels(s.Symbol)
	if len(levels) == 0 {
		return Proposal{}, false
	}
	level, ok := NearestProtectiveLevel(s.Side, s.Entry, s.Close, levels)
	if !ok {
		return Proposal{}, false
	}
	stop := level.Price - p.Buffer*s.Side.Direction()
	if !Tighter(s.Side, s.Stop, stop) {
		return Proposal{}, false
	}
	reason := "structural"
	if level.Label != "" {
		reason += ":" + level.Label
	}
	return Proposal{Stop: stop, Reason: reason}, true
}

// NearestProtectiveLevel picks the level strictly between entry and price that is
// closest to price (the highest such level for longs, the lowest for shorts).
func NearestProtectiveLevel(side domain.Side, entry, price float64, levels []domain.Level) (domain.Level, bool) {
	var best domain.Level
	found := false
	for _, l := range levels {
		var between bool
		if side == domain.Short {
			between = l.Price < entry && l.Price > price
		} else {
			between = l.Price > entry && l.Price < price
		}
		if !between {
			continue
		}
		if !found || Tighter(side, best.Price, l.Price) {
			best = l
			found = true
		}
	}
	return best, found
}
