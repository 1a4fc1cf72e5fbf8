package exits

import (
	"fmt"
	"sync"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"
)

// DefaultConditionLockPct is the share of MFE locked when conditions deteriorate.
const DefaultConditionLockPct = 0.6

// Condition locks part of the MFE when the migration/condition signal deteriorates.
type Condition struct {
	EveryBars int
	LockPct   float64
	Source    ports.ConditionSource
}

// Validate checks the static configuration.
func (p *Condition) Validate() error {
	if p.EveryBars <= 0 {
		return fmt.Errorf("every_bars must be positive")
	}
	if p.LockPct < 0 || p.LockPct > 1 {
		return fmt.Errorf("lock_pct must be within [0, 1]")
	}
	return nil
}

// Propose queries the condition source every EveryBars bars.
// A missing reading or a position without favorable excursion is a no-op.
func (p *Condition) Propose(s State) (Proposal, bool) {
	if p.Source == nil || s.BarsHeld%p.EveryBars != 0 || s.MFE <= 0 {
		return Proposal{}, false
	}
	sig, ok := p.Source.Condition(s.Symbol)
	if !ok || sig.OverallSignal != domain.ConditionDeteriorating {
		return Proposal{}, false
	}
	stop := s.Entry + s.MFE*p.LockPct*s.Side.Direction()
	if !Tighter(s.Side, s.Stop, stop) {
		return Proposal{}, false
	}
	return Proposal{Stop: stop, Reason: "condition_deteriorating"}, true
}

// ConditionBoard keeps the latest condition reading per symbol in memory.
// It satisfies ports.ConditionSource and is fed by an external subscriber.
type ConditionBoard struct {
	mu     sync.RWMutex
	latest map[string]domain.ConditionSignal
}

// NewConditionBoard creates an empty board.
func NewConditionBoard() *ConditionBoard {
	return &ConditionBoard{latest: make(map[string]domain.ConditionSignal)}
}

// Set stores the latest reading for symbol.
func (b *ConditionBoard) Set(symbol string, sig domain.ConditionSignal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest[symbol] = sig
}

// Condition returns the latest reading for symbol.
func (b *ConditionBoard) Condition(symbol string) (domain.ConditionSignal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sig, ok := b.latest[symbol]
	return sig, ok
}
