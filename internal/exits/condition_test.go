package exits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeLifecycle/internal/domain"
)

func TestCondition_LocksMFEWhenDeteriorating(t *testing.T) {
	board := NewConditionBoard()
	p := &Condition{EveryBars: 2, LockPct: DefaultConditionLockPct, Source: board}
	require.NoError(t, p.Validate())

	s := State{Symbol: "NQ", Side: domain.Short, Entry: 100, Stop: 103, MFE: 5, BarsHeld: 2}

	_, ok := p.Propose(s)
	assert.False(t, ok, "no reading yet")

	board.Set("NQ", domain.ConditionSignal{OverallSignal: domain.ConditionImproving})
	_, ok = p.Propose(s)
	assert.False(t, ok, "improving conditions do not tighten")

	board.Set("NQ", domain.ConditionSignal{OverallSignal: domain.ConditionDeteriorating})
	prop, ok := p.Propose(s)
	require.True(t, ok)
	assert.InDelta(t, 97.0, prop.Stop, 1e-9)
	assert.Equal(t, "condition_deteriorating", prop.Reason)

	s.BarsHeld = 3
	_, ok = p.Propose(s)
	assert.False(t, ok, "only queried every EveryBars bars")

	s.BarsHeld = 4
	s.MFE = 0
	_, ok = p.Propose(s)
	assert.False(t, ok, "nothing to lock without favorable excursion")
}

func TestCondition_Validate(t *testing.T) {
	assert.Error(t, (&Condition{EveryBars: 0, LockPct: 0.6}).Validate())
	assert.Error(t, (&Condition{EveryBars: 1, LockPct: 1.2}).Validate())
	assert.NoError(t, (&Condition{EveryBars: 1, LockPct: 0.6}).Validate())
}

func TestFixedTrailing(t *testing.T) {
	f := FixedTrailing{Trigger: 2, Offset: 1}
	assert.False(t, f.Armed(domain.Long, 100, 101))
	assert.True(t, f.Armed(domain.Long, 100, 102))
	assert.Equal(t, 102.0, f.Level(domain.Long, 103))

	assert.True(t, f.Armed(domain.Short, 100, 98))
	assert.Equal(t, 98.0, f.Level(domain.Short, 97))
}
