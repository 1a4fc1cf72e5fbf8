package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"
)

func raw(regime string, confidence float64) domain.RawRegime {
	return domain.RawRegime{Regime: regime, Confidence: confidence}
}

func TestStabilize_FirstCallAdopts(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	_, ok := s.Current()
	assert.False(t, ok)

	out := s.Stabilize(raw("trend_up", 0.1), 0)
	assert.Equal(t, "trend_up", out.Regime)
	assert.Equal(t, domain.RegimeStable, out.State)
	assert.False(t, out.Changed)

	cur, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, out, cur)
}

func TestStabilize_HysteresisHoldsFirstRegime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRegimeDuration = 0
	s, err := New(cfg)
	require.NoError(t, err)

	s.Stabilize(raw("A", 0.9), 0)
	for i := 1; i < 40; i++ {
		label := "A"
		if i%2 == 1 {
			label = "B"
		}
		out := s.Stabilize(raw(label, cfg.MaintainConfidenceThreshold), i)
		require.Equal(t, "A", out.Regime, "bar %d", i)
		require.False(t, out.Changed)
		if label == "B" {
			assert.Equal(t, domain.RegimeUncertain, out.State)
		} else {
			assert.Equal(t, domain.RegimeStable, out.State)
		}
	}
}

func TestStabilize_MinimumDurationLocks(t *testing.T) {
	s, err := New(Config{
		ChangeConfidenceThreshold:   0.7,
		MaintainConfidenceThreshold: 0.5,
		MinRegimeDuration:           3,
		ConsensusWindowSize:         1,
		ConsensusThreshold:          0,
	})
	require.NoError(t, err)

	s.Stabilize(raw("A", 0.9), 0)

	tests := []struct {
		bar       int
		wantState domain.TransitionState
		wantReg   string
	}{
		{1, domain.RegimeLocked, "A"},
		{2, domain.RegimeLocked, "A"},
		{3, domain.RegimeTransition, "B"},
		{4, domain.RegimeStable, "B"},
	}
	for _, tt := range tests {
		out := s.Stabilize(raw("B", 1.0), tt.bar)
		assert.Equal(t, tt.wantState, out.State, "bar %d", tt.bar)
		assert.Equal(t, tt.wantReg, out.Regime, "bar %d", tt.bar)
	}
}

func TestStabilize_SessionRegimeSkipsGates(t *testing.T) {
	s, err := New(Config{
		ChangeConfidenceThreshold:   0.7,
		MaintainConfidenceThreshold: 0.5,
		MinRegimeDuration:           10,
		ConsensusWindowSize:         5,
		ConsensusThreshold:          0.9,
		SessionRegimes:              []string{"opening_range"},
	})
	require.NoError(t, err)

	s.Stabilize(raw("opening_range", 1), 0)
	s.Stabilize(raw("opening_range", 1), 1)

	out := s.Stabilize(raw("trend_up", 0.8), 2)
	assert.Equal(t, domain.RegimeTransition, out.State)
	assert.Equal(t, "trend_up", out.Regime)
	assert.Equal(t, "opening_range", out.Previous)
	assert.True(t, out.Changed)
	assert.Len(t, s.history.last(5), 1, "history is cleared when leaving a session regime")

	// Back in a normal regime the minimum duration applies again.
	out = s.Stabilize(raw("range", 0.95), 3)
	assert.Equal(t, domain.RegimeLocked, out.State)
	assert.Equal(t, "trend_up", out.Regime)
}

func TestStabilize_ConsensusGate(t *testing.T) {
	type step struct {
		raw       domain.RawRegime
		wantState domain.TransitionState
		wantReg   string
		consensus float64
	}
	tests := []struct {
		name   string
		source ConsensusSource
		window int
		thresh float64
		steps  []step
	}{
		{
			name:   "stabilized history never agrees with a new label",
			source: ConsensusStabilized,
			window: 4,
			thresh: 0.5,
			steps: []step{
				{raw("B", 0.6), domain.RegimeUncertain, "A", 0},
				{raw("B", 0.6), domain.RegimeUncertain, "A", 0},
				{raw("B", 0.9), domain.RegimeUncertain, "A", 0},
			},
		},
		{
			name:   "empty source defaults to stabilized",
			window: 4,
			thresh: 0.5,
			steps: []step{
				{raw("B", 0.9), domain.RegimeUncertain, "A", 0},
			},
		},
		{
			name:   "stabilized with zero threshold",
			source: ConsensusStabilized,
			window: 4,
			thresh: 0,
			steps: []step{
				{raw("B", 0.9), domain.RegimeTransition, "B", 0},
				{raw("A", 0.9), domain.RegimeTransition, "A", 0.5},
			},
		},
		{
			name:   "raw labels build agreement",
			source: ConsensusRaw,
			window: 4,
			thresh: 0.5,
			steps: []step{
				{raw("B", 0.6), domain.RegimeTransition, "B", 0.5},
			},
		},
		{
			name:   "raw labels below threshold",
			source: ConsensusRaw,
			window: 3,
			thresh: 0.6,
			steps: []step{
				{raw("B", 0.9), domain.RegimeUncertain, "A", 0.5},
				{raw("B", 0.9), domain.RegimeTransition, "B", 2.0 / 3.0},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Config{
				ChangeConfidenceThreshold:   0.5,
				MaintainConfidenceThreshold: 0.5,
				ConsensusWindowSize:         tt.window,
				ConsensusThreshold:          tt.thresh,
				ConsensusSource:             tt.source,
			})
			require.NoError(t, err)

			s.Stabilize(raw("A", 0.9), 0)
			for i, st := range tt.steps {
				out := s.Stabilize(st.raw, i+1)
				assert.Equal(t, st.wantState, out.State, "bar %d", i+1)
				assert.Equal(t, st.wantReg, out.Regime, "bar %d", i+1)
				assert.InDelta(t, st.consensus, out.Consensus, 1e-9, "bar %d", i+1)
			}
		})
	}
}

func TestStabilize_Reset(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	s.Stabilize(raw("A", 0.9), 0)
	s.Stabilize(raw("A", 0.9), 1)
	s.Reset()

	_, ok := s.Current()
	assert.False(t, ok)
	assert.Empty(t, s.history.last(5))

	out := s.Stabilize(raw("B", 0.2), 2)
	assert.Equal(t, "B", out.Regime)
	assert.Equal(t, domain.RegimeStable, out.State)
}

func TestRing_KeepsMostRecent(t *testing.T) {
	r := newRing(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		r.push(observation{raw: l})
	}
	got := r.last(3)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].raw)
	assert.Equal(t, "e", got[2].raw)
	assert.Len(t, r.last(10), 3)
	assert.Nil(t, r.last(0))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"change above one", func(c *Config) { c.ChangeConfidenceThreshold = 1.1 }},
		{"maintain above change", func(c *Config) { c.MaintainConfidenceThreshold = 0.8 }},
		{"negative duration", func(c *Config) { c.MinRegimeDuration = -1 }},
		{"empty window", func(c *Config) { c.ConsensusWindowSize = 0 }},
		{"unknown consensus source", func(c *Config) { c.ConsensusSource = "median" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}
