package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeLifecycle/internal/adapters/logger"
	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/exits"
	"tradeLifecycle/internal/ports"
	"tradeLifecycle/internal/regime"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"SYMBOL", "POINT_VALUE", "COARSE_INTERVAL", "FINE_INTERVAL", "LOG_FORMAT", "LOG_LEVEL", "PUBLISH_TIMEOUT", "ALLOWED_REGIMES", "SESSION_GAP", "REGIME_CONSENSUS_SOURCE"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, 15*time.Minute, cfg.Period)
	assert.Equal(t, 15*time.Minute, cfg.Strategy.Period)
	assert.Equal(t, 2*time.Second, cfg.PublishTimeout)
	assert.Equal(t, logger.FormatJSON, cfg.LogFormat)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "order.request", cfg.StopChannel)
	assert.Empty(t, cfg.AllowedRegimes)
	assert.Equal(t, regime.ConsensusStabilized, cfg.Regime.ConsensusSource)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SYMBOL", "ESUSDT")
	t.Setenv("POINT_VALUE", "50")
	t.Setenv("SLIPPAGE_POINTS", "0.25")
	t.Setenv("COARSE_INTERVAL", "5m")
	t.Setenv("FINE_INTERVAL", "1m")
	t.Setenv("SESSION_GAP", "2h")
	t.Setenv("ALLOWED_REGIMES", "trend_up, range ,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "Console")
	t.Setenv("REGIME_MIN_DURATION", "5")
	t.Setenv("REGIME_CONSENSUS_SOURCE", "RAW")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ESUSDT", cfg.Symbol)
	assert.Equal(t, 50.0, cfg.PointValue)
	assert.Equal(t, 0.25, cfg.SlippagePoints)
	assert.Equal(t, 5*time.Minute, cfg.Period)
	assert.Equal(t, 2*time.Hour, cfg.SessionGap)
	assert.Equal(t, []string{"trend_up", "range"}, cfg.AllowedRegimes)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, logger.FormatConsole, cfg.LogFormat)
	assert.Equal(t, 5, cfg.Regime.MinRegimeDuration)
	assert.Equal(t, regime.ConsensusRaw, cfg.Regime.ConsensusSource)
}

func TestLoadConfig_CollectsErrors(t *testing.T) {
	t.Setenv("POINT_VALUE", "0")
	t.Setenv("COMMISSION", "abc")
	t.Setenv("COARSE_INTERVAL", "1m")
	t.Setenv("FINE_INTERVAL", "1m")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("PUBLISH_TIMEOUT", "soon")
	t.Setenv("REGIME_CONSENSUS_SOURCE", "median")

	_, err := LoadConfig()
	require.ErrorIs(t, err, ports.ErrConfigurationError)
	for _, want := range []string{"POINT_VALUE", "COMMISSION", "FINE_INTERVAL", "LOG_FORMAT", "PUBLISH_TIMEOUT", "consensus source"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestIntervalDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1m", want: time.Minute},
		{in: "15m", want: 15 * time.Minute},
		{in: "4h", want: 4 * time.Hour},
		{in: "1d", want: 24 * time.Hour},
		{in: "m", wantErr: true},
		{in: "0m", wantErr: true},
		{in: "1w", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := IntervalDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type stubLevels struct{}

func (stubLevels) Levels(symbol string) []domain.Level { return nil }

type stubConditions struct{}

func (stubConditions) Condition(symbol string) (domain.ConditionSignal, bool) {
	return domain.ConditionSignal{}, false
}

const fullPolicy = `
time_rules:
  mode: first_match
  rules:
    - name: trail
      after_minutes: 30
      min_mfe: 2
      action: trail
      distance: 1.5
    - name: breakeven
      after_bars: 10
      action: breakeven
ratchet:
  - min_mfe: 2
    lock_pct: 0
  - min_mfe: 4
    lock_pct: 0.5
structural:
  every_bars: 3
  min_mfe: 2
  buffer: 0.25
condition:
  every_bars: 1
`

func TestParsePolicies(t *testing.T) {
	p, err := ParsePolicies([]byte(fullPolicy), stubLevels{}, stubConditions{})
	require.NoError(t, err)

	require.NotNil(t, p.TimeRules)
	assert.Equal(t, "time", p.TimeRules.Name)
	assert.Equal(t, exits.ModeFirstMatch, p.TimeRules.Mode)
	assert.Equal(t, []exits.Rule{
		{Name: "trail", AfterMinutes: 30, MinMFE: 2, Action: exits.Action{Kind: exits.ActionTrail, Distance: 1.5}},
		{Name: "breakeven", AfterBars: 10, Action: exits.Action{Kind: exits.ActionBreakeven}},
	}, p.TimeRules.Rules)

	require.NotNil(t, p.Ratchet)
	require.Len(t, p.Ratchet.Rules, 2)
	assert.Equal(t, 4.0, p.Ratchet.Rules[0].MinMFE, "highest tier first")

	require.NotNil(t, p.Structural)
	assert.Equal(t, 3, p.Structural.EveryBars)
	assert.Equal(t, 0.25, p.Structural.Buffer)
	assert.NotNil(t, p.Structural.Source)

	require.NotNil(t, p.Condition)
	assert.Equal(t, exits.DefaultConditionLockPct, p.Condition.LockPct)
	assert.NotNil(t, p.Condition.Source)
}

func TestParsePolicies_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "time_rule:\n  rules: []\n"},
		{"unknown action", "time_rules:\n  rules:\n    - action: teleport\n"},
		{"bad mode", "time_rules:\n  mode: random\n"},
		{"lock above one", "ratchet:\n  - min_mfe: 1\n    lock_pct: 1.5\n"},
		{"structural without cadence", "structural:\n  min_mfe: 1\n"},
		{"not yaml", "time_rules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicies([]byte(tt.doc), nil, nil)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	p, err := LoadPolicies("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, exits.Policies{}, p)

	p, err = ParsePolicies(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, exits.Policies{}, p)

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullPolicy), 0o600))
	p, err = LoadPolicies(path, stubLevels{}, stubConditions{})
	require.NoError(t, err)
	assert.NotNil(t, p.TimeRules)

	_, err = LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml"), nil, nil)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
