package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"tradeLifecycle/internal/exits"
	"tradeLifecycle/internal/ports"
)

// RuleConfig is one time rule entry in the policy file.
type RuleConfig struct {
	Name         string  `yaml:"name"`
	AfterBars    int     `yaml:"after_bars"`
	AfterMinutes int     `yaml:"after_minutes"`
	MinMFE       float64 `yaml:"min_mfe"`
	Action       string  `yaml:"action"`
	Distance     float64 `yaml:"distance"`
	LockPct      float64 `yaml:"lock_pct"`
}

// RuleSetConfig is an ordered rule list with its combination mode.
type RuleSetConfig struct {
	Name  string       `yaml:"name"`
	Mode  string       `yaml:"mode"`
	Rules []RuleConfig `yaml:"rules"`
}

// TierConfig is one MFE ratchet tier.
type TierConfig struct {
	MinMFE  float64 `yaml:"min_mfe"`
	LockPct float64 `yaml:"lock_pct"`
}

// StructuralConfig enables the structural trailing policy.
type StructuralConfig struct {
	EveryBars int     `yaml:"every_bars"`
	MinMFE    float64 `yaml:"min_mfe"`
	Buffer    float64 `yaml:"buffer"`
}

// ConditionConfig enables the condition-deterioration policy.
type ConditionConfig struct {
	EveryBars int      `yaml:"every_bars"`
	LockPct   *float64 `yaml:"lock_pct"`
}

// PolicyFile is the top-level YAML structure of an exit-policy file.
type PolicyFile struct {
	TimeRules  *RuleSetConfig    `yaml:"time_rules"`
	Ratchet    []TierConfig      `yaml:"ratchet"`
	Structural *StructuralConfig `yaml:"structural"`
	Condition  *ConditionConfig  `yaml:"condition"`
}

// LoadPolicies reads an exit-policy file. An empty path disables every policy.
// The structural and condition policies read from levels and conditions.
func LoadPolicies(path string, levels ports.LevelSource, conditions ports.ConditionSource) (exits.Policies, error) {
	if path == "" {
		return exits.Policies{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return exits.Policies{}, fmt.Errorf("%w: policy file: %w", ports.ErrConfigurationError, err)
	}
	return ParsePolicies(data, levels, conditions)
}

// ParsePolicies decodes and validates a policy document. Unknown keys are rejected.
func ParsePolicies(data []byte, levels ports.LevelSource, conditions ports.ConditionSource) (exits.Policies, error) {
	var file PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return exits.Policies{}, fmt.Errorf("%w: policy file: %w", ports.ErrConfigurationError, err)
	}

	var p exits.Policies
	if file.TimeRules != nil {
		rs := exits.RuleSet{Name: file.TimeRules.Name, Mode: exits.Mode(file.TimeRules.Mode)}
		if rs.Name == "" {
			rs.Name = "time"
		}
		if rs.Mode == "" {
			rs.Mode = exits.ModeApplyAll
		}
		for _, r := range file.TimeRules.Rules {
			rs.Rules = append(rs.Rules, exits.Rule{
				Name:         r.Name,
				AfterBars:    r.AfterBars,
				AfterMinutes: r.AfterMinutes,
				MinMFE:       r.MinMFE,
				Action: exits.Action{
					Kind:     exits.ActionKind(r.Action),
					Distance: r.Distance,
					LockPct:  r.LockPct,
				},
			})
		}
		p.TimeRules = &rs
	}
	if len(file.Ratchet) > 0 {
		tiers := make([]exits.Tier, 0, len(file.Ratchet))
		for _, t := range file.Ratchet {
			tiers = append(tiers, exits.Tier{MinMFE: t.MinMFE, LockPct: t.LockPct})
		}
		rs := exits.RatchetTiers(tiers)
		p.Ratchet = &rs
	}
	if s := file.Structural; s != nil {
		p.Structural = &exits.Structural{EveryBars: s.EveryBars, MinMFE: s.MinMFE, Buffer: s.Buffer, Source: levels}
	}
	if c := file.Condition; c != nil {
		lock := exits.DefaultConditionLockPct
		if c.LockPct != nil {
			lock = *c.LockPct
		}
		p.Condition = &exits.Condition{EveryBars: c.EveryBars, LockPct: lock, Source: conditions}
	}

	if err := p.Validate(); err != nil {
		return exits.Policies{}, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}
	return p, nil
}
