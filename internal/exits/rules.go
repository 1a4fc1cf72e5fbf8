package exits

import (
	"fmt"
	"sort"
	"time"
)

// ActionKind selects how a rule computes its stop.
type ActionKind string

const (
	// ActionBreakeven moves the stop to the entry price.
	ActionBreakeven ActionKind = "breakeven"
	// ActionTrail keeps the stop Distance points behind the high-water mark.
	ActionTrail ActionKind = "trail"
	// ActionLock locks LockPct of the MFE (0 is breakeven).
	ActionLock ActionKind = "lock"
)

// Action is the tagged variant a rule applies once its condition holds.
type Action struct {
	Kind     ActionKind
	Distance float64
	LockPct  float64
}

// Rule is one entry of an ordered tightening rule list.
type Rule struct {
	Name         string
	AfterBars    int     // Bars held before the rule may fire
	AfterMinutes int     // Elapsed minutes before the rule may fire (0 disables)
	MinMFE       float64 // MFE in points required before the rule may fire
	Action       Action
}

// Matches reports whether the rule's bar-count, elapsed-time and MFE conditions hold.
func (r Rule) Matches(s State) bool {
	if s.BarsHeld < r.AfterBars {
		return false
	}
	if r.AfterMinutes > 0 && s.Elapsed < time.Duration(r.AfterMinutes)*time.Minute {
		return false
	}
	return s.MFE >= r.MinMFE
}

// Stop returns the stop the rule's action proposes for s.
func (r Rule) Stop(s State) float64 {
	dir := s.Side.Direction()
	switch r.Action.Kind {
	case ActionTrail:
		return s.HighWaterMark - r.Action.Distance*dir
	case ActionLock:
		return s.Entry + s.MFE*r.Action.LockPct*dir
	default:
		return s.Entry
	}
}

func (r Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return string(r.Action.Kind)
}

// Mode controls how a RuleSet combines matching rules.
type Mode string

const (
	// ModeApplyAll evaluates every matching rule and keeps the most protective stop.
	ModeApplyAll Mode = "apply_all"
	// ModeFirstMatch applies only the first matching rule in list order.
	ModeFirstMatch Mode = "first_match"
)

// RuleSet is an ordered rule list interpreted by one evaluator.
type RuleSet struct {
	Name  string
	Mode  Mode
	Rules []Rule
}

// Validate checks the static rule configuration.
func (rs RuleSet) Validate() error {
	if rs.Mode != ModeApplyAll && rs.Mode != ModeFirstMatch {
		return fmt.Errorf("unknown rule mode %q", rs.Mode)
	}
	for i, r := range rs.Rules {
		if r.AfterBars < 0 || r.AfterMinutes < 0 || r.MinMFE < 0 {
			return fmt.Errorf("rule %d (%s): thresholds cannot be negative", i, r.label())
		}
		switch r.Action.Kind {
		case ActionBreakeven:
		case ActionTrail:
			if r.Action.Distance <= 0 {
				return fmt.Errorf("rule %d (%s): trail distance must be positive", i, r.label())
			}
		case ActionLock:
			if r.Action.LockPct < 0 || r.Action.LockPct > 1 {
				return fmt.Errorf("rule %d (%s): lock pct must be within [0, 1]", i, r.label())
			}
		default:
			return fmt.Errorf("rule %d: unknown action %q", i, r.Action.Kind)
		}
	}
	return nil
}

// Propose evaluates the rule list against s and returns a stop strictly tighter
// than s.Stop, if any rule produces one.
func (rs RuleSet) Propose(s State) (Proposal, bool) {
	best := Proposal{Stop: s.Stop}
	found := false
	for _, r := range rs.Rules {
		if !r.Matches(s) {
			continue
		}
		stop := r.Stop(s)
		if Tighter(s.Side, best.Stop, stop) {
			best = Proposal{Stop: stop, Reason: rs.reason(r)}
			found = true
		}
		if rs.Mode == ModeFirstMatch {
			break
		}
	}
	return best, found
}

func (rs RuleSet) reason(r Rule) string {
	if rs.Name == "" {
		return r.label()
	}
	return rs.Name + ":" + r.label()
}

// Tier is one MFE ratchet level.
type Tier struct {
	MinMFE  float64
	LockPct float64 // 0 means breakeven
}

// RatchetTiers builds the first-match rule set for MFE ratchet tiers, highest MinMFE first.
func RatchetTiers(tiers []Tier) RuleSet {
	sorted := append([]Tier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinMFE > sorted[j].MinMFE })

	rules := make([]Rule, 0, len(sorted))
	for _, t := range sorted {
		name := fmt.Sprintf("mfe>=%g", t.MinMFE)
		rules = append(rules, Rule{
			Name:   name,
			MinMFE: t.MinMFE,
			Action: Action{Kind: ActionLock, LockPct: t.LockPct},
		})
	}
	return RuleSet{Name: "ratchet", Mode: ModeFirstMatch, Rules: rules}
}
