// Package regime smooths a noisy per-bar regime classification into a stable label.
package regime

import (
	"errors"
	"fmt"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"
)

// ConsensusSource selects which labels the consensus gate counts.
type ConsensusSource string

const (
	// ConsensusStabilized counts the stabilized labels of the last window entries.
	ConsensusStabilized ConsensusSource = "stabilized"
	// ConsensusRaw counts the raw labels of the previous window-1 entries plus
	// the current one, so a persistent raw change can build agreement.
	ConsensusRaw ConsensusSource = "raw"
)

// Config holds the stabilizer thresholds.
type Config struct {
	ChangeConfidenceThreshold   float64         // Confidence required to switch regimes
	MaintainConfidenceThreshold float64         // Confidence required to stay in the current regime
	MinRegimeDuration           int             // Bars a committed regime is held before it may change
	ConsensusWindowSize         int             // History entries considered by the consensus gate
	ConsensusThreshold          float64         // Share of the window that must agree with a proposed change
	ConsensusSource             ConsensusSource // Empty means ConsensusStabilized
	SessionRegimes              []string        // Regimes whose boundaries are fixed by the session clock
}

// DefaultConfig returns thresholds suitable for 15-minute bars.
func DefaultConfig() Config {
	return Config{
		ChangeConfidenceThreshold:   0.7,
		MaintainConfidenceThreshold: 0.5,
		MinRegimeDuration:           3,
		ConsensusWindowSize:         5,
		ConsensusThreshold:          0.6,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"change confidence threshold":   c.ChangeConfidenceThreshold,
		"maintain confidence threshold": c.MaintainConfidenceThreshold,
		"consensus threshold":           c.ConsensusThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %g", name, v))
		}
	}
	if c.MaintainConfidenceThreshold > c.ChangeConfidenceThreshold {
		errs = append(errs, errors.New("maintain confidence threshold cannot exceed change confidence threshold"))
	}
	if c.MinRegimeDuration < 0 {
		errs = append(errs, errors.New("min regime duration cannot be negative"))
	}
	if c.ConsensusWindowSize < 1 {
		errs = append(errs, errors.New("consensus window size must be at least 1"))
	}
	switch c.ConsensusSource {
	case "", ConsensusStabilized, ConsensusRaw:
	default:
		errs = append(errs, fmt.Errorf("unknown consensus source %q", c.ConsensusSource))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ports.ErrConfigurationError, errors.Join(errs...))
	}
	return nil
}

type observation struct {
	stabilized string
	raw        string
}

// Stabilizer applies hysteresis, minimum-duration and consensus gates to raw regimes.
// It is not safe for concurrent use.
type Stabilizer struct {
	cfg     Config
	session map[string]bool

	current string
	since   int
	history *ring
	last    domain.StabilizedRegime
}

// New creates a stabilizer.
func New(cfg Config) (*Stabilizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	session := make(map[string]bool, len(cfg.SessionRegimes))
	for _, r := range cfg.SessionRegimes {
		session[r] = true
	}
	return &Stabilizer{
		cfg:     cfg,
		session: session,
		history: newRing(cfg.ConsensusWindowSize),
	}, nil
}

// Current returns the last stabilized result and whether a regime has been committed.
func (s *Stabilizer) Current() (domain.StabilizedRegime, bool) {
	return s.last, s.current != ""
}

// Reset forgets the committed regime and history. Called on session boundaries.
func (s *Stabilizer) Reset() {
	s.current = ""
	s.since = 0
	s.history.clear()
	s.last = domain.StabilizedRegime{}
}

// Stabilize folds one raw classification into the stabilized regime.
func (s *Stabilizer) Stabilize(raw domain.RawRegime, barIndex int) domain.StabilizedRegime {
	out := domain.StabilizedRegime{
		Previous:   s.current,
		Raw:        raw.Regime,
		Confidence: raw.Confidence,
	}

	if s.current == "" {
		s.current = raw.Regime
		s.since = barIndex
		out.Regime = raw.Regime
		out.State = domain.RegimeStable
		return s.finish(out, raw)
	}

	out.Regime = s.current
	out.DurationBars = barIndex - s.since
	changing := raw.Regime != s.current

	required := s.cfg.MaintainConfidenceThreshold
	if changing {
		required = s.cfg.ChangeConfidenceThreshold
	}
	if raw.Confidence < required {
		out.State = domain.RegimeStable
		if changing {
			out.State = domain.RegimeUncertain
		}
		return s.finish(out, raw)
	}

	if !changing {
		out.State = domain.RegimeStable
		return s.finish(out, raw)
	}

	fromSession := s.session[s.current]
	if !fromSession && out.DurationBars < s.cfg.MinRegimeDuration {
		out.State = domain.RegimeLocked
		return s.finish(out, raw)
	}

	if !fromSession {
		out.Consensus = s.consensus(raw.Regime)
		if out.Consensus < s.cfg.ConsensusThreshold {
			out.State = domain.RegimeUncertain
			return s.finish(out, raw)
		}
	}

	s.current = raw.Regime
	s.since = barIndex
	if fromSession {
		s.history.clear()
	}
	out.Regime = raw.Regime
	out.State = domain.RegimeTransition
	out.Changed = true
	out.DurationBars = 0
	return s.finish(out, raw)
}

// consensus is the share of the history window that agrees with the proposed regime.
func (s *Stabilizer) consensus(proposed string) float64 {
	if s.cfg.ConsensusSource == ConsensusRaw {
		window := s.history.last(s.cfg.ConsensusWindowSize - 1)
		agree := 1
		for _, o := range window {
			if o.raw == proposed {
				agree++
			}
		}
		return float64(agree) / float64(len(window)+1)
	}

	window := s.history.last(s.cfg.ConsensusWindowSize)
	if len(window) == 0 {
		return 0
	}
	agree := 0
	for _, o := range window {
		if o.stabilized == proposed {
			agree++
		}
	}
	return float64(agree) / float64(len(window))
}

func (s *Stabilizer) finish(out domain.StabilizedRegime, raw domain.RawRegime) domain.StabilizedRegime {
	s.history.push(observation{stabilized: out.Regime, raw: raw.Regime})
	s.last = out
	return out
}

// ring is a fixed-capacity buffer of observations, oldest first.
type ring struct {
	buf   []observation
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]observation, capacity)}
}

func (r *ring) push(o observation) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = o
		r.size++
		return
	}
	r.buf[r.start] = o
	r.start = (r.start + 1) % len(r.buf)
}

// last returns up to n most recent observations, oldest first.
func (r *ring) last(n int) []observation {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]observation, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

func (r *ring) clear() {
	r.start = 0
	r.size = 0
}
