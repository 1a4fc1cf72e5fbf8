package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/strategy/indicators"
)

// Regime labels produced by TrendClassifier.
const (
	RegimeTrendUp      = "trend_up"
	RegimeTrendDown    = "trend_down"
	RegimeRange        = "range"
	RegimeOpeningRange = "opening_range"
)

// ClassifierConfig holds parameters for the trend classifier.
type ClassifierConfig struct {
	FastPeriod     int
	SlowPeriod     int
	ATRPeriod      int
	TrendThreshold float64 // EMA spread, in ATRs, that separates trend from range

	// Bars starting inside [SessionOpen, SessionOpen+OpeningRange) UTC are labelled
	// opening_range. A zero OpeningRange disables the session label.
	SessionOpen  time.Duration // Offset from UTC midnight, e.g. 13h30m
	OpeningRange time.Duration
}

// DefaultClassifierConfig labels the first 30 minutes of the US cash session.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		FastPeriod:     8,
		SlowPeriod:     21,
		ATRPeriod:      14,
		TrendThreshold: 0.5,
		SessionOpen:    13*time.Hour + 30*time.Minute,
		OpeningRange:   30 * time.Minute,
	}
}

// TrendClassifier classifies bars as trending or ranging from the EMA spread.
type TrendClassifier struct {
	cfg ClassifierConfig
}

// NewTrendClassifier validates cfg and returns a classifier.
func NewTrendClassifier(cfg ClassifierConfig) (*TrendClassifier, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= cfg.FastPeriod || cfg.ATRPeriod <= 0 {
		return nil, fmt.Errorf("classifier periods must be positive with fast < slow")
	}
	if cfg.TrendThreshold <= 0 {
		return nil, fmt.Errorf("trend threshold must be positive")
	}
	return &TrendClassifier{cfg: cfg}, nil
}

// SessionRegimes lists the labels whose boundaries come from the session clock.
func (c *TrendClassifier) SessionRegimes() []string {
	if c.cfg.OpeningRange <= 0 {
		return nil
	}
	return []string{RegimeOpeningRange}
}

// Classify labels the last bar of history.
func (c *TrendClassifier) Classify(ctx context.Context, history []domain.Bar) (domain.RawRegime, bool) {
	if len(history) == 0 {
		return domain.RawRegime{}, false
	}
	last := history[len(history)-1]
	if c.inOpeningRange(last.Timestamp) {
		return domain.RawRegime{Regime: RegimeOpeningRange, Confidence: 1}, true
	}

	fast, err := indicators.EMA(history, c.cfg.FastPeriod)
	if err != nil {
		return domain.RawRegime{}, false
	}
	slow, err := indicators.EMA(history, c.cfg.SlowPeriod)
	if err != nil {
		return domain.RawRegime{}, false
	}
	atr, err := indicators.ATR(history, c.cfg.ATRPeriod)
	if err != nil || atr <= 0 {
		return domain.RawRegime{}, false
	}

	spread := (fast - slow) / atr
	thr := c.cfg.TrendThreshold
	switch {
	case spread >= thr:
		return domain.RawRegime{Regime: RegimeTrendUp, Confidence: math.Min(1, spread/(2*thr))}, true
	case spread <= -thr:
		return domain.RawRegime{Regime: RegimeTrendDown, Confidence: math.Min(1, -spread/(2*thr))}, true
	default:
		return domain.RawRegime{Regime: RegimeRange, Confidence: 1 - math.Abs(spread)/thr}, true
	}
}

func (c *TrendClassifier) inOpeningRange(ts time.Time) bool {
	if c.cfg.OpeningRange <= 0 {
		return false
	}
	ts = ts.UTC()
	sinceMidnight := ts.Sub(ts.Truncate(24 * time.Hour))
	return sinceMidnight >= c.cfg.SessionOpen && sinceMidnight < c.cfg.SessionOpen+c.cfg.OpeningRange
}
