// Package strategy holds the reference signal source and regime classifier used
// when no external signal feed is configured.
package strategy

import (
	"context"
	"fmt"
	"time"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"
	"tradeLifecycle/internal/strategy/indicators"
)

// Config holds parameters for the moving-average crossover signal source.
type Config struct {
	ShortTermMAPeriod int     // e.g., 9
	LongTermMAPeriod  int     // e.g., 21
	ATRPeriod         int     // e.g., 14
	RSIPeriod         int     // e.g., 14
	RSIOverbought     float64 // Longs are skipped at or above this RSI
	RSIOversold       float64 // Shorts are skipped at or below this RSI

	StopATR         float64 // Stop distance in ATRs
	TargetATR       float64 // Target distance in ATRs
	TrailTriggerATR float64 // Favorable move that arms the trailing stop, 0 disables trailing
	TrailOffsetATR  float64
	MaxHoldBars     int // 0 disables

	Period time.Duration // Length of the bars the source is evaluated on
}

// DefaultConfig returns the parameters used by the CLI and the live process.
func DefaultConfig() Config {
	return Config{
		ShortTermMAPeriod: 9,
		LongTermMAPeriod:  21,
		ATRPeriod:         14,
		RSIPeriod:         14,
		RSIOverbought:     70,
		RSIOversold:       30,
		StopATR:           1.5,
		TargetATR:         3,
		TrailTriggerATR:   1,
		TrailOffsetATR:    0.75,
		Period:            15 * time.Minute,
	}
}

// Strategy is a moving-average crossover signal source with ATR-derived risk fields.
type Strategy struct {
	cfg    Config
	logger ports.Logger
}

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.ShortTermMAPeriod <= 0 || cfg.LongTermMAPeriod <= 0 || cfg.ATRPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if cfg.ShortTermMAPeriod >= cfg.LongTermMAPeriod {
		return nil, fmt.Errorf("short term MA period must be less than long term MA period")
	}
	if cfg.StopATR <= 0 || cfg.TargetATR <= 0 {
		return nil, fmt.Errorf("stop and target ATR multiples must be positive")
	}
	if cfg.TrailTriggerATR > 0 && cfg.TrailOffsetATR <= 0 {
		return nil, fmt.Errorf("trailing offset must be positive when trailing is enabled")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("bar period must be positive")
	}
	return &Strategy{cfg: cfg, logger: logger}, nil
}

// RequiredDataPoints returns the minimum history length Evaluate needs.
// The crossover compares the last two bars, so one extra bar is needed beyond the longest lookback.
func (s *Strategy) RequiredDataPoints() int {
	n := s.cfg.LongTermMAPeriod
	if s.cfg.ATRPeriod+1 > n {
		n = s.cfg.ATRPeriod + 1
	}
	if s.cfg.RSIPeriod+1 > n {
		n = s.cfg.RSIPeriod + 1
	}
	return n + 1
}

// Evaluate returns a signal when the short MA crosses the long MA on the last bar.
func (s *Strategy) Evaluate(ctx context.Context, history []domain.Bar) (*domain.Signal, bool) {
	if len(history) < s.RequiredDataPoints() {
		s.logger.Debug(ctx, "Not enough bar data for strategy evaluation",
			map[string]interface{}{"available": len(history), "required": s.RequiredDataPoints()})
		return nil, false
	}
	prev := history[:len(history)-1]

	shortNow, err := indicators.SMA(history, s.cfg.ShortTermMAPeriod)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to calculate short term MA")
		return nil, false
	}
	longNow, _ := indicators.SMA(history, s.cfg.LongTermMAPeriod)
	shortPrev, _ := indicators.SMA(prev, s.cfg.ShortTermMAPeriod)
	longPrev, _ := indicators.SMA(prev, s.cfg.LongTermMAPeriod)

	var side domain.Side
	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		side = domain.Long
	case shortPrev >= longPrev && shortNow < longNow:
		side = domain.Short
	default:
		return nil, false
	}

	rsi, err := indicators.RSI(history, s.cfg.RSIPeriod)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to calculate RSI")
		return nil, false
	}
	if (side == domain.Long && rsi >= s.cfg.RSIOverbought) || (side == domain.Short && rsi <= s.cfg.RSIOversold) {
		s.logger.Debug(ctx, "Crossover skipped on RSI extreme", map[string]interface{}{"side": side, "rsi": rsi})
		return nil, false
	}

	atr, err := indicators.ATR(history, s.cfg.ATRPeriod)
	if err != nil || atr <= 0 {
		s.logger.Debug(ctx, "Crossover skipped without volatility", map[string]interface{}{"atr": atr})
		return nil, false
	}

	last := history[len(history)-1]
	dir := side.Direction()
	sig := &domain.Signal{
		Side:       side,
		EntryPrice: last.Close,
		StopLoss:   last.Close - s.cfg.StopATR*atr*dir,
		TakeProfit: last.Close + s.cfg.TargetATR*atr*dir,
		Strategy:   "ma_crossover",
		Timestamp:  last.Timestamp.Add(s.cfg.Period),
		Metadata: map[string]interface{}{
			"atr":     atr,
			"rsi":     rsi,
			"shortMA": shortNow,
			"longMA":  longNow,
		},
	}
	if s.cfg.TrailTriggerATR > 0 {
		sig.TrailingTrigger = domain.Float(s.cfg.TrailTriggerATR * atr)
		sig.TrailingOffset = domain.Float(s.cfg.TrailOffsetATR * atr)
	}
	if s.cfg.MaxHoldBars > 0 {
		sig.MaxHoldBars = domain.Int(s.cfg.MaxHoldBars)
	}

	s.logger.Info(ctx, "Crossover signal", map[string]interface{}{
		"side":  side,
		"entry": sig.EntryPrice,
		"stop":  sig.StopLoss,
		"atr":   atr,
		"rsi":   rsi,
	})
	return sig, true
}
