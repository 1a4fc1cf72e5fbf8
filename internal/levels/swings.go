// Package levels derives structural support/resistance levels from bar history.
package levels

import (
	"sync"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/strategy/indicators"
)

// Config controls the swing tracker.
type Config struct {
	Strength  int // Bars on each side that confirm a swing point
	Lookback  int // Bars of history kept per symbol
	MaxLevels int // Most recent levels published per symbol
}

// DefaultConfig suits 15-minute bars.
func DefaultConfig() Config {
	return Config{Strength: 2, Lookback: 200, MaxLevels: 12}
}

// SwingLevels tracks confirmed swing highs and lows per symbol.
// Observe and Levels may be called from different goroutines.
type SwingLevels struct {
	cfg Config

	mu      sync.RWMutex
	history map[string][]domain.Bar
	levels  map[string][]domain.Level
}

// NewSwingLevels creates an empty tracker.
func NewSwingLevels(cfg Config) *SwingLevels {
	if cfg.Strength <= 0 {
		cfg.Strength = DefaultConfig().Strength
	}
	if cfg.Lookback < 2*cfg.Strength+1 {
		cfg.Lookback = DefaultConfig().Lookback
	}
	if cfg.MaxLevels <= 0 {
		cfg.MaxLevels = DefaultConfig().MaxLevels
	}
	return &SwingLevels{
		cfg:     cfg,
		history: make(map[string][]domain.Bar),
		levels:  make(map[string][]domain.Level),
	}
}

// Observe appends a closed bar and recomputes the levels for its symbol.
func (s *SwingLevels) Observe(bar domain.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[bar.Symbol], bar)
	if len(h) > s.cfg.Lookback {
		h = h[len(h)-s.cfg.Lookback:]
	}
	s.history[bar.Symbol] = h

	pivots := indicators.Pivots(h, s.cfg.Strength)
	if len(pivots) > s.cfg.MaxLevels {
		pivots = pivots[len(pivots)-s.cfg.MaxLevels:]
	}
	out := make([]domain.Level, 0, len(pivots))
	for _, p := range pivots {
		out = append(out, domain.Level{Price: p.Price, Label: string(p.Kind)})
	}
	s.levels[bar.Symbol] = out
}

// Levels returns a copy of the current levels for symbol, oldest first.
func (s *SwingLevels) Levels(symbol string) []domain.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Level(nil), s.levels[symbol]...)
}

// Reset drops all history.
func (s *SwingLevels) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make(map[string][]domain.Bar)
	s.levels = make(map[string][]domain.Level)
}
