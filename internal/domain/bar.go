package domain

import "time"

// Bar represents a single OHLCV candle.
type Bar struct {
	Timestamp time.Time // Start of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Bar interval (e.g., "1m", "15m")
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool // Whether the bar is closed for its interval
}

// AdverseExtreme returns the price that moved furthest against a position of the given side.
func (b Bar) AdverseExtreme(side Side) float64 {
	if side == Short {
		return b.High
	}
	return b.Low
}

// FavorableExtreme returns the price that moved furthest in favor of a position of the given side.
func (b Bar) FavorableExtreme(side Side) float64 {
	if side == Short {
		return b.Low
	}
	return b.High
}
