package domain

import "time"

// Trade represents a completed trade. It is created once when a position closes
// and is never modified by the engine afterwards.
type Trade struct {
	ID         int64  // Unique identifier for the trade (assigned by the repository)
	PositionID string // Identifier of the position this trade closed
	Symbol     string
	Side       Side
	Strategy   string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	EntryTime  time.Time
	ExitTime   time.Time
	ExitReason ExitReason
	PointsPnL  float64 // Signed price difference per contract
	DollarPnL  float64 // PointsPnL × point value × quantity, net of commission
	Commission float64
	Duration   time.Duration
	BarsHeld   int
	MFE        float64
	MAE        float64
	Metadata   map[string]interface{}
}

// IsWin reports whether the trade closed with a positive dollar result.
func (t *Trade) IsWin() bool {
	return t.DollarPnL > 0
}
