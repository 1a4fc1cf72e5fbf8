package domain

import "time"

// TrailingState tracks the trailing stop of an open position.
type TrailingState struct {
	Active        bool    // A trailing level has been adopted
	Level         float64 // Current trailing stop price (valid only when Active)
	HighWaterMark float64 // Best favorable price seen since entry (lowest low for shorts)
}

// StopAdjustment records one tightening of the protective stop.
type StopAdjustment struct {
	Bar       int       // BarsHeld when the adjustment was made
	From      float64   // Effective stop before the adjustment
	To        float64   // Effective stop after the adjustment
	Reason    string    // Policy that produced the new stop
	MFE       float64   // MFE at the time of the adjustment
	Timestamp time.Time // Bar time that produced the adjustment
}

// Position represents an open position held by a lifecycle manager.
type Position struct {
	ID          string
	Symbol      string
	Side        Side
	EntryPrice  float64
	InitialStop float64
	CurrentStop float64
	TargetPrice float64
	Trailing    TrailingState
	BarsHeld    int
	MFE         float64 // Maximum favorable excursion in points
	MAE         float64 // Maximum adverse excursion in points (non-negative)
	EntryTime   time.Time
	LastBarTime time.Time
	Quantity    float64
	Strategy    string

	TrailingTrigger *float64
	TrailingOffset  *float64
	MaxHoldBars     *int
	MaxHoldMinutes  *int

	Metadata    map[string]interface{}
	Adjustments []StopAdjustment
}

// EffectiveStop returns the most protective of the current stop and the trailing level.
func (p *Position) EffectiveStop() float64 {
	if !p.Trailing.Active {
		return p.CurrentStop
	}
	if p.Side == Short {
		if p.Trailing.Level < p.CurrentStop {
			return p.Trailing.Level
		}
		return p.CurrentStop
	}
	if p.Trailing.Level > p.CurrentStop {
		return p.Trailing.Level
	}
	return p.CurrentStop
}

// Clone returns a copy that shares no mutable state with p.
func (p *Position) Clone() Position {
	c := *p
	c.Metadata = CloneMetadata(p.Metadata)
	c.Adjustments = append([]StopAdjustment(nil), p.Adjustments...)
	if p.TrailingTrigger != nil {
		c.TrailingTrigger = Float(*p.TrailingTrigger)
	}
	if p.TrailingOffset != nil {
		c.TrailingOffset = Float(*p.TrailingOffset)
	}
	if p.MaxHoldBars != nil {
		c.MaxHoldBars = Int(*p.MaxHoldBars)
	}
	if p.MaxHoldMinutes != nil {
		c.MaxHoldMinutes = Int(*p.MaxHoldMinutes)
	}
	return c
}
