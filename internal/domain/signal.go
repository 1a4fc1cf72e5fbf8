package domain

import "time"

// Signal is an entry decision produced by an external signal source.
// Optional risk fields are nil when the producer did not set them.
type Signal struct {
	Side            Side
	EntryPrice      float64
	StopLoss        float64
	TakeProfit      float64
	TrailingTrigger *float64 // Favorable excursion (points) that arms the trailing stop
	TrailingOffset  *float64 // Distance (points) the trailing stop keeps from the high-water mark
	MaxHoldBars     *int
	MaxHoldMinutes  *int
	Quantity        float64 // Contracts; zero means one
	Strategy        string
	Timestamp       time.Time // Decision time (close of the coarse period)
	Metadata        map[string]interface{}
}

// HasTrailing reports whether both trailing parameters are present.
func (s Signal) HasTrailing() bool {
	return s.TrailingTrigger != nil && s.TrailingOffset != nil
}

// Float returns a pointer to v, for building optional signal fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building optional signal fields.
func Int(v int) *int { return &v }

// CloneMetadata returns a deep-enough copy of a metadata map (nested maps and slices are copied).
func CloneMetadata(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMetadata(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []float64:
		return append([]float64(nil), t...)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
