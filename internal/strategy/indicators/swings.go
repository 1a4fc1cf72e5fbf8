package indicators

import "tradeLifecycle/internal/domain"

// PivotKind distinguishes swing highs from swing lows.
type PivotKind string

const (
	PivotHigh PivotKind = "swing_high"
	PivotLow  PivotKind = "swing_low"
)

// Pivot is a confirmed swing point.
type Pivot struct {
	Index int
	Kind  PivotKind
	Price float64
}

// Pivots finds swing points confirmed by strength bars on each side.
// A bar is a swing high when its high is strictly above the highs of its neighbours
// (swing lows likewise), so the last strength bars can never be confirmed yet.
func Pivots(bars []domain.Bar, strength int) []Pivot {
	if strength <= 0 {
		return nil
	}
	var out []Pivot
	for i := strength; i < len(bars)-strength; i++ {
		high, low := true, true
		for j := i - strength; j <= i+strength; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				high = false
			}
			if bars[j].Low <= bars[i].Low {
				low = false
			}
		}
		if high {
			out = append(out, Pivot{Index: i, Kind: PivotHigh, Price: bars[i].High})
		}
		if low {
			out = append(out, Pivot{Index: i, Kind: PivotLow, Price: bars[i].Low})
		}
	}
	return out
}
