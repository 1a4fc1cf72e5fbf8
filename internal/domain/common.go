package domain

// Side represents the direction of a position (long or short).
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Direction returns +1 for long and -1 for short positions.
func (s Side) Direction() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// ParseSide accepts the spellings used by upstream signal producers.
func ParseSide(v string) (Side, bool) {
	switch v {
	case "long", "buy", "BUY", "LONG":
		return Long, true
	case "short", "sell", "SELL", "SHORT":
		return Short, true
	default:
		return "", false
	}
}

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTarget       ExitReason = "target"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTimeExit     ExitReason = "time_exit"
	ExitEndOfData    ExitReason = "end_of_data"
)

// ExitReasons lists every exit reason in precedence order.
var ExitReasons = []ExitReason{ExitStopLoss, ExitTarget, ExitTrailingStop, ExitTimeExit, ExitEndOfData}
