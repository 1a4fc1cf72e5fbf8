// Package indicators computes the technical indicators used by the reference
// signal source, the trend classifier and the swing level tracker.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"tradeLifecycle/internal/domain"
)

// ErrInsufficientData is returned when a series is shorter than the indicator needs.
var ErrInsufficientData = errors.New("not enough data points")

func need(bars []domain.Bar, n int, name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%s period must be positive, got %d", name, period)
	}
	if len(bars) < n {
		return fmt.Errorf("%w for %s(%d): need %d, got %d", ErrInsufficientData, name, period, n, len(bars))
	}
	return nil
}

// SMA is the simple moving average of the last period closes.
func SMA(bars []domain.Bar, period int) (float64, error) {
	if err := need(bars, period, "SMA", period); err != nil {
		return 0, err
	}
	total := 0.0
	for _, b := range bars[len(bars)-period:] {
		total += b.Close
	}
	return total / float64(period), nil
}

// EMA is the exponential moving average of closes, seeded with the SMA of the first period bars.
func EMA(bars []domain.Bar, period int) (float64, error) {
	if err := need(bars, period, "EMA", period); err != nil {
		return 0, err
	}
	ema, _ := SMA(bars[:period], period)
	k := 2.0 / float64(period+1)
	for _, b := range bars[period:] {
		ema = (b.Close-ema)*k + ema
	}
	return ema, nil
}

// ATR is the average true range using Wilder's smoothing.
func ATR(bars []domain.Bar, period int) (float64, error) {
	if err := need(bars, period+1, "ATR", period); err != nil {
		return 0, err
	}
	tr := make([]float64, len(bars))
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		tr[i] = math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-prevClose), math.Abs(bars[i].Low-prevClose)))
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)
	for i := period; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
	}
	return atr, nil
}

// RSI is the relative strength index of closes using Wilder's smoothing.
func RSI(bars []domain.Bar, period int) (float64, error) {
	if err := need(bars, period+1, "RSI", period); err != nil {
		return 0, err
	}
	p := float64(period)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		if ch := bars[i].Close - bars[i-1].Close; ch > 0 {
			avgGain += ch
		} else {
			avgLoss -= ch
		}
	}
	avgGain /= p
	avgLoss /= p

	for i := period + 1; i < len(bars); i++ {
		ch := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if ch > 0 {
			gain = ch
		} else {
			loss = -ch
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	return 100 - 100/(1+avgGain/avgLoss), nil
}
