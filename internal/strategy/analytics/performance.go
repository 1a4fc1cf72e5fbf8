package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradeLifecycle/internal/domain"
)

// PerformanceMetrics holds the performance of a set of closed trades.
// Money figures are in dollars, net of commission.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalProfit   float64
	TotalPoints   float64
	MaxDrawdown   float64 // Peak-to-trough drop of the equity curve, in dollars
	ProfitFactor  float64 // Gross profit / gross loss
	AverageWin    float64
	AverageLoss   float64 // Negative or zero
	FinalBalance  float64

	// Exit quality
	ExitReasons     map[domain.ExitReason]int
	AverageMFE      float64
	AverageMAE      float64
	MFECapture      float64 // Points realised per point of favourable excursion
	AverageBarsHeld float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	RiskRewardRatio      float64
	DailyReturns         map[string]float64
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance computes metrics from closed trades in exit order.
// The caller's slice is not reordered.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance: initialBalance,
		ExitReasons:  make(map[domain.ExitReason]int),
		DailyReturns: make(map[string]float64),
		EquityCurve:  make([]EquityPoint, 0, len(trades)),
	}
	ordered := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t != nil {
			ordered = append(ordered, t)
		}
	}
	if len(ordered) == 0 {
		return metrics
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	balance := decimal.NewFromFloat(initialBalance)
	peak := balance
	grossWin, grossLoss := decimal.Zero, decimal.Zero
	points := decimal.Zero
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration
	var sumMFE, sumMAE float64
	var sumBars int

	for _, trade := range ordered {
		pnl := decimal.NewFromFloat(trade.DollarPnL)
		metrics.TotalTrades++
		metrics.ExitReasons[trade.ExitReason]++

		if trade.IsWin() {
			metrics.WinningTrades++
			grossWin = grossWin.Add(pnl)
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			grossLoss = grossLoss.Add(pnl)
			consecutiveLosses++
			consecutiveWins = 0
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)

		balance = balance.Add(pnl)
		points = points.Add(decimal.NewFromFloat(trade.PointsPnL))
		if balance.GreaterThan(peak) {
			peak = balance
		}
		drawdown := peak.Sub(balance).InexactFloat64()
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     trade.ExitTime,
			Value:    balance.InexactFloat64(),
			Drawdown: drawdown,
		})
		metrics.DailyReturns[trade.ExitTime.UTC().Format("2006-01-02")] += trade.DollarPnL

		totalDuration += trade.ExitTime.Sub(trade.EntryTime)
		sumMFE += trade.MFE
		sumMAE += trade.MAE
		sumBars += trade.BarsHeld
	}

	n := float64(metrics.TotalTrades)
	metrics.FinalBalance = balance.InexactFloat64()
	metrics.TotalProfit = balance.Sub(decimal.NewFromFloat(initialBalance)).InexactFloat64()
	metrics.TotalPoints = points.InexactFloat64()
	metrics.WinRate = float64(metrics.WinningTrades) / n
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = grossWin.InexactFloat64() / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = grossLoss.InexactFloat64() / float64(metrics.LosingTrades)
	}
	if !grossLoss.IsZero() {
		metrics.ProfitFactor = grossWin.Div(grossLoss.Neg()).InexactFloat64()
	}
	if metrics.AverageLoss != 0 {
		metrics.RiskRewardRatio = metrics.AverageWin / -metrics.AverageLoss
	}
	if metrics.MaxDrawdown > 0 {
		metrics.RecoveryFactor = metrics.TotalProfit / metrics.MaxDrawdown
	}
	metrics.Expectancy = metrics.TotalProfit / n
	metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalTrades)
	metrics.AverageMFE = sumMFE / n
	metrics.AverageMAE = sumMAE / n
	metrics.AverageBarsHeld = float64(sumBars) / n
	if sumMFE > 0 {
		metrics.MFECapture = metrics.TotalPoints / sumMFE
	}

	return metrics
}

// GetDailyReturns returns the daily returns as a sorted slice
func (m *PerformanceMetrics) GetDailyReturns() []DailyReturn {
	returns := make([]DailyReturn, 0, len(m.DailyReturns))
	for day, profit := range m.DailyReturns {
		date, _ := time.Parse("2006-01-02", day)
		returns = append(returns, DailyReturn{Day: date, Return: profit})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Day.Before(returns[j].Day)
	})
	return returns
}

// DailyReturn represents the net result of one trading day
type DailyReturn struct {
	Day    time.Time
	Return float64
}
