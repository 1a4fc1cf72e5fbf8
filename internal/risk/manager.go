package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"
)

// RiskConfig holds configuration for risk management. Zero disables a limit.
type RiskConfig struct {
	MaxDailyLoss        float64 // Dollar loss after which no new positions are opened
	MaxTradesPerSession int
	MaxStopDistance     float64 // Largest accepted entry-to-stop distance in points
	MaxQuantity         float64
}

// RiskManager gates new positions on session results and signal risk.
type RiskManager struct {
	config RiskConfig

	mu    sync.Mutex
	stats RiskStats
}

// RiskStats holds risk management statistics
type RiskStats struct {
	DailyPnL        float64
	PeakPnL         float64
	CurrentDrawdown float64 // Dollars below the session's best result
	DailyTrades     int
	ConsecutiveLoss int
	LastResetTime   int64
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) *RiskManager {
	return &RiskManager{
		config: config,
		stats:  RiskStats{LastResetTime: time.Now().Unix()},
	}
}

// Allow checks whether sig may open a position under the current limits.
func (r *RiskManager) Allow(ctx context.Context, sig domain.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.MaxDailyLoss > 0 && r.stats.DailyPnL <= -r.config.MaxDailyLoss {
		return fmt.Errorf("%w: daily loss %.2f reached limit %.2f", ports.ErrRiskLimitExceeded, -r.stats.DailyPnL, r.config.MaxDailyLoss)
	}

	if r.config.MaxTradesPerSession > 0 && r.stats.DailyTrades >= r.config.MaxTradesPerSession {
		return fmt.Errorf("%w: %d trades this session, maximum %d", ports.ErrRiskLimitExceeded, r.stats.DailyTrades, r.config.MaxTradesPerSession)
	}

	if distance := math.Abs(sig.EntryPrice - sig.StopLoss); r.config.MaxStopDistance > 0 && distance > r.config.MaxStopDistance {
		return fmt.Errorf("%w: stop distance %.2f exceeds maximum %.2f", ports.ErrRiskLimitExceeded, distance, r.config.MaxStopDistance)
	}

	if r.config.MaxQuantity > 0 && sig.Quantity > r.config.MaxQuantity {
		return fmt.Errorf("%w: quantity %g exceeds maximum %g", ports.ErrRiskLimitExceeded, sig.Quantity, r.config.MaxQuantity)
	}

	return nil
}

// UpdateStats folds a completed trade into the session statistics
func (r *RiskManager) UpdateStats(ctx context.Context, trade *domain.Trade) {
	if trade == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.DailyPnL += trade.DollarPnL
	r.stats.DailyTrades++

	if r.stats.DailyPnL > r.stats.PeakPnL {
		r.stats.PeakPnL = r.stats.DailyPnL
	}
	r.stats.CurrentDrawdown = r.stats.PeakPnL - r.stats.DailyPnL

	if trade.IsWin() {
		r.stats.ConsecutiveLoss = 0
	} else {
		r.stats.ConsecutiveLoss++
	}
}

// ResetDailyStats resets daily statistics
func (r *RiskManager) ResetDailyStats(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = RiskStats{LastResetTime: time.Now().Unix()}
}

// GetStats returns a copy of the current risk management statistics
func (r *RiskManager) GetStats() RiskStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
