// Package backtesting replays coarse decision bars and the fine bars inside them
// through a lifecycle manager.
package backtesting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/lifecycle"
	"tradeLifecycle/internal/metrics"
	"tradeLifecycle/internal/ports"
	"tradeLifecycle/internal/regime"
)

// BacktestConfig holds configuration for one backtest run.
type BacktestConfig struct {
	Lifecycle lifecycle.Config
	Period    time.Duration // Coarse decision period, e.g. 15m

	// A gap between consecutive coarse bars longer than SessionGap is a session
	// boundary. Zero disables session handling.
	SessionGap time.Duration

	// Regime gating. Regime nil disables stabilisation; an empty AllowedRegimes allows every regime.
	Regime         *regime.Config
	AllowedRegimes []string

	// Bars of coarse history handed to the signal source and classifier. Zero keeps all.
	HistoryLimit int
}

// LevelObserver is fed each closed coarse bar, e.g. a swing level tracker.
type LevelObserver interface {
	Observe(bar domain.Bar)
}

// Dependencies are the collaborators of a backtest run. Only Signals and Logger are required.
type Dependencies struct {
	Signals    ports.SignalSource
	Classifier ports.RegimeClassifier
	Levels     LevelObserver
	Risk       ports.RiskGate
	Trades     ports.TradeRepository
	Metrics    *metrics.Metrics
	Logger     ports.Logger
}

// BacktestResult holds the results of a backtest
type BacktestResult struct {
	Trades []*domain.Trade

	Signals         int // Signals produced by the source
	Opened          int
	InvalidSignals  int
	Rejected        int // Signals that arrived while a position was open
	BlockedByRegime int
	BlockedByRisk   int
	OutOfOrderBars  int
	DegradedWindows int
	DuplicateBars   int
	Sessions        int

	// Degraded is set when any coarse period was replayed without fine bars.
	Degraded bool

	RegimeTransitions int
}

// Backtest runs one deterministic replay. All mutable state lives in this call,
// so independent runs may execute in parallel.
func Backtest(ctx context.Context, cfg BacktestConfig, deps Dependencies, coarse, fine []domain.Bar) (*BacktestResult, error) {
	if deps.Signals == nil || deps.Logger == nil {
		return nil, fmt.Errorf("%w: signal source and logger are required", ports.ErrConfigurationError)
	}
	if len(coarse) == 0 {
		return nil, fmt.Errorf("%w: no coarse bars", ports.ErrInvalidRequest)
	}
	for i := 1; i < len(coarse); i++ {
		if !coarse[i].Timestamp.After(coarse[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: coarse bar %d at %s", ports.ErrOutOfOrderBar, i, coarse[i].Timestamp.Format(time.RFC3339))
		}
	}

	manager, err := lifecycle.New(cfg.Lifecycle, deps.Logger)
	if err != nil {
		return nil, err
	}
	rec, err := NewReconciler(ctx, fine, cfg.Period, deps.Logger)
	if err != nil {
		return nil, err
	}
	var stab *regime.Stabilizer
	if cfg.Regime != nil && deps.Classifier != nil {
		if stab, err = regime.New(*cfg.Regime); err != nil {
			return nil, err
		}
	}
	allowed := make(map[string]bool, len(cfg.AllowedRegimes))
	for _, r := range cfg.AllowedRegimes {
		allowed[r] = true
	}

	run := &run{
		cfg:     cfg,
		deps:    deps,
		manager: manager,
		rec:     rec,
		stab:    stab,
		allowed: allowed,
		result:  &BacktestResult{DuplicateBars: rec.Duplicates(), Sessions: 1},
	}
	if !rec.HasFineData() {
		deps.Logger.Warn(ctx, "No fine bars supplied; exits are evaluated on coarse bars", nil)
	}

	for i, bar := range coarse {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
		}
		if i > 0 && cfg.SessionGap > 0 && bar.Timestamp.Sub(coarse[i-1].Timestamp) > cfg.SessionGap {
			run.sessionBoundary(ctx, coarse[i-1])
		}
		run.step(ctx, coarse, i)
	}

	last := coarse[len(coarse)-1]
	lastPrice, lastTime := last.Close, rec.SignalTime(last)
	if b, ok := rec.LastBefore(lastTime); ok && !b.Timestamp.Before(last.Timestamp) {
		lastPrice = b.Close
	}
	run.forceClose(ctx, lastPrice, lastTime)

	deps.Logger.Info(ctx, "Backtest finished", map[string]interface{}{
		"trades":          len(run.result.Trades),
		"signals":         run.result.Signals,
		"invalidSignals":  run.result.InvalidSignals,
		"rejected":        run.result.Rejected,
		"blockedByRegime": run.result.BlockedByRegime,
		"blockedByRisk":   run.result.BlockedByRisk,
		"degradedWindows": run.result.DegradedWindows,
		"duplicateBars":   run.result.DuplicateBars,
	})
	return run.result, nil
}

// run carries the state of one backtest.
type run struct {
	cfg     BacktestConfig
	deps    Dependencies
	manager *lifecycle.Manager
	rec     *Reconciler
	stab    *regime.Stabilizer
	allowed map[string]bool
	result  *BacktestResult

	regimeBar int
	current   string
}

func (r *run) step(ctx context.Context, coarse []domain.Bar, i int) {
	bar := coarse[i]

	// Exits: replay the fine bars of this period into the open position.
	if r.manager.HasPosition() {
		window, degraded := r.rec.Window(bar, bar.Timestamp)
		if degraded {
			r.result.DegradedWindows++
			r.result.Degraded = true
			r.deps.Metrics.DegradedWindow()
		}
		for _, fb := range window {
			trade, err := r.manager.UpdatePosition(ctx, fb)
			if err != nil {
				if errors.Is(err, ports.ErrOutOfOrderBar) {
					r.result.OutOfOrderBars++
					continue
				}
				r.deps.Logger.Error(ctx, err, "Failed to update position", map[string]interface{}{"bar": fb.Timestamp})
				continue
			}
			if trade != nil {
				r.record(ctx, trade)
				break
			}
		}
	}

	if r.deps.Levels != nil {
		r.deps.Levels.Observe(bar)
	}

	history := coarse[:i+1]
	if r.cfg.HistoryLimit > 0 && len(history) > r.cfg.HistoryLimit {
		history = history[len(history)-r.cfg.HistoryLimit:]
	}
	r.classify(ctx, history)

	sig, ok := r.deps.Signals.Evaluate(ctx, history)
	if !ok || sig == nil {
		return
	}
	r.result.Signals++
	r.enter(ctx, *sig, r.rec.SignalTime(bar))
}

func (r *run) classify(ctx context.Context, history []domain.Bar) {
	if r.stab == nil {
		return
	}
	raw, ok := r.deps.Classifier.Classify(ctx, history)
	if !ok {
		return
	}
	out := r.stab.Stabilize(raw, r.regimeBar)
	r.regimeBar++
	r.current = out.Regime
	r.deps.Metrics.RegimeDecided(out.State)
	if out.Changed {
		r.result.RegimeTransitions++
		r.deps.Logger.Debug(ctx, "Regime changed", map[string]interface{}{
			"from":      out.Previous,
			"to":        out.Regime,
			"consensus": out.Consensus,
		})
	}
}

func (r *run) enter(ctx context.Context, sig domain.Signal, at time.Time) {
	// The signal fills at the close of its period, never earlier.
	sig.Timestamp = at

	if err := lifecycle.ValidateSignal(sig); err != nil {
		r.result.InvalidSignals++
		r.deps.Metrics.OpenRejected(metrics.RejectInvalidSignal)
		r.deps.Logger.Warn(ctx, "Invalid signal skipped", map[string]interface{}{"error": err.Error(), "at": at})
		return
	}
	if r.manager.HasPosition() {
		r.result.Rejected++
		r.deps.Metrics.OpenRejected(metrics.RejectAlreadyActive)
		return
	}
	if r.stab != nil && len(r.allowed) > 0 && !r.allowed[r.current] {
		r.result.BlockedByRegime++
		r.deps.Metrics.OpenRejected(metrics.RejectRegime)
		return
	}
	if r.deps.Risk != nil {
		if err := r.deps.Risk.Allow(ctx, sig); err != nil {
			r.result.BlockedByRisk++
			r.deps.Metrics.OpenRejected(metrics.RejectRisk)
			r.deps.Logger.Debug(ctx, "Signal blocked by risk limits", map[string]interface{}{"reason": err.Error()})
			return
		}
	}

	entry := domain.Bar{Timestamp: at, Symbol: r.cfg.Lifecycle.Symbol, Close: sig.EntryPrice}
	if _, err := r.manager.OpenPosition(ctx, sig, entry); err != nil {
		var rej *lifecycle.RejectionError
		if errors.As(err, &rej) {
			r.result.Rejected++
			r.deps.Metrics.OpenRejected(metrics.RejectAlreadyActive)
			return
		}
		r.result.InvalidSignals++
		r.deps.Metrics.OpenRejected(metrics.RejectInvalidSignal)
		return
	}
	r.result.Opened++
	r.deps.Metrics.PositionOpened()
}

func (r *run) sessionBoundary(ctx context.Context, prev domain.Bar) {
	at := r.rec.SignalTime(prev)
	price := prev.Close
	if b, ok := r.rec.LastBefore(at); ok && !b.Timestamp.Before(prev.Timestamp) {
		price = b.Close
	}
	r.forceClose(ctx, price, at)
	if r.stab != nil {
		r.stab.Reset()
		r.current = ""
	}
	if r.deps.Risk != nil {
		r.deps.Risk.ResetDailyStats(ctx)
	}
	r.result.Sessions++
}

func (r *run) forceClose(ctx context.Context, price float64, at time.Time) {
	if !r.manager.HasPosition() {
		return
	}
	trade, err := r.manager.ForceClose(ctx, price, at)
	if err != nil {
		r.deps.Logger.Error(ctx, err, "Failed to force close position", nil)
		return
	}
	r.record(ctx, trade)
}

func (r *run) record(ctx context.Context, trade *domain.Trade) {
	r.result.Trades = append(r.result.Trades, trade)
	r.deps.Metrics.TradeClosed(trade)
	if r.deps.Risk != nil {
		r.deps.Risk.UpdateStats(ctx, trade)
	}
	if r.deps.Trades != nil {
		id, err := r.deps.Trades.CreateTrade(ctx, trade)
		if err != nil {
			r.deps.Logger.Error(ctx, err, "Failed to persist trade", map[string]interface{}{"positionId": trade.PositionID})
			return
		}
		trade.ID = id
	}
}
