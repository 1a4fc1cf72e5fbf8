package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/lifecycle"
	"tradeLifecycle/internal/metrics"
	"tradeLifecycle/internal/ports"
	"tradeLifecycle/internal/regime"
)

const (
	maxHistorySize        = 500
	defaultPublishTimeout = 2 * time.Second
)

// Config holds the live service settings.
type Config struct {
	Lifecycle      lifecycle.Config
	CoarseInterval string        // Decision bar interval, e.g. "15m"
	FineInterval   string        // Streamed bar interval, e.g. "1m"
	Period         time.Duration // Duration of one coarse bar
	SessionGap     time.Duration // Fine-bar gap that starts a new session; zero disables
	Regime         *regime.Config
	AllowedRegimes []string
	PublishTimeout time.Duration
	HistoryLimit   int
	// AutoEnter opens positions from the signal source. When false positions
	// are only attached through TrackPosition.
	AutoEnter bool
}

// LevelObserver is fed each closed coarse bar.
type LevelObserver interface {
	Observe(bar domain.Bar)
}

// Dependencies are the collaborators of the live service. Logger and
// MarketData are required; the rest are optional.
type Dependencies struct {
	MarketData  ports.MarketDataClient
	Signals     ports.SignalSource
	Classifier  ports.RegimeClassifier
	Levels      LevelObserver
	Risk        ports.RiskGate
	Trades      ports.TradeRepository
	Adjustments ports.StopAdjustmentRepository
	Publisher   ports.StopAdjustmentPublisher
	Metrics     *metrics.Metrics
	Logger      ports.Logger
}

// OrderRef identifies the broker orders protecting a tracked position.
type OrderRef struct {
	OrderStrategyID string
	OrderID         string
}

// Status is a point-in-time view of the service.
type Status struct {
	Active   bool
	Position *domain.Position
	Regime   string
	Bars     int
}

// LiveService runs one lifecycle manager against a live bar stream.
type LiveService struct {
	cfg     Config
	deps    Dependencies
	manager *lifecycle.Manager
	stab    *regime.Stabilizer
	allowed map[string]bool
	now     func() time.Time

	active atomic.Bool

	// cancelMu guards inflight only, so Deactivate never waits on a cycle.
	cancelMu sync.Mutex
	inflight context.CancelFunc

	// mu serialises update cycles and guards the fields below.
	mu        sync.Mutex
	history   []domain.Bar
	building  *domain.Bar
	ref       OrderRef
	published int
	regimeBar int
	current   string
	lastBar   time.Time
	lastClose float64
}

// NewLiveService validates the configuration and builds the service.
func NewLiveService(cfg Config, deps Dependencies) (*LiveService, error) {
	if deps.Logger == nil || deps.MarketData == nil {
		return nil, fmt.Errorf("%w: logger and market data client are required", ports.ErrConfigurationError)
	}
	if cfg.Period <= 0 || cfg.CoarseInterval == "" || cfg.FineInterval == "" {
		return nil, fmt.Errorf("%w: coarse/fine intervals and period are required", ports.ErrConfigurationError)
	}
	if cfg.AutoEnter && deps.Signals == nil {
		return nil, fmt.Errorf("%w: auto entry needs a signal source", ports.ErrConfigurationError)
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > maxHistorySize {
		cfg.HistoryLimit = maxHistorySize
	}

	manager, err := lifecycle.New(cfg.Lifecycle, deps.Logger)
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

	s := &LiveService{
		cfg:     cfg,
		deps:    deps,
		manager: manager,
		stab:    stab,
		allowed: allowed,
		now:     time.Now,
	}
	s.active.Store(true)
	return s, nil
}

// Start seeds coarse history and processes the fine bar stream until ctx is
// canceled, SIGINT/SIGTERM arrives, or the stream stops.
func (s *LiveService) Start(ctx context.Context) error {
	symbol := s.cfg.Lifecycle.Symbol
	s.deps.Logger.Info(ctx, "Starting live trade manager", map[string]interface{}{"symbol": symbol})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.deps.Logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	history, err := s.deps.MarketData.GetBars(ctx, symbol, s.cfg.CoarseInterval, s.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to load coarse history: %w", err)
	}
	s.Seed(history)

	doneCh, stopCh, err := s.deps.MarketData.StreamBars(ctx, symbol, s.cfg.FineInterval, func(bar domain.Bar) {
		if err := s.HandleBar(ctx, bar); err != nil && !errors.Is(err, ports.ErrInactive) {
			s.deps.Logger.Error(ctx, err, "Bar cycle failed", map[string]interface{}{"bar": bar.Timestamp})
		}
	}, func(err error) {
		s.deps.Logger.Error(ctx, err, "Bar stream error reported")
	})
	if err != nil {
		return fmt.Errorf("failed to start bar stream: %w", err)
	}
	s.deps.Logger.Info(ctx, "Bar stream started", map[string]interface{}{"symbol": symbol, "interval": s.cfg.FineInterval})

	select {
	case <-ctx.Done():
		close(stopCh)
		select {
		case <-doneCh:
		case <-time.After(5 * time.Second):
			s.deps.Logger.Warn(ctx, "Timeout waiting for bar stream to shut down")
		}
	case <-doneCh:
		return fmt.Errorf("%w: bar stream stopped unexpectedly", ports.ErrConnectionFailed)
	}

	s.deps.Logger.Info(ctx, "Live trade manager stopped")
	return nil
}

// Seed replaces the coarse history with closed bars, oldest first.
func (s *LiveService) Seed(history []domain.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history[:0], history...)
	s.trimHistory()
	if s.deps.Levels != nil {
		for _, b := range s.history {
			s.deps.Levels.Observe(b)
		}
	}
}

// Activate re-enables update cycles.
func (s *LiveService) Activate() {
	s.active.Store(true)
}

// Deactivate stops further cycles and cancels any in-flight publish.
// It never blocks on a running cycle.
func (s *LiveService) Deactivate() {
	s.active.Store(false)
	s.cancelMu.Lock()
	if s.inflight != nil {
		s.inflight()
	}
	s.cancelMu.Unlock()
}

// Status returns a snapshot of the service state.
func (s *LiveService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Active: s.active.Load(), Regime: s.current, Bars: len(s.history)}
	if pos, ok := s.manager.Position(); ok {
		st.Position = &pos
	}
	return st
}

// TrackPosition attaches a position filled outside the engine.
func (s *LiveService) TrackPosition(ctx context.Context, sig domain.Signal, bar domain.Bar, ref OrderRef) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.manager.OpenPosition(ctx, sig, bar)
	if err != nil {
		s.rejected(err)
		return nil, err
	}
	s.ref = ref
	s.published = 0
	s.deps.Metrics.PositionOpened()
	return pos, nil
}

// ClosePosition closes the tracked position at an externally reported fill.
func (s *LiveService) ClosePosition(ctx context.Context, price float64, at time.Time, reason domain.ExitReason) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, err := s.manager.ClosePosition(ctx, price, at, reason)
	if err != nil {
		return nil, err
	}
	s.completed(ctx, trade)
	return trade, nil
}

// HandleBar runs one update cycle. Cycles are single-flight: the stop
// adjustments of one bar are published before the next bar is looked at.
func (s *LiveService) HandleBar(ctx context.Context, bar domain.Bar) error {
	if !bar.IsFinal {
		return nil
	}
	if !s.active.Load() {
		return ports.ErrInactive
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return ports.ErrInactive
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.inflight = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		s.inflight = nil
		s.cancelMu.Unlock()
		cancel()
	}()

	// A fine bar opening a new period closes the coarse bar being built; decide
	// on it before this bar can affect a position opened at the period close.
	start := bar.Timestamp.Truncate(s.cfg.Period)
	if s.building != nil && !start.Equal(s.building.Timestamp) {
		s.closeCoarse(cycleCtx, *s.building)
		s.building = nil
	}
	s.sessionCheck(cycleCtx, bar)

	if err := s.update(cycleCtx, bar); err != nil {
		return err
	}
	s.aggregate(bar, start)
	return nil
}

func (s *LiveService) sessionCheck(ctx context.Context, bar domain.Bar) {
	prev, prevClose := s.lastBar, s.lastClose
	s.lastBar, s.lastClose = bar.Timestamp, bar.Close
	if s.cfg.SessionGap <= 0 || prev.IsZero() || bar.Timestamp.Sub(prev) <= s.cfg.SessionGap {
		return
	}
	s.closeSession(ctx, prevClose, prev)
	if s.stab != nil {
		s.stab.Reset()
		s.current = ""
	}
	if s.deps.Risk != nil {
		s.deps.Risk.ResetDailyStats(ctx)
	}
	s.deps.Logger.Info(ctx, "New session started", map[string]interface{}{"bar": bar.Timestamp})
}

// closeSession force-closes a position left open by the previous session at
// the last price it traded.
func (s *LiveService) closeSession(ctx context.Context, price float64, at time.Time) {
	pos, ok := s.manager.Position()
	if !ok {
		return
	}
	// A position entered at the final period close cannot exit before it opened.
	if pos.EntryTime.After(at) {
		at = pos.EntryTime
	}
	trade, err := s.manager.ForceClose(ctx, price, at)
	if err != nil {
		s.deps.Logger.Error(ctx, err, "Failed to force close position", map[string]interface{}{"positionId": pos.ID})
		return
	}
	s.deps.Logger.Info(ctx, "Position closed at session boundary", map[string]interface{}{
		"positionId": trade.PositionID,
		"exit":       trade.ExitPrice,
	})
	s.completed(ctx, trade)
}

func (s *LiveService) update(ctx context.Context, bar domain.Bar) error {
	if !s.manager.HasPosition() {
		return nil
	}
	trade, err := s.manager.UpdatePosition(ctx, bar)
	if err != nil {
		return err
	}
	if trade != nil {
		s.completed(ctx, trade)
		return nil
	}
	s.publishAdjustments(ctx)
	return nil
}

// publishAdjustments sends every adjustment not yet published. Failures are
// logged and counted; the engine state is never rolled back.
func (s *LiveService) publishAdjustments(ctx context.Context) {
	pos, ok := s.manager.Position()
	if !ok {
		return
	}
	for s.published < len(pos.Adjustments) {
		adj := pos.Adjustments[s.published]
		s.published++
		s.deps.Metrics.StopAdjusted(adj.Reason)

		if s.deps.Adjustments != nil {
			if err := s.deps.Adjustments.SaveStopAdjustment(ctx, pos.ID, pos.Symbol, adj); err != nil {
				s.deps.Logger.Error(ctx, err, "Failed to store stop adjustment", map[string]interface{}{"positionId": pos.ID})
			}
		}
		if s.deps.Publisher == nil || !s.active.Load() {
			continue
		}

		msg := StopMessage(pos, adj, s.published, s.ref, s.now())
		pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
		err := s.deps.Publisher.PublishStopAdjustment(pubCtx, msg)
		cancel()
		if err != nil {
			s.deps.Metrics.PublishFailed()
			s.deps.Logger.Error(ctx, err, "Failed to publish stop adjustment", map[string]interface{}{
				"positionId": pos.ID,
				"stop":       adj.To,
				"reason":     adj.Reason,
			})
		}
	}
}

// StopMessage builds the modify_stop intent for one adjustment.
func StopMessage(pos domain.Position, adj domain.StopAdjustment, count int, ref OrderRef, at time.Time) ports.StopAdjustmentMessage {
	return ports.StopAdjustmentMessage{
		Action:          ports.ActionModifyStop,
		Symbol:          pos.Symbol,
		NewStopPrice:    adj.To,
		Reason:          adj.Reason,
		OrderStrategyID: ref.OrderStrategyID,
		OrderID:         ref.OrderID,
		Metadata: ports.StopAdjustmentMetadata{
			EntryPrice:      pos.EntryPrice,
			BarsHeld:        adj.Bar,
			MFE:             adj.MFE,
			MAE:             pos.MAE,
			PreviousStop:    adj.From,
			AdjustmentCount: count,
		},
		Timestamp: ports.FormatMessageTime(at),
	}
}

func (s *LiveService) completed(ctx context.Context, trade *domain.Trade) {
	s.published = 0
	s.ref = OrderRef{}
	s.deps.Metrics.TradeClosed(trade)
	if s.deps.Risk != nil {
		s.deps.Risk.UpdateStats(ctx, trade)
	}
	if s.deps.Trades != nil {
		if _, err := s.deps.Trades.CreateTrade(ctx, trade); err != nil {
			s.deps.Logger.Error(ctx, err, "Failed to persist trade", map[string]interface{}{"positionId": trade.PositionID})
		}
	}
}

func (s *LiveService) aggregate(bar domain.Bar, start time.Time) {
	if s.building == nil {
		b := bar
		b.Timestamp = start
		b.Interval = s.cfg.CoarseInterval
		s.building = &b
		return
	}
	b := s.building
	b.High = max(b.High, bar.High)
	b.Low = min(b.Low, bar.Low)
	b.Close = bar.Close
	b.Volume += bar.Volume
}

func (s *LiveService) closeCoarse(ctx context.Context, bar domain.Bar) {
	bar.IsFinal = true
	s.history = append(s.history, bar)
	s.trimHistory()
	if s.deps.Levels != nil {
		s.deps.Levels.Observe(bar)
	}
	s.classify(ctx)

	if !s.cfg.AutoEnter {
		return
	}
	sig, ok := s.deps.Signals.Evaluate(ctx, s.history)
	if !ok || sig == nil {
		return
	}
	s.enter(ctx, *sig, bar.Timestamp.Add(s.cfg.Period))
}

func (s *LiveService) trimHistory() {
	if len(s.history) > s.cfg.HistoryLimit {
		s.history = append([]domain.Bar(nil), s.history[len(s.history)-s.cfg.HistoryLimit:]...)
	}
}

func (s *LiveService) classify(ctx context.Context) {
	if s.stab == nil {
		return
	}
	raw, ok := s.deps.Classifier.Classify(ctx, s.history)
	if !ok {
		return
	}
	out := s.stab.Stabilize(raw, s.regimeBar)
	s.regimeBar++
	s.current = out.Regime
	s.deps.Metrics.RegimeDecided(out.State)
	if out.Changed {
		s.deps.Logger.Info(ctx, "Regime changed", map[string]interface{}{"from": out.Previous, "to": out.Regime})
	}
}

func (s *LiveService) enter(ctx context.Context, sig domain.Signal, at time.Time) {
	sig.Timestamp = at
	if err := lifecycle.ValidateSignal(sig); err != nil {
		s.rejected(err)
		s.deps.Logger.Warn(ctx, "Invalid signal skipped", map[string]interface{}{"error": err.Error()})
		return
	}
	if s.manager.HasPosition() {
		s.deps.Metrics.OpenRejected(metrics.RejectAlreadyActive)
		return
	}
	if s.stab != nil && len(s.allowed) > 0 && !s.allowed[s.current] {
		s.deps.Metrics.OpenRejected(metrics.RejectRegime)
		s.deps.Logger.Debug(ctx, "Signal blocked by regime", map[string]interface{}{"regime": s.current})
		return
	}
	if s.deps.Risk != nil {
		if err := s.deps.Risk.Allow(ctx, sig); err != nil {
			s.rejected(err)
			s.deps.Logger.Info(ctx, "Signal blocked by risk limits", map[string]interface{}{"reason": err.Error()})
			return
		}
	}
	entry := domain.Bar{Timestamp: at, Symbol: s.cfg.Lifecycle.Symbol, Close: sig.EntryPrice}
	if _, err := s.manager.OpenPosition(ctx, sig, entry); err != nil {
		s.rejected(err)
		return
	}
	s.ref = OrderRef{}
	s.published = 0
	s.deps.Metrics.PositionOpened()
}

func (s *LiveService) rejected(err error) {
	switch {
	case errors.Is(err, ports.ErrPositionAlreadyActive):
		s.deps.Metrics.OpenRejected(metrics.RejectAlreadyActive)
	case errors.Is(err, ports.ErrRiskLimitExceeded):
		s.deps.Metrics.OpenRejected(metrics.RejectRisk)
	default:
		s.deps.Metrics.OpenRejected(metrics.RejectInvalidSignal)
	}
}
