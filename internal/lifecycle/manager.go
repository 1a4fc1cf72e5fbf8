// Package lifecycle owns the single open position of one instrument and turns
// bars into exits and stop adjustments.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/exits"
	"tradeLifecycle/internal/ports"
)

// Config holds the static configuration of a lifecycle manager.
type Config struct {
	Symbol     string
	PointValue float64 // Dollar value of one point per contract
	Slippage   float64 // Points lost on every stop fill
	Commission float64 // Round-trip commission per trade in dollars
	Policies   exits.Policies
}

// Validate checks the configuration. Any error here is fatal at construction.
func (c Config) Validate() error {
	var errs []error
	if c.Symbol == "" {
		errs = append(errs, errors.New("symbol is required"))
	}
	if c.PointValue <= 0 {
		errs = append(errs, fmt.Errorf("point value must be positive, got %g", c.PointValue))
	}
	if c.Slippage < 0 {
		errs = append(errs, fmt.Errorf("slippage cannot be negative, got %g", c.Slippage))
	}
	if c.Commission < 0 {
		errs = append(errs, fmt.Errorf("commission cannot be negative, got %g", c.Commission))
	}
	if err := c.Policies.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ports.ErrConfigurationError, errors.Join(errs...))
	}
	return nil
}

// RejectionError is returned by OpenPosition when the slot is already occupied.
type RejectionError struct {
	Symbol     string
	ExistingID string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: position %s already active", e.Symbol, e.ExistingID)
}

// Unwrap lets callers match the rejection with errors.Is.
func (e *RejectionError) Unwrap() error {
	return ports.ErrPositionAlreadyActive
}

// slot holds at most one open position.
type slot struct {
	open *domain.Position
}

func (s *slot) occupied() bool { return s.open != nil }

func (s *slot) take() *domain.Position {
	p := s.open
	s.open = nil
	return p
}

// Manager is the position lifecycle manager for one instrument.
// It is safe for concurrent use, but callers are expected to serialise bars.
type Manager struct {
	cfg    Config
	logger ports.Logger

	mu   sync.Mutex
	slot slot
}

// New creates a lifecycle manager.
func New(cfg Config, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, logger: logger}, nil
}

// Symbol returns the instrument the manager trades.
func (m *Manager) Symbol() string { return m.cfg.Symbol }

// Position returns a snapshot of the open position, if any.
func (m *Manager) Position() (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.slot.occupied() {
		return domain.Position{}, false
	}
	return m.slot.open.Clone(), true
}

// HasPosition reports whether a position is open.
func (m *Manager) HasPosition() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot.occupied()
}

// ValidateSignal checks the risk fields of a signal.
func ValidateSignal(sig domain.Signal) error {
	if !sig.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ports.ErrInvalidSignal, sig.Side)
	}
	if sig.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price must be positive, got %g", ports.ErrInvalidSignal, sig.EntryPrice)
	}
	dir := sig.Side.Direction()
	if (sig.EntryPrice-sig.StopLoss)*dir <= 0 {
		return fmt.Errorf("%w: stop %g is not on the loss side of entry %g for %s", ports.ErrInvalidSignal, sig.StopLoss, sig.EntryPrice, sig.Side)
	}
	if (sig.TakeProfit-sig.EntryPrice)*dir <= 0 {
		return fmt.Errorf("%w: target %g is not on the profit side of entry %g for %s", ports.ErrInvalidSignal, sig.TakeProfit, sig.EntryPrice, sig.Side)
	}
	if (sig.TrailingTrigger == nil) != (sig.TrailingOffset == nil) {
		return fmt.Errorf("%w: trailing trigger and offset must be set together", ports.ErrInvalidSignal)
	}
	if sig.HasTrailing() && (*sig.TrailingTrigger <= 0 || *sig.TrailingOffset <= 0) {
		return fmt.Errorf("%w: trailing trigger and offset must be positive", ports.ErrInvalidSignal)
	}
	if sig.MaxHoldBars != nil && *sig.MaxHoldBars <= 0 {
		return fmt.Errorf("%w: max hold bars must be positive", ports.ErrInvalidSignal)
	}
	if sig.MaxHoldMinutes != nil && *sig.MaxHoldMinutes <= 0 {
		return fmt.Errorf("%w: max hold minutes must be positive", ports.ErrInvalidSignal)
	}
	if sig.Quantity < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", ports.ErrInvalidSignal)
	}
	return nil
}

// OpenPosition opens a position from sig at the time of bar.
// Returns a *RejectionError if a position is already open; the open position is left untouched.
func (m *Manager) OpenPosition(ctx context.Context, sig domain.Signal, bar domain.Bar) (*domain.Position, error) {
	if err := ValidateSignal(sig); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.slot.occupied() {
		return nil, &RejectionError{Symbol: m.cfg.Symbol, ExistingID: m.slot.open.ID}
	}

	qty := sig.Quantity
	if qty == 0 {
		qty = 1
	}
	pos := &domain.Position{
		ID:          uuid.NewString(),
		Symbol:      m.cfg.Symbol,
		Side:        sig.Side,
		EntryPrice:  sig.EntryPrice,
		InitialStop: sig.StopLoss,
		CurrentStop: sig.StopLoss,
		TargetPrice: sig.TakeProfit,
		Trailing:    domain.TrailingState{HighWaterMark: sig.EntryPrice},
		EntryTime:   bar.Timestamp,
		LastBarTime: bar.Timestamp,
		Quantity:    qty,
		Strategy:    sig.Strategy,
		Metadata:    domain.CloneMetadata(sig.Metadata),
	}
	if sig.HasTrailing() {
		pos.TrailingTrigger = domain.Float(*sig.TrailingTrigger)
		pos.TrailingOffset = domain.Float(*sig.TrailingOffset)
	}
	if sig.MaxHoldBars != nil {
		pos.MaxHoldBars = domain.Int(*sig.MaxHoldBars)
	}
	if sig.MaxHoldMinutes != nil {
		pos.MaxHoldMinutes = domain.Int(*sig.MaxHoldMinutes)
	}
	m.slot.open = pos

	m.logger.Info(ctx, "Position opened", map[string]interface{}{
		"positionId": pos.ID,
		"symbol":     pos.Symbol,
		"side":       pos.Side,
		"entry":      pos.EntryPrice,
		"stop":       pos.CurrentStop,
		"target":     pos.TargetPrice,
		"quantity":   pos.Quantity,
	})

	snap := pos.Clone()
	return &snap, nil
}

// UpdatePosition feeds one bar to the open position.
// It returns the completed trade when the bar triggers an exit, and (nil, nil) when flat.
func (m *Manager) UpdatePosition(ctx context.Context, bar domain.Bar) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.slot.open
	if pos == nil {
		return nil, nil
	}
	// The first bar may start at the entry time; later bars must strictly advance.
	if bar.Timestamp.Before(pos.LastBarTime) || (pos.BarsHeld > 0 && bar.Timestamp.Equal(pos.LastBarTime)) {
		return nil, fmt.Errorf("%w: bar %s does not follow %s", ports.ErrOutOfOrderBar,
			bar.Timestamp.Format(time.RFC3339), pos.LastBarTime.Format(time.RFC3339))
	}

	pos.BarsHeld++
	pos.LastBarTime = bar.Timestamp

	side := pos.Side
	dir := side.Direction()
	adverse := bar.AdverseExtreme(side)
	favorable := bar.FavorableExtreme(side)

	if mfe := (favorable - pos.EntryPrice) * dir; mfe > pos.MFE {
		pos.MFE = mfe
	}
	if mae := (pos.EntryPrice - adverse) * dir; mae > pos.MAE {
		pos.MAE = mae
	}

	// 1. Stop-loss is resolved first on any bar that also spans the target.
	if (adverse-pos.CurrentStop)*dir <= 0 {
		return m.closeLocked(ctx, slipped(side, pos.CurrentStop, m.cfg.Slippage), bar.Timestamp, domain.ExitStopLoss), nil
	}

	// 2. Target fills only when price trades through it.
	if (favorable-pos.TargetPrice)*dir > 0 {
		return m.closeLocked(ctx, pos.TargetPrice, bar.Timestamp, domain.ExitTarget), nil
	}

	// 3. Trailing: a level adopted on an earlier bar is checked before this bar moves it.
	if pos.Trailing.Active && (adverse-pos.Trailing.Level)*dir <= 0 {
		return m.closeLocked(ctx, slipped(side, pos.Trailing.Level, m.cfg.Slippage), bar.Timestamp, domain.ExitTrailingStop), nil
	}
	if (favorable-pos.Trailing.HighWaterMark)*dir > 0 {
		pos.Trailing.HighWaterMark = favorable
	}
	if pos.TrailingTrigger != nil {
		m.trail(ctx, pos, bar)
	}

	// 4. Max hold.
	if pos.MaxHoldBars != nil && pos.BarsHeld >= *pos.MaxHoldBars {
		return m.closeLocked(ctx, bar.Close, bar.Timestamp, domain.ExitTimeExit), nil
	}
	if pos.MaxHoldMinutes != nil && bar.Timestamp.Sub(pos.EntryTime) >= time.Duration(*pos.MaxHoldMinutes)*time.Minute {
		return m.closeLocked(ctx, bar.Close, bar.Timestamp, domain.ExitTimeExit), nil
	}

	// 5. Tightening policies take effect from the next bar.
	m.tighten(ctx, pos, bar)
	return nil, nil
}

func (m *Manager) trail(ctx context.Context, pos *domain.Position, bar domain.Bar) {
	ft := exits.FixedTrailing{Trigger: *pos.TrailingTrigger, Offset: *pos.TrailingOffset}
	if !ft.Armed(pos.Side, pos.EntryPrice, pos.Trailing.HighWaterMark) {
		return
	}
	level := ft.Level(pos.Side, pos.Trailing.HighWaterMark)
	if !exits.Tighter(pos.Side, pos.CurrentStop, level) {
		return
	}
	if pos.Trailing.Active && !exits.Tighter(pos.Side, pos.Trailing.Level, level) {
		return
	}
	from := pos.EffectiveStop()
	pos.Trailing.Active = true
	pos.Trailing.Level = level
	m.record(ctx, pos, bar, from, "trailing")
}

func (m *Manager) tighten(ctx context.Context, pos *domain.Position, bar domain.Bar) {
	for _, prop := range m.cfg.Policies.Evaluate(exits.StateOf(pos, bar)) {
		from := pos.EffectiveStop()
		if !exits.Tighter(pos.Side, from, prop.Stop) {
			continue
		}
		pos.CurrentStop = prop.Stop
		m.record(ctx, pos, bar, from, prop.Reason)
	}
}

func (m *Manager) record(ctx context.Context, pos *domain.Position, bar domain.Bar, from float64, reason string) {
	adj := domain.StopAdjustment{
		Bar:       pos.BarsHeld,
		From:      from,
		To:        pos.EffectiveStop(),
		Reason:    reason,
		MFE:       pos.MFE,
		Timestamp: bar.Timestamp,
	}
	pos.Adjustments = append(pos.Adjustments, adj)
	m.logger.Debug(ctx, "Stop tightened", map[string]interface{}{
		"positionId": pos.ID,
		"from":       adj.From,
		"to":         adj.To,
		"reason":     adj.Reason,
		"barsHeld":   adj.Bar,
		"mfe":        adj.MFE,
	})
}

// ClosePosition closes the open position at price.
func (m *Manager) ClosePosition(ctx context.Context, price float64, at time.Time, reason domain.ExitReason) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.slot.occupied() {
		return nil, ports.ErrNoActivePosition
	}
	return m.closeLocked(ctx, price, at, reason), nil
}

// ForceClose closes the open position at the last available price with reason end_of_data.
func (m *Manager) ForceClose(ctx context.Context, price float64, at time.Time) (*domain.Trade, error) {
	return m.ClosePosition(ctx, price, at, domain.ExitEndOfData)
}

func (m *Manager) closeLocked(ctx context.Context, price float64, at time.Time, reason domain.ExitReason) *domain.Trade {
	pos := m.slot.take()
	points, dollars := pnl(pos.Side, pos.EntryPrice, price, pos.Quantity, m.cfg.PointValue, m.cfg.Commission)

	trade := &domain.Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Strategy:   pos.Strategy,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   pos.Quantity,
		EntryTime:  pos.EntryTime,
		ExitTime:   at,
		ExitReason: reason,
		PointsPnL:  points,
		DollarPnL:  dollars,
		Commission: m.cfg.Commission,
		Duration:   at.Sub(pos.EntryTime),
		BarsHeld:   pos.BarsHeld,
		MFE:        pos.MFE,
		MAE:        pos.MAE,
		Metadata:   domain.CloneMetadata(pos.Metadata),
	}

	m.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionId": pos.ID,
		"symbol":     trade.Symbol,
		"reason":     trade.ExitReason,
		"exit":       trade.ExitPrice,
		"points":     trade.PointsPnL,
		"dollars":    trade.DollarPnL,
		"barsHeld":   trade.BarsHeld,
	})
	return trade
}
