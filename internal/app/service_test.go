package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/lifecycle"
	"tradeLifecycle/internal/metrics"
	"tradeLifecycle/internal/ports"
	"tradeLifecycle/internal/regime"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

type mockPublisher struct {
	mu       sync.Mutex
	messages []ports.StopAdjustmentMessage
	err      error
	// block, when set, holds each publish until ctx is done.
	block   bool
	started chan struct{}
	ctxErr  error
}

func (m *mockPublisher) PublishStopAdjustment(ctx context.Context, msg ports.StopAdjustmentMessage) error {
	if m.block {
		close(m.started)
		<-ctx.Done()
		m.mu.Lock()
		m.ctxErr = ctx.Err()
		m.mu.Unlock()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.err
}

func (m *mockPublisher) sent() []ports.StopAdjustmentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.StopAdjustmentMessage(nil), m.messages...)
}

type mockTradeRepo struct {
	trades []*domain.Trade
	err    error
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *mockTradeRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return m.trades, nil
}

func (m *mockTradeRepo) CountByReason(ctx context.Context, symbol string) (map[domain.ExitReason]int, error) {
	return nil, nil
}

type mockAdjustmentRepo struct {
	saved map[string][]domain.StopAdjustment
}

func (m *mockAdjustmentRepo) SaveStopAdjustment(ctx context.Context, positionID, symbol string, adj domain.StopAdjustment) error {
	if m.saved == nil {
		m.saved = make(map[string][]domain.StopAdjustment)
	}
	m.saved[positionID] = append(m.saved[positionID], adj)
	return nil
}

func (m *mockAdjustmentRepo) FindStopAdjustments(ctx context.Context, positionID string) ([]domain.StopAdjustment, error) {
	return m.saved[positionID], nil
}

type mockRisk struct {
	allowErr error
	updates  int
	resets   int
}

func (m *mockRisk) Allow(ctx context.Context, sig domain.Signal) error  { return m.allowErr }
func (m *mockRisk) UpdateStats(ctx context.Context, trade *domain.Trade) { m.updates++ }
func (m *mockRisk) ResetDailyStats(ctx context.Context)                  { m.resets++ }

// mockSignals returns sig once, on the first call whose history is at least minBars long.
type mockSignals struct {
	sig      *domain.Signal
	minBars  int
	fired    bool
	lastSeen []domain.Bar
}

func (m *mockSignals) Evaluate(ctx context.Context, history []domain.Bar) (*domain.Signal, bool) {
	m.lastSeen = append([]domain.Bar(nil), history...)
	if m.fired || m.sig == nil || len(history) < m.minBars {
		return nil, false
	}
	m.fired = true
	sig := *m.sig
	return &sig, true
}

type mockClassifier struct {
	label string
}

func (m *mockClassifier) Classify(ctx context.Context, history []domain.Bar) (domain.RawRegime, bool) {
	return domain.RawRegime{Regime: m.label, Confidence: 0.9}, true
}

type mockLevels struct {
	observed int
}

func (m *mockLevels) Observe(bar domain.Bar) { m.observed++ }

type mockMarketData struct {
	history    []domain.Bar
	historyErr error
	stream     []domain.Bar
	streamErr  error
}

func (m *mockMarketData) GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	return m.history, m.historyErr
}

func (m *mockMarketData) GetBarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	return nil, nil
}

func (m *mockMarketData) StreamBars(ctx context.Context, symbol, interval string, handler func(bar domain.Bar), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	if m.streamErr != nil {
		return nil, nil, m.streamErr
	}
	doneCh := make(chan struct{})
	stopCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for _, b := range m.stream {
			handler(b)
		}
		<-stopCh
	}()
	return doneCh, stopCh, nil
}

var (
	t0    = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	fixed = time.Date(2024, 3, 4, 14, 32, 5, 250000000, time.UTC)
)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func fb(min int, high, low, close float64) domain.Bar {
	return domain.Bar{
		Timestamp: at(min),
		Symbol:    "ES",
		Interval:  "1m",
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    10,
		IsFinal:   true,
	}
}

func trailingSignal() domain.Signal {
	return domain.Signal{
		Side:            domain.Long,
		EntryPrice:      100,
		StopLoss:        97,
		TakeProfit:      103,
		TrailingTrigger: domain.Float(2),
		TrailingOffset:  domain.Float(1),
	}
}

func testConfig() Config {
	return Config{
		Lifecycle:      lifecycle.Config{Symbol: "ES", PointValue: 50, Slippage: 0.25},
		CoarseInterval: "15m",
		FineInterval:   "1m",
		Period:         15 * time.Minute,
	}
}

type fixture struct {
	svc       *LiveService
	logger    *mockLogger
	publisher *mockPublisher
	trades    *mockTradeRepo
	adjs      *mockAdjustmentRepo
	risk      *mockRisk
}

func newFixture(t *testing.T, cfg Config, mutate func(*Dependencies)) *fixture {
	t.Helper()
	f := &fixture{
		logger:    &mockLogger{},
		publisher: &mockPublisher{},
		trades:    &mockTradeRepo{},
		adjs:      &mockAdjustmentRepo{},
		risk:      &mockRisk{},
	}
	deps := Dependencies{
		MarketData:  &mockMarketData{},
		Risk:        f.risk,
		Trades:      f.trades,
		Adjustments: f.adjs,
		Publisher:   f.publisher,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Logger:      f.logger,
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := NewLiveService(cfg, deps)
	require.NoError(t, err)
	svc.now = func() time.Time { return fixed }
	f.svc = svc
	return f
}

func TestNewLiveService(t *testing.T) {
	tests := []struct {
		name  string
		cfg   func() Config
		deps  func(d *Dependencies)
		errIs error
	}{
		{
			name:  "missing logger",
			cfg:   testConfig,
			deps:  func(d *Dependencies) { d.Logger = nil },
			errIs: ports.ErrConfigurationError,
		},
		{
			name: "missing period",
			cfg: func() Config {
				c := testConfig()
				c.Period = 0
				return c
			},
			errIs: ports.ErrConfigurationError,
		},
		{
			name: "auto entry without signals",
			cfg: func() Config {
				c := testConfig()
				c.AutoEnter = true
				return c
			},
			errIs: ports.ErrConfigurationError,
		},
		{
			name: "invalid lifecycle config",
			cfg: func() Config {
				c := testConfig()
				c.Lifecycle.PointValue = 0
				return c
			},
			errIs: ports.ErrConfigurationError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Dependencies{MarketData: &mockMarketData{}, Logger: &mockLogger{}}
			if tt.deps != nil {
				tt.deps(&deps)
			}
			_, err := NewLiveService(tt.cfg(), deps)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}

	svc, err := NewLiveService(testConfig(), Dependencies{MarketData: &mockMarketData{}, Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, defaultPublishTimeout, svc.cfg.PublishTimeout)
	assert.Equal(t, maxHistorySize, svc.cfg.HistoryLimit)
	assert.True(t, svc.Status().Active)
}

func TestLiveService_PublishesEachAdjustmentOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)

	pos, err := f.svc.TrackPosition(ctx, trailingSignal(), fb(0, 100, 100, 100), OrderRef{OrderStrategyID: "os-1", OrderID: "o-7"})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleBar(ctx, fb(1, 101, 100, 100.5)))
	assert.Empty(t, f.publisher.sent())

	require.NoError(t, f.svc.HandleBar(ctx, fb(2, 103, 101, 102)))
	require.Len(t, f.publisher.sent(), 1)
	assert.Equal(t, ports.StopAdjustmentMessage{
		Action:          ports.ActionModifyStop,
		Symbol:          "ES",
		NewStopPrice:    102,
		Reason:          "trailing",
		OrderStrategyID: "os-1",
		OrderID:         "o-7",
		Metadata: ports.StopAdjustmentMetadata{
			EntryPrice:      100,
			BarsHeld:        2,
			MFE:             3,
			MAE:             0,
			PreviousStop:    97,
			AdjustmentCount: 1,
		},
		Timestamp: "2024-03-04T14:32:05.250Z",
	}, f.publisher.sent()[0])

	// No new tightening: nothing more is sent.
	require.NoError(t, f.svc.HandleBar(ctx, fb(3, 102.6, 102.2, 102.4)))
	assert.Len(t, f.publisher.sent(), 1)
	assert.Len(t, f.adjs.saved[pos.ID], 1)

	require.NoError(t, f.svc.HandleBar(ctx, fb(4, 102.5, 101.5, 102)))
	require.Len(t, f.trades.trades, 1)
	trade := f.trades.trades[0]
	assert.Equal(t, domain.ExitTrailingStop, trade.ExitReason)
	assert.Equal(t, 101.75, trade.ExitPrice)
	assert.Equal(t, pos.ID, trade.PositionID)
	assert.Equal(t, 1, f.risk.updates)
	assert.Nil(t, f.svc.Status().Position)
}

func TestLiveService_PublishFailureIsNotRolledBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	f.publisher.err = errors.New("bus down")

	_, err := f.svc.TrackPosition(ctx, trailingSignal(), fb(0, 100, 100, 100), OrderRef{})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleBar(ctx, fb(1, 101, 100, 100.5)))
	require.NoError(t, f.svc.HandleBar(ctx, fb(2, 103, 101, 102)), "a failed publish does not fail the cycle")

	assert.Len(t, f.publisher.sent(), 1)
	assert.Contains(t, f.logger.errors(), "Failed to publish stop adjustment")

	st := f.svc.Status()
	require.NotNil(t, st.Position)
	assert.True(t, st.Position.Trailing.Active)
	assert.Equal(t, 102.0, st.Position.Trailing.Level)

	// The failed message is not retried on the next bar.
	require.NoError(t, f.svc.HandleBar(ctx, fb(3, 102.6, 102.2, 102.4)))
	assert.Len(t, f.publisher.sent(), 1)
}

func TestLiveService_DeactivateActivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)

	_, err := f.svc.TrackPosition(ctx, trailingSignal(), fb(0, 100, 100, 100), OrderRef{})
	require.NoError(t, err)

	f.svc.Deactivate()
	assert.False(t, f.svc.Status().Active)
	assert.ErrorIs(t, f.svc.HandleBar(ctx, fb(1, 101, 100, 100.5)), ports.ErrInactive)
	assert.Equal(t, 0, f.svc.Status().Position.BarsHeld)

	f.svc.Activate()
	require.NoError(t, f.svc.HandleBar(ctx, fb(2, 101, 100, 100.5)))
	assert.Equal(t, 1, f.svc.Status().Position.BarsHeld)
}

func TestLiveService_DeactivateCancelsInflightPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	f.publisher.block = true
	f.publisher.started = make(chan struct{})

	_, err := f.svc.TrackPosition(ctx, trailingSignal(), fb(0, 100, 100, 100), OrderRef{})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleBar(ctx, fb(1, 101, 100, 100.5)))

	done := make(chan error, 1)
	go func() { done <- f.svc.HandleBar(ctx, fb(2, 103, 101, 102)) }()

	select {
	case <-f.publisher.started:
	case <-time.After(time.Second):
		t.Fatal("publish was not attempted")
	}
	f.svc.Deactivate()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cycle did not finish after deactivation")
	}
	f.publisher.mu.Lock()
	assert.ErrorIs(t, f.publisher.ctxErr, context.Canceled)
	f.publisher.mu.Unlock()
	assert.ErrorIs(t, f.svc.HandleBar(ctx, fb(3, 102.6, 102.2, 102.4)), ports.ErrInactive)
}

func TestLiveService_IgnoresNonFinalBars(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	_, err := f.svc.TrackPosition(ctx, trailingSignal(), fb(0, 100, 100, 100), OrderRef{})
	require.NoError(t, err)

	b := fb(1, 96, 95, 95.5)
	b.IsFinal = false
	require.NoError(t, f.svc.HandleBar(ctx, b))
	assert.Equal(t, 0, f.svc.Status().Position.BarsHeld)
}

func TestLiveService_AutoEnterAtPeriodClose(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.AutoEnter = true
	sig := domain.Signal{Side: domain.Long, EntryPrice: 100, StopLoss: 97, TakeProfit: 103}
	signals := &mockSignals{sig: &sig, minBars: 1}
	levels := &mockLevels{}
	f := newFixture(t, cfg, func(d *Dependencies) {
		d.Signals = signals
		d.Levels = levels
	})

	for m := 0; m < 15; m++ {
		b := fb(m, 101, 99, 100.5)
		if m == 10 {
			// Spans the target inside the signal's own period.
			b.High = 104
		}
		require.NoError(t, f.svc.HandleBar(ctx, b))
		assert.Nil(t, f.svc.Status().Position, "no position before the period closes")
	}
	assert.Empty(t, signals.lastSeen)

	require.NoError(t, f.svc.HandleBar(ctx, fb(15, 101, 99.5, 100.5)))
	require.Len(t, signals.lastSeen, 1)
	coarse := signals.lastSeen[0]
	assert.Equal(t, t0, coarse.Timestamp)
	assert.Equal(t, "15m", coarse.Interval)
	assert.Equal(t, 104.0, coarse.High)
	assert.Equal(t, 99.0, coarse.Low)
	assert.Equal(t, 150.0, coarse.Volume)
	assert.True(t, coarse.IsFinal)
	assert.Equal(t, 1, levels.observed)

	st := f.svc.Status()
	require.NotNil(t, st.Position)
	assert.Equal(t, at(15), st.Position.EntryTime)
	assert.Equal(t, 1, st.Position.BarsHeld, "the bar opening the next period is the first managed bar")
	assert.Equal(t, 1, st.Bars)
}

func TestLiveService_RegimeGate(t *testing.T) {
	ctx := context.Background()
	rc := regime.DefaultConfig()

	tests := []struct {
		name    string
		label   string
		allowed []string
		opened  bool
	}{
		{"allowed regime opens", "trending", []string{"trending"}, true},
		{"blocked regime", "ranging", []string{"trending"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AutoEnter = true
			cfg.Regime = &rc
			cfg.AllowedRegimes = tt.allowed
			sig := domain.Signal{Side: domain.Long, EntryPrice: 100, StopLoss: 97, TakeProfit: 103}
			f := newFixture(t, cfg, func(d *Dependencies) {
				d.Signals = &mockSignals{sig: &sig, minBars: 1}
				d.Classifier = &mockClassifier{label: tt.label}
			})

			require.NoError(t, f.svc.HandleBar(ctx, fb(0, 101, 99, 100.5)))
			require.NoError(t, f.svc.HandleBar(ctx, fb(15, 101, 99.5, 100.5)))

			st := f.svc.Status()
			assert.Equal(t, tt.label, st.Regime)
			assert.Equal(t, tt.opened, st.Position != nil)
		})
	}
}

func TestLiveService_RiskGateBlocks(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.AutoEnter = true
	sig := domain.Signal{Side: domain.Long, EntryPrice: 100, StopLoss: 97, TakeProfit: 103}
	f := newFixture(t, cfg, func(d *Dependencies) {
		d.Signals = &mockSignals{sig: &sig, minBars: 1}
	})
	f.risk.allowErr = ports.ErrRiskLimitExceeded

	require.NoError(t, f.svc.HandleBar(ctx, fb(0, 101, 99, 100.5)))
	require.NoError(t, f.svc.HandleBar(ctx, fb(15, 101, 99.5, 100.5)))
	assert.Nil(t, f.svc.Status().Position)
}

func TestLiveService_SessionResets(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.SessionGap = time.Hour
	f := newFixture(t, cfg, nil)

	require.NoError(t, f.svc.HandleBar(ctx, fb(0, 101, 99, 100.5)))
	require.NoError(t, f.svc.HandleBar(ctx, fb(30, 101, 99, 100.5)))
	assert.Equal(t, 0, f.risk.resets)
	next := fb(0, 101, 99, 100.5)
	next.Timestamp = t0.Add(20 * time.Hour)
	require.NoError(t, f.svc.HandleBar(ctx, next))
	assert.Equal(t, 1, f.risk.resets)
	assert.Contains(t, f.logger.infoMsgs, "New session started")
}

func TestLiveService_SessionBoundaryForceCloses(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.SessionGap = time.Hour
	f := newFixture(t, cfg, nil)

	_, err := f.svc.TrackPosition(ctx, trailingSignal(), fb(0, 100, 100, 100), OrderRef{OrderID: "o-1"})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleBar(ctx, fb(1, 100.5, 99.5, 100.25)))
	require.NotNil(t, f.svc.Status().Position)

	next := fb(0, 101, 99, 100.5)
	next.Timestamp = t0.Add(20 * time.Hour)
	require.NoError(t, f.svc.HandleBar(ctx, next))

	assert.Nil(t, f.svc.Status().Position)
	require.Len(t, f.trades.trades, 1)
	trade := f.trades.trades[0]
	assert.Equal(t, domain.ExitEndOfData, trade.ExitReason)
	assert.Equal(t, 100.25, trade.ExitPrice)
	assert.Equal(t, at(1), trade.ExitTime)
	assert.Equal(t, 1, trade.BarsHeld)
	assert.Equal(t, 12.5, trade.DollarPnL)
	assert.Equal(t, 1, f.risk.updates)
	assert.Equal(t, 1, f.risk.resets)
	assert.Empty(t, f.publisher.sent())
	assert.Contains(t, f.logger.infoMsgs, "Position closed at session boundary")
}

func TestLiveService_TrackAndClosePosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)

	_, err := f.svc.TrackPosition(ctx, trailingSignal(), fb(0, 100, 100, 100), OrderRef{OrderID: "o-1"})
	require.NoError(t, err)

	_, err = f.svc.TrackPosition(ctx, trailingSignal(), fb(1, 100, 100, 100), OrderRef{})
	var rej *lifecycle.RejectionError
	assert.ErrorAs(t, err, &rej)

	trade, err := f.svc.ClosePosition(ctx, 101, at(5), domain.ExitTarget)
	require.NoError(t, err)
	assert.Equal(t, 50.0, trade.DollarPnL)
	assert.Equal(t, []*domain.Trade{trade}, f.trades.trades)
	assert.Equal(t, 1, f.risk.updates)

	_, err = f.svc.ClosePosition(ctx, 101, at(6), domain.ExitTarget)
	assert.ErrorIs(t, err, ports.ErrNoActivePosition)
}

func TestLiveService_PersistFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	f.trades.err = ports.ErrQueryFailed

	_, err := f.svc.TrackPosition(ctx, trailingSignal(), fb(0, 100, 100, 100), OrderRef{})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleBar(ctx, fb(1, 99, 96, 96.5)))

	assert.Nil(t, f.svc.Status().Position)
	assert.Contains(t, f.logger.errors(), "Failed to persist trade")
}

func TestLiveService_Start(t *testing.T) {
	tests := []struct {
		name     string
		market   *mockMarketData
		wantErr  error
		wantBars int
	}{
		{
			name: "seeds history and streams until canceled",
			market: &mockMarketData{
				history: []domain.Bar{{Timestamp: t0.Add(-15 * time.Minute), Symbol: "ES", Interval: "15m", Close: 100, IsFinal: true}},
				stream:  []domain.Bar{fb(0, 101, 99, 100.5), fb(1, 101, 99, 100.5)},
			},
			wantBars: 1,
		},
		{
			name:    "history failure",
			market:  &mockMarketData{historyErr: ports.ErrMarketDataUnavailable},
			wantErr: ports.ErrMarketDataUnavailable,
		},
		{
			name:    "stream failure",
			market:  &mockMarketData{streamErr: ports.ErrConnectionFailed},
			wantErr: ports.ErrConnectionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), func(d *Dependencies) { d.MarketData = tt.market })

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- f.svc.Start(ctx) }()

			if tt.wantErr != nil {
				assert.ErrorIs(t, <-errCh, tt.wantErr)
				return
			}

			time.Sleep(100 * time.Millisecond)
			cancel()
			require.NoError(t, <-errCh)
			assert.Equal(t, tt.wantBars, f.svc.Status().Bars)
			assert.Contains(t, f.logger.infoMsgs, "Live trade manager stopped")
		})
	}
}
