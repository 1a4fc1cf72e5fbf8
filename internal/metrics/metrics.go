// Package metrics exposes Prometheus collectors for the trade lifecycle engine.
//
//   - tle_trades_closed_total{reason,side}   completed trades by exit reason
//   - tle_open_rejections_total{reason}      signals that did not open a position
//   - tle_stop_adjustments_total{reason}     adopted stop tightenings by policy
//   - tle_publish_failures_total             stop-adjustment messages that failed to publish
//   - tle_regime_decisions_total{state}      stabilizer outcomes by transition state
//   - tle_degraded_windows_total             coarse periods replayed without fine bars
//   - tle_open_position                      1 while a position is open
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"tradeLifecycle/internal/domain"
)

// Rejection reasons reported on tle_open_rejections_total.
const (
	RejectInvalidSignal = "invalid_signal"
	RejectAlreadyActive = "already_active"
	RejectRegime        = "regime"
	RejectRisk          = "risk"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	tradesClosed    *prometheus.CounterVec
	openRejections  *prometheus.CounterVec
	stopAdjustments *prometheus.CounterVec
	publishFailures prometheus.Counter
	regimeDecisions *prometheus.CounterVec
	degradedWindows prometheus.Counter
	openPosition    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tle_trades_closed_total", Help: "Completed trades by exit reason and side"},
			[]string{"reason", "side"},
		),
		openRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tle_open_rejections_total", Help: "Signals that did not open a position"},
			[]string{"reason"},
		),
		stopAdjustments: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tle_stop_adjustments_total", Help: "Adopted stop tightenings by policy"},
			[]string{"reason"},
		),
		publishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "tle_publish_failures_total", Help: "Stop-adjustment messages that failed to publish"},
		),
		regimeDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tle_regime_decisions_total", Help: "Regime stabilizer outcomes by transition state"},
			[]string{"state"},
		),
		degradedWindows: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "tle_degraded_windows_total", Help: "Coarse periods replayed without fine bars"},
		),
		openPosition: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "tle_open_position", Help: "1 while a position is open"},
		),
	}
	reg.MustRegister(
		m.tradesClosed,
		m.openRejections,
		m.stopAdjustments,
		m.publishFailures,
		m.regimeDecisions,
		m.degradedWindows,
		m.openPosition,
	)
	return m
}

func (m *Metrics) TradeClosed(t *domain.Trade) {
	if m == nil || t == nil {
		return
	}
	m.tradesClosed.WithLabelValues(string(t.ExitReason), string(t.Side)).Inc()
	m.openPosition.Set(0)
}

func (m *Metrics) PositionOpened() {
	if m == nil {
		return
	}
	m.openPosition.Set(1)
}

func (m *Metrics) OpenRejected(reason string) {
	if m == nil {
		return
	}
	m.openRejections.WithLabelValues(reason).Inc()
}

// StopAdjusted counts an adoption under its policy name ("time:breakeven" counts as "time").
func (m *Metrics) StopAdjusted(reason string) {
	if m == nil {
		return
	}
	if i := strings.IndexByte(reason, ':'); i > 0 {
		reason = reason[:i]
	}
	m.stopAdjustments.WithLabelValues(reason).Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

func (m *Metrics) RegimeDecided(state domain.TransitionState) {
	if m == nil {
		return
	}
	m.regimeDecisions.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) DegradedWindow() {
	if m == nil {
		return
	}
	m.degradedWindows.Inc()
}
