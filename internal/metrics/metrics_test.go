package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"tradeLifecycle/internal/domain"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.PositionOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.openPosition))

	m.TradeClosed(&domain.Trade{ExitReason: domain.ExitTrailingStop, Side: domain.Long})
	m.TradeClosed(&domain.Trade{ExitReason: domain.ExitTrailingStop, Side: domain.Long})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tradesClosed.WithLabelValues("trailing_stop", "long")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.openPosition))

	m.StopAdjusted("time:breakeven")
	m.StopAdjusted("ratchet:mfe>=4")
	m.StopAdjusted("trailing")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stopAdjustments.WithLabelValues("time")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stopAdjustments.WithLabelValues("ratchet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stopAdjustments.WithLabelValues("trailing")))

	m.OpenRejected(RejectRisk)
	m.PublishFailed()
	m.DegradedWindow()
	m.RegimeDecided(domain.RegimeLocked)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.openRejections.WithLabelValues(RejectRisk)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degradedWindows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.regimeDecisions.WithLabelValues("locked")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PositionOpened()
		m.TradeClosed(&domain.Trade{})
		m.StopAdjusted("x")
		m.OpenRejected(RejectRegime)
		m.PublishFailed()
		m.DegradedWindow()
		m.RegimeDecided(domain.RegimeStable)
	})
}
