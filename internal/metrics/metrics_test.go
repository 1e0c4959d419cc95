package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.GateDecision(true)
	m.GateDecision(false)
	m.GateDecision(false)
	m.RelayOutcome("voice_join", "sent")
	m.Notification(StatusSent)
	m.Notification(StatusFailed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues(DecisionPermitted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues(DecisionSuppressed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayOutcomes.WithLabelValues("voice_join", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(StatusFailed)))
}

func TestGateArmedGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetGateArmed(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateArmed))
	m.SetGateArmed(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GateArmed))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.GateDecision(true)
		m.SetGateArmed(true)
		m.RelayOutcome("x", "y")
		m.Notification(StatusQueued)
		m.ObserveSend(0.1)
	})
}

func TestHandlerServesNamespacedMetrics(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.Notification(StatusSent)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `voxrelay_notifications_total{status="sent"} 1`))
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRegisterTasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	active := 3.0
	require.NoError(t, RegisterTasks(reg, func() float64 { return active }, func() float64 { return 7 }))
	assert.Error(t, RegisterTasks(reg, func() float64 { return 0 }, func() float64 { return 0 }))

	active = 2
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "voxrelay_tasks_active 2")
	assert.Contains(t, body, "voxrelay_tasks_started_total 7")
}
