// Package metrics holds the Prometheus collectors of the relay. Methods on a
// nil *Metrics are no-ops so components work without a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxrelay"

// Gate decision label values.
const (
	DecisionPermitted  = "permitted"
	DecisionSuppressed = "suppressed"
)

// Notification status label values.
const (
	StatusQueued  = "queued"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

type Metrics struct {
	GateDecisions *prometheus.CounterVec
	RelayOutcomes *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	GateArmed     prometheus.Gauge
	SendDuration  prometheus.Histogram
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// New creates and registers the relay metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Debounce gate decisions, by decision.",
		}, []string{"decision"}),
		RelayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_outcomes_total",
			Help:      "Relay outcomes, by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Telegram notifications, by status.",
		}, []string{"status"}),
		GateArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_armed",
			Help:      "1 while a cooldown window is set, 0 otherwise.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_send_duration_seconds",
			Help:      "Duration of a single Telegram send attempt in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
	reg.MustRegister(m.GateDecisions, m.RelayOutcomes, m.Notifications, m.GateArmed, m.SendDuration)
	return m
}

// RegisterTasks exports supervised goroutine counts read from active and
// started on every scrape.
func RegisterTasks(reg prometheus.Registerer, active, started func() float64) error {
	if err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_active",
		Help:      "Supervised goroutines currently running.",
	}, active)); err != nil {
		return err
	}
	return reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_started_total",
		Help:      "Supervised goroutines started since boot.",
	}, started))
}

func (m *Metrics) GateDecision(permitted bool) {
	if m == nil {
		return
	}
	d := DecisionSuppressed
	if permitted {
		d = DecisionPermitted
	}
	m.GateDecisions.WithLabelValues(d).Inc()
}

func (m *Metrics) SetGateArmed(armed bool) {
	if m == nil {
		return
	}
	if armed {
		m.GateArmed.Set(1)
		return
	}
	m.GateArmed.Set(0)
}

func (m *Metrics) RelayOutcome(trigger, outcome string) {
	if m == nil {
		return
	}
	m.RelayOutcomes.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) Notification(status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSend(seconds float64) {
	if m == nil {
		return
	}
	m.SendDuration.Observe(seconds)
}
