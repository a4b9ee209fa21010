// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// setup shared by the pipeline and the HTTP server.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are registered on a private registry so tests can build as many
// as they like.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	renewals      prometheus.Counter
	uploads       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	inflight      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketdigest",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome and failing stage.",
		}, []string{"outcome", "stage", "reason"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketdigest",
			Name:      "stage_duration_seconds",
			Help:      "Time spent reaching each pipeline state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		renewals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketdigest",
			Name:      "session_renewals_total",
			Help:      "GLPI session renewals after an authorization failure.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketdigest",
			Name:      "upload_attempts_total",
			Help:      "Object storage upload attempts by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketdigest",
			Name:      "notifications_total",
			Help:      "Inbound notifications by disposition.",
		}, []string{"disposition"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketdigest",
			Name:      "runs_inflight",
			Help:      "Runs currently executing.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.stageDuration, m.renewals, m.uploads, m.notifications, m.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunFinished counts a terminal run. stage and reason are empty for
// successful runs.
func (m *Metrics) RunFinished(outcome, stage, reason string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome, stage, reason).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) SessionRenewed() {
	if m == nil {
		return
	}
	m.renewals.Inc()
}

func (m *Metrics) UploadAttempt(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(disposition string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(disposition).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) RunDone() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}
