package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the sync engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	syncsTotal         *prometheus.CounterVec
	syncDuration       *prometheus.HistogramVec
	webhooksTotal      *prometheus.CounterVec
	providerErrors     *prometheus.CounterVec
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	notificationsSent  prometheus.Counter
	connectionsDisable prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		syncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_syncs_total",
				Help: "Connection syncs by outcome.",
			},
			[]string{"outcome"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "banksync_sync_duration_seconds",
				Help:    "Duration of connection syncs.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"manual"},
		),
		webhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_webhooks_total",
				Help: "Inbound provider webhooks by code and response status.",
			},
			[]string{"code", "status"},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_provider_errors_total",
				Help: "Normalized provider errors by kind.",
			},
			[]string{"kind"},
		),
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_jobs_total",
				Help: "Queue jobs processed by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "banksync_job_duration_seconds",
				Help:    "Queue job run durations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		notificationsSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "banksync_notifications_sent_total",
				Help: "Escalation notifications emitted by the health monitor.",
			},
		),
		connectionsDisable: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "banksync_connections_disabled_total",
				Help: "Connections auto-disabled as abandoned.",
			},
		),
	}
}

// ObserveSync records one sync outcome and duration.
func (m *Metrics) ObserveSync(outcome string, manual bool, d time.Duration) {
	m.syncsTotal.WithLabelValues(outcome).Inc()
	label := "false"
	if manual {
		label = "true"
	}
	m.syncDuration.WithLabelValues(label).Observe(d.Seconds())
}

// IncrWebhook counts an inbound webhook and the response it got.
func (m *Metrics) IncrWebhook(code string, status int) {
	m.webhooksTotal.WithLabelValues(code, statusLabel(status)).Inc()
}

// IncrProviderError counts a normalized provider error.
func (m *Metrics) IncrProviderError(kind string) {
	m.providerErrors.WithLabelValues(kind).Inc()
}

// ObserveJob records one queue job run.
func (m *Metrics) ObserveJob(jobType, outcome string, d time.Duration) {
	m.jobsTotal.WithLabelValues(jobType, outcome).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// IncrNotification counts one escalation notification.
func (m *Metrics) IncrNotification() {
	m.notificationsSent.Inc()
}

// IncrDisabled counts one auto-disabled connection.
func (m *Metrics) IncrDisabled() {
	m.connectionsDisable.Inc()
}

func statusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
