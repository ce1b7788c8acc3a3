package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stacks_notifier"

// PrometheusMetrics contains all Prometheus metrics for the mempool notifier
type PrometheusMetrics struct {
	// Mempool scanning metrics
	MempoolPollsTotal      *prometheus.CounterVec
	MempoolPollDuration    prometheus.Histogram
	MempoolTxsScanned      prometheus.Counter
	ContractsDetectedTotal prometheus.Counter

	// Confirmation tracking metrics
	ActiveTrackers         prometheus.Gauge
	TrackerOutcomesTotal   *prometheus.CounterVec
	ConfirmationLatency    prometheus.Histogram
	TrackerPollErrorsTotal prometheus.Counter
	TrackersRejectedTotal  prometheus.Counter

	// Stacks API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIRetriesTotal    *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec
	NotificationDuration      *prometheus.HistogramVec

	// Event publishing metrics
	EventsPublishedTotal *prometheus.CounterVec

	// Bot metrics
	BotCommandsTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg.
// A nil reg leaves the metrics unregistered.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		MempoolPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mempool_polls_total",
				Help:      "Total number of mempool polling cycles",
			},
			[]string{"status"},
		),

		MempoolPollDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mempool_poll_duration_seconds",
				Help:      "Time spent on a single mempool polling cycle",
				Buckets:   prometheus.DefBuckets,
			},
		),

		MempoolTxsScanned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mempool_transactions_scanned_total",
				Help:      "Total number of mempool transactions inspected",
			},
		),

		ContractsDetectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contracts_detected_total",
				Help:      "Total number of matching contract deploys detected",
			},
		),

		ActiveTrackers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_trackers",
				Help:      "Number of transactions currently tracked for confirmation",
			},
		),

		TrackerOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracker_outcomes_total",
				Help:      "Total number of finished trackers by outcome",
			},
			[]string{"outcome"},
		),

		ConfirmationLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "confirmation_latency_seconds",
				Help:      "Time between detection and confirmation of a contract deploy",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		TrackerPollErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracker_poll_errors_total",
				Help:      "Total number of failed transaction status polls",
			},
		),

		TrackersRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trackers_rejected_total",
				Help:      "Total number of trackers not started because the pool was full",
			},
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of HTTP requests made to the Stacks API",
			},
			[]string{"endpoint", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Duration of requests to the Stacks API",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		APIRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_retries_total",
				Help:      "Total number of retried Stacks API requests",
			},
			[]string{"endpoint"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications sent",
			},
			[]string{"channel", "type"},
		),

		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_failures_total",
				Help:      "Total number of failed notifications",
			},
			[]string{"channel", "type"},
		),

		NotificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_duration_seconds",
				Help:      "Duration of notification delivery",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"channel", "type"},
		),

		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of contract lifecycle events published",
			},
			[]string{"type", "status"},
		),

		BotCommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_commands_total",
				Help:      "Total number of chat bot commands handled",
			},
			[]string{"command", "status"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "application_uptime_seconds",
				Help:      "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_health",
				Help:      "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines",
				Help:      "Number of running goroutines",
			},
		),
	}
}

// RecordMempoolPoll records a completed polling cycle
func (m *PrometheusMetrics) RecordMempoolPoll(status string, scanned int, duration time.Duration) {
	m.MempoolPollsTotal.WithLabelValues(status).Inc()
	m.MempoolPollDuration.Observe(duration.Seconds())
	m.MempoolTxsScanned.Add(float64(scanned))
}

// RecordContractDetected records a newly detected contract deploy
func (m *PrometheusMetrics) RecordContractDetected() {
	m.ContractsDetectedTotal.Inc()
}

// UpdateActiveTrackers updates the number of running trackers
func (m *PrometheusMetrics) UpdateActiveTrackers(count int) {
	m.ActiveTrackers.Set(float64(count))
}

// RecordTrackerOutcome records why a tracker finished
func (m *PrometheusMetrics) RecordTrackerOutcome(outcome string) {
	m.TrackerOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordConfirmation records the detection-to-confirmation latency
func (m *PrometheusMetrics) RecordConfirmation(latency time.Duration) {
	m.ConfirmationLatency.Observe(latency.Seconds())
}

// RecordTrackerPollError records a failed status poll
func (m *PrometheusMetrics) RecordTrackerPollError() {
	m.TrackerPollErrorsTotal.Inc()
}

// RecordTrackerRejected records a tracker refused by the pool limit
func (m *PrometheusMetrics) RecordTrackerRejected() {
	m.TrackersRejectedTotal.Inc()
}

// RecordAPIRequest records a request to the Stacks API
func (m *PrometheusMetrics) RecordAPIRequest(endpoint, status string, duration time.Duration) {
	m.APIRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAPIRetry records a retried request to the Stacks API
func (m *PrometheusMetrics) RecordAPIRetry(endpoint string) {
	m.APIRetriesTotal.WithLabelValues(endpoint).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(channel, notificationType string, duration time.Duration) {
	m.NotificationsSentTotal.WithLabelValues(channel, notificationType).Inc()
	m.NotificationDuration.WithLabelValues(channel, notificationType).Observe(duration.Seconds())
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel, notificationType string) {
	m.NotificationFailuresTotal.WithLabelValues(channel, notificationType).Inc()
}

// RecordEventPublished records a published lifecycle event
func (m *PrometheusMetrics) RecordEventPublished(eventType, status string) {
	m.EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// RecordBotCommand records a handled bot command
func (m *PrometheusMetrics) RecordBotCommand(command, status string) {
	m.BotCommandsTotal.WithLabelValues(command, status).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
