package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics exposes Prometheus instruments for the billing engine.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	usageReports    *prometheus.CounterVec
	usageDuration   *prometheus.HistogramVec
	usageRetries    prometheus.Counter
	entriesValued   *prometheus.CounterVec
	lifecycleEvents *prometheus.CounterVec
}

// New registers the billing instruments on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbill_http_requests_total",
			Help: "Counts HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterbill_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		usageReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbill_usage_reports_total",
			Help: "Usage reports by update type and outcome.",
		}, []string{"update_type", "outcome"}),
		usageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterbill_usage_report_duration_seconds",
			Help:    "Time spent reconciling a usage report, lock wait included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"update_type"}),
		usageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterbill_usage_conflict_retries_total",
			Help: "Usage transactions retried after a write conflict.",
		}),
		entriesValued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbill_document_entries_valued_total",
			Help: "Document entries valued by document kind and origin.",
		}, []string{"kind", "origin"}),
		lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbill_subscription_transitions_total",
			Help: "Subscription lifecycle transitions by action.",
		}, []string{"action"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.usageReports,
		m.usageDuration,
		m.usageRetries,
		m.entriesValued,
		m.lifecycleEvents,
	)
	return m
}

// Registry is the gatherer served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordUsageReport counts one reconciled report. Outcome is "created",
// "updated" or an error code.
func (m *Metrics) RecordUsageReport(updateType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.usageReports.WithLabelValues(labelOrUnknown(updateType), labelOrUnknown(outcome)).Inc()
	m.usageDuration.WithLabelValues(labelOrUnknown(updateType)).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordUsageRetry() {
	if m == nil {
		return
	}
	m.usageRetries.Inc()
}

func (m *Metrics) RecordEntryValued(kind, origin string) {
	if m == nil {
		return
	}
	m.entriesValued.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(origin)).Inc()
}

func (m *Metrics) RecordTransition(action string) {
	if m == nil {
		return
	}
	m.lifecycleEvents.WithLabelValues(labelOrUnknown(action)).Inc()
}

func labelOrUnknown(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
