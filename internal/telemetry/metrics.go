// Package telemetry exposes Prometheus metrics for the sync engine.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors the engine reports into. A single instance is
// shared by the orchestrator, scanner adapter and channel client.
type Metrics struct {
	registry *prometheus.Registry

	jobsEnqueued  *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobsActive    *prometheus.GaugeVec
	jobRetries    prometheus.Counter
	scanDuration  *prometheus.HistogramVec
	recordsTotal  *prometheus.CounterVec
	channelCalls  *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	queueDepth    *prometheus.GaugeVec
	eventFailures prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto(registry)

	return &Metrics{
		registry: registry,
		jobsEnqueued: factory.counterVec(prometheus.CounterOpts{
			Namespace: "skufeed",
			Subsystem: "sync",
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted into the queue, by kind.",
		}, []string{"kind"}),
		jobsFinished: factory.counterVec(prometheus.CounterOpts{
			Namespace: "skufeed",
			Subsystem: "sync",
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status, by kind and status.",
		}, []string{"kind", "status"}),
		jobsActive: factory.gaugeVec(prometheus.GaugeOpts{
			Namespace: "skufeed",
			Subsystem: "sync",
			Name:      "jobs_active",
			Help:      "Jobs currently executing, by kind.",
		}, []string{"kind"}),
		jobRetries: factory.counter(prometheus.CounterOpts{
			Namespace: "skufeed",
			Subsystem: "sync",
			Name:      "job_retries_total",
			Help:      "Whole-job retry attempts after transient failures.",
		}),
		scanDuration: factory.histogramVec(prometheus.HistogramOpts{
			Namespace: "skufeed",
			Subsystem: "sync",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of completed scans, by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),
		recordsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: "skufeed",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records processed by scans, by outcome (resolved, skipped, failed).",
		}, []string{"outcome"}),
		channelCalls: factory.counterVec(prometheus.CounterOpts{
			Namespace: "skufeed",
			Subsystem: "channel",
			Name:      "requests_total",
			Help:      "Channel API calls, by operation and result.",
		}, []string{"operation", "result"}),
		breakerState: factory.gaugeVec(prometheus.GaugeOpts{
			Namespace: "skufeed",
			Subsystem: "channel",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
		queueDepth: factory.gaugeVec(prometheus.GaugeOpts{
			Namespace: "skufeed",
			Subsystem: "sync",
			Name:      "queue_depth",
			Help:      "Jobs waiting in each kind's queue.",
		}, []string{"kind"}),
		eventFailures: factory.counter(prometheus.CounterOpts{
			Namespace: "skufeed",
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Lifecycle events that could not be delivered to all sinks.",
		}),
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobEnqueued records a job accepted into the queue.
func (m *Metrics) JobEnqueued(kind string) {
	m.jobsEnqueued.WithLabelValues(kind).Inc()
}

// JobStarted and JobStopped bracket a worker execution.
func (m *Metrics) JobStarted(kind string) {
	m.jobsActive.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobStopped(kind string) {
	m.jobsActive.WithLabelValues(kind).Dec()
}

// JobFinished records a terminal transition and the scan duration.
func (m *Metrics) JobFinished(kind, status string, duration time.Duration) {
	m.jobsFinished.WithLabelValues(kind, status).Inc()
	m.scanDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// JobRetried records a whole-job retry.
func (m *Metrics) JobRetried() {
	m.jobRetries.Inc()
}

// RecordsProcessed adds per-outcome record counts from a finished scan.
func (m *Metrics) RecordsProcessed(outcome string, n int64) {
	if n > 0 {
		m.recordsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ChannelCall records one channel API call outcome.
func (m *Metrics) ChannelCall(operation, result string) {
	m.channelCalls.WithLabelValues(operation, result).Inc()
}

// BreakerState records a circuit breaker state change.
func (m *Metrics) BreakerState(name, state string) {
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(name).Set(value)
}

// QueueDepth records the current backlog for one kind.
func (m *Metrics) QueueDepth(kind string, depth int) {
	m.queueDepth.WithLabelValues(kind).Set(float64(depth))
}

// EventPublishFailed records an undeliverable lifecycle event.
func (m *Metrics) EventPublishFailed() {
	m.eventFailures.Inc()
}

// factory registers collectors as they are built.
type factory struct {
	registry *prometheus.Registry
}

func promauto(registry *prometheus.Registry) factory {
	return factory{registry: registry}
}

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.registry.MustRegister(c)
	return c
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.registry.MustRegister(c)
	return c
}

func (f factory) gaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(opts, labels)
	f.registry.MustRegister(g)
	return g
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.registry.MustRegister(h)
	return h
}
