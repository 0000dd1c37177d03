// Package metrics provides Prometheus-based metrics collection for
// dispatch. Grounded on anstrom-scanorama's internal/metrics: one registry,
// one namespace, a handful of subsystem-scoped collectors registered once
// at construction.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "dispatch"

	subsystemPublish = "publish"
	subsystemScan    = "scan"
	subsystemBus     = "bus"
	subsystemStore   = "store"
	subsystemMonitor = "monitor"
	subsystemSystem  = "system"
)

// PrometheusMetrics holds every dispatch metric collector.
type PrometheusMetrics struct {
	// Publisher metrics
	jobsPublished        *prometheus.CounterVec
	jobsResolutionErrors prometheus.Counter
	jobsDenylisted       prometheus.Counter

	// Scan/worker metrics
	scansTotal    *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	activeScanners prometheus.Gauge

	// Bus metrics
	busPublishTotal *prometheus.CounterVec
	busPublishErrors *prometheus.CounterVec
	busConsumeTotal *prometheus.CounterVec

	// Store metrics
	storeQueries       *prometheus.CounterVec
	storeQueryDuration *prometheus.HistogramVec
	storeErrors        *prometheus.CounterVec

	// Progress monitor metrics
	bulkScansActive    prometheus.Gauge
	bulkScansFinalized *prometheus.CounterVec
	webhookFailures    prometheus.Counter

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime time.Time
	mu        sync.RWMutex
	registry  *prometheus.Registry
}

// NewPrometheusMetrics builds a PrometheusMetrics with every collector
// registered against a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	pm := &PrometheusMetrics{startTime: time.Now(), registry: registry}

	pm.initPublishMetrics()
	pm.initScanMetrics()
	pm.initBusMetrics()
	pm.initStoreMetrics()
	pm.initMonitorMetrics()
	pm.initSystemMetrics()
	pm.registerMetrics()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initPublishMetrics() {
	pm.jobsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemPublish, Name: "jobs_published_total",
		Help: "Total number of scan jobs published onto the orchestration bus.",
	}, []string{"scan_kind"})

	pm.jobsResolutionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemPublish, Name: "jobs_resolution_error_total",
		Help: "Total number of targets that failed hostname resolution or bus publication.",
	})

	pm.jobsDenylisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemPublish, Name: "jobs_denylisted_total",
		Help: "Total number of targets rejected by the denylist before publication.",
	})
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemScan, Name: "jobs_total",
		Help: "Total number of scan jobs completed by status.",
	}, []string{"status"})

	pm.scanDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystemScan, Name: "duration_seconds",
		Help:    "Duration of individual probe scans in seconds.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"scan_kind"})

	pm.activeScanners = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystemScan, Name: "active_scanners",
		Help: "Number of per-bulk-scan Scanner instances currently cached by the worker manager.",
	})
}

func (pm *PrometheusMetrics) initBusMetrics() {
	pm.busPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemBus, Name: "publish_total",
		Help: "Total number of messages published to the orchestration bus by queue kind.",
	}, []string{"queue_kind"})

	pm.busPublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemBus, Name: "publish_errors_total",
		Help: "Total number of failed bus publish attempts by queue kind.",
	}, []string{"queue_kind"})

	pm.busConsumeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemBus, Name: "consume_total",
		Help: "Total number of messages consumed from the orchestration bus by queue kind.",
	}, []string{"queue_kind"})
}

func (pm *PrometheusMetrics) initStoreMetrics() {
	pm.storeQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemStore, Name: "queries_total",
		Help: "Total number of store operations by kind.",
	}, []string{"operation"})

	pm.storeQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystemStore, Name: "query_duration_seconds",
		Help:    "Duration of store operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	pm.storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemStore, Name: "errors_total",
		Help: "Total number of failed store operations by kind.",
	}, []string{"operation"})
}

func (pm *PrometheusMetrics) initMonitorMetrics() {
	pm.bulkScansActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystemMonitor, Name: "bulk_scans_active",
		Help: "Number of bulk scans the progress monitor is currently tracking.",
	})

	pm.bulkScansFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemMonitor, Name: "bulk_scans_finalized_total",
		Help: "Total number of bulk scans finalized, by whether they were webhook-notified.",
	}, []string{"notified"})

	pm.webhookFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystemMonitor, Name: "webhook_failures_total",
		Help: "Total number of failed finalization webhook deliveries.",
	})
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystemSystem, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
	pm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystemSystem, Name: "uptime_seconds",
		Help: "Seconds since process start.",
	})
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.jobsPublished, pm.jobsResolutionErrors, pm.jobsDenylisted,
		pm.scansTotal, pm.scanDuration, pm.activeScanners,
		pm.busPublishTotal, pm.busPublishErrors, pm.busConsumeTotal,
		pm.storeQueries, pm.storeQueryDuration, pm.storeErrors,
		pm.bulkScansActive, pm.bulkScansFinalized, pm.webhookFailures,
		pm.goroutines, pm.uptime,
	)
}

// Registry returns the underlying Prometheus registry for exposition.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// RecordJobPublished increments the published-jobs counter for scanKind.
func (pm *PrometheusMetrics) RecordJobPublished(scanKind string) {
	pm.jobsPublished.WithLabelValues(scanKind).Inc()
}

// RecordJobResolutionError increments the resolution-error counter.
func (pm *PrometheusMetrics) RecordJobResolutionError() {
	pm.jobsResolutionErrors.Inc()
}

// RecordJobDenylisted increments the denylisted-job counter.
func (pm *PrometheusMetrics) RecordJobDenylisted() {
	pm.jobsDenylisted.Inc()
}

// RecordScan records one completed scan job's status and, if d is nonzero,
// its probe duration.
func (pm *PrometheusMetrics) RecordScan(scanKind, status string, d time.Duration) {
	pm.scansTotal.WithLabelValues(status).Inc()
	if d > 0 {
		pm.scanDuration.WithLabelValues(scanKind).Observe(d.Seconds())
	}
}

// SetActiveScanners reports the worker manager's current cache size.
func (pm *PrometheusMetrics) SetActiveScanners(n int) {
	pm.activeScanners.Set(float64(n))
}

// RecordBusPublish records one bus publish attempt for queueKind, or its
// failure if err is non-nil.
func (pm *PrometheusMetrics) RecordBusPublish(queueKind string, err error) {
	if err != nil {
		pm.busPublishErrors.WithLabelValues(queueKind).Inc()
		return
	}
	pm.busPublishTotal.WithLabelValues(queueKind).Inc()
}

// RecordBusConsume records one bus delivery consumed from queueKind.
func (pm *PrometheusMetrics) RecordBusConsume(queueKind string) {
	pm.busConsumeTotal.WithLabelValues(queueKind).Inc()
}

// RecordStoreOperation records one store operation's outcome and duration.
func (pm *PrometheusMetrics) RecordStoreOperation(operation string, d time.Duration, err error) {
	pm.storeQueries.WithLabelValues(operation).Inc()
	pm.storeQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		pm.storeErrors.WithLabelValues(operation).Inc()
	}
}

// SetBulkScansActive reports the progress monitor's current tracker count.
func (pm *PrometheusMetrics) SetBulkScansActive(n int) {
	pm.bulkScansActive.Set(float64(n))
}

// RecordBulkScanFinalized records one bulk scan finalization, noting
// whether a webhook notification was attempted.
func (pm *PrometheusMetrics) RecordBulkScanFinalized(notified bool) {
	label := "false"
	if notified {
		label = "true"
	}
	pm.bulkScansFinalized.WithLabelValues(label).Inc()
}

// RecordWebhookFailure increments the webhook-failure counter.
func (pm *PrometheusMetrics) RecordWebhookFailure() {
	pm.webhookFailures.Inc()
}

// UpdateSystemMetrics refreshes the goroutine count and uptime gauges. Call
// periodically from a background ticker.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
}
