// Package metrics provides Prometheus metrics for the V2X correlation service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Manager manages all Prometheus metrics for the correlation service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	latencyBuckets   []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Correlation engine
	recordsProcessed *prometheus.CounterVec
	matches          prometheus.Counter
	anomalies        *prometheus.CounterVec
	matchLatency     prometheus.Histogram
	pendingTx        prometheus.Gauge
	pendingRx        prometheus.Gauge

	// Decoders
	decodeAccepted *prometheus.CounterVec
	decodeRejected *prometheus.CounterVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueue           prometheus.Counter
	queueDequeue           prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram
	batchesDuplicate       prometheus.Counter

	// Worker
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Sinks and sources
	exports      *prometheus.CounterVec
	natsMessages *prometheus.CounterVec

	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "v2x",
		subsystem:        "correlation",
		histogramBuckets: prometheus.DefBuckets,
		// 100us .. ~1.6s
		latencyBuckets: prometheus.ExponentialBuckets(100, 2, 15),
		constLabels:    make(map[string]string),
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.recordsProcessed = auto.NewCounterVec(
		m.counterOpts("records_processed_total", "Total number of records fed into the correlation engine by kind"),
		[]string{"kind"},
	)
	m.matches = auto.NewCounter(m.counterOpts("matches_total", "Total number of successful tx/rx matches"))
	m.anomalies = auto.NewCounterVec(
		m.counterOpts("anomalies_total", "Total number of anomalies by type"),
		[]string{"type"},
	)
	m.matchLatency = auto.NewHistogram(m.histogramOpts(
		"match_latency_microseconds", "Histogram of tx->rx latency of matched pairs in microseconds", m.latencyBuckets))
	m.pendingTx = auto.NewGauge(m.gaugeOpts("pending_tx", "Number of transmissions held in the pending table"))
	m.pendingRx = auto.NewGauge(m.gaugeOpts("pending_rx", "Number of orphan receptions awaiting a transmission"))

	m.decodeAccepted = auto.NewCounterVec(
		m.counterOpts("decode_accepted_total", "Total number of records accepted by decoder"),
		[]string{"decoder"},
	)
	m.decodeRejected = auto.NewCounterVec(
		m.counterOpts("decode_rejected_total", "Total number of records rejected by decoder and reason"),
		[]string{"decoder", "reason"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current number of batches waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)"))
	m.queueEnqueue = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Total number of batches enqueued"))
	m.queueDequeue = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Total number of batches dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Total number of enqueue errors"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts(
		"queue_processing_latency_milliseconds", "Time a batch spent in the queue in milliseconds", m.histogramBuckets))
	m.batchesDuplicate = auto.NewCounter(m.counterOpts("batches_duplicate_total", "Total number of ingest batches dropped as replays"))

	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts(
		"worker_processing_latency_milliseconds", "Time to apply one batch to the engine in milliseconds", m.histogramBuckets))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Total number of worker errors"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"},
	)

	m.exports = auto.NewCounterVec(
		m.counterOpts("exports_total", "Total number of result exports by exporter and status"),
		[]string{"exporter", "status"},
	)
	m.natsMessages = auto.NewCounterVec(
		m.counterOpts("nats_messages_total", "Total number of NATS messages by status"),
		[]string{"status"},
	)

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)
}

// RecordRecordProcessed increments the processed counter for a record kind.
func RecordRecordProcessed(kind string) {
	globalManager.recordsProcessed.WithLabelValues(kind).Inc()
}

// RecordMatch counts a matched pair and observes its latency.
func RecordMatch(latencyUS int64) {
	globalManager.matches.Inc()
	globalManager.matchLatency.Observe(float64(latencyUS))
}

// RecordAnomaly increments the anomaly counter of the given type.
func RecordAnomaly(anomaly string) {
	globalManager.anomalies.WithLabelValues(anomaly).Inc()
}

// UpdatePending sets the pending table gauges.
func UpdatePending(tx, rx int) {
	globalManager.pendingTx.Set(float64(tx))
	globalManager.pendingRx.Set(float64(rx))
}

// RecordDecodeAccepted increments the accepted counter of a decoder.
func RecordDecodeAccepted(decoder string) {
	globalManager.decodeAccepted.WithLabelValues(decoder).Inc()
}

// RecordDecodeRejected increments the rejected counter of a decoder.
func RecordDecodeRejected(decoder, reason string) {
	globalManager.decodeRejected.WithLabelValues(decoder, reason).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records how long a batch waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// RecordBatchDuplicate increments the replayed batch counter.
func RecordBatchDuplicate() {
	globalManager.batchesDuplicate.Inc()
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordExport counts an export attempt; status is "ok" or "error".
func RecordExport(exporter, status string) {
	globalManager.exports.WithLabelValues(exporter, status).Inc()
}

// RecordNATSMessage counts a NATS message; status is "ok", "rejected" or "error".
func RecordNATSMessage(status string) {
	globalManager.natsMessages.WithLabelValues(status).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// CounterValue gathers the registry and returns the value of a counter or gauge
// by its fully qualified name and label values, sorted by label name.
func CounterValue(name string, labelValues ...string) (float64, error) {
	families, err := customRegistry.Gather()
	if err != nil {
		return 0, fmt.Errorf("gather: %w", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !labelsMatch(metric, labelValues) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue(), nil
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue(), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s%v", ErrMetricNotFound, name, labelValues)
}

func labelsMatch(metric *dto.Metric, values []string) bool {
	pairs := metric.GetLabel()
	if len(values) > len(pairs) {
		return false
	}
	for i, v := range values {
		if pairs[i].GetValue() != v {
			return false
		}
	}
	return true
}
