// Package metrics provides Prometheus metrics for the progression engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// scoreBuckets covers typical submission scores.
var scoreBuckets = []float64{0, 10, 25, 50, 100, 150, 250, 500, 1000, 2500} //nolint:gochecknoglobals // fixed bucket layout

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Reward flow
	rewardsApplied   prometheus.Counter
	rewardsDuplicate prometheus.Counter
	versionConflicts prometheus.Counter
	retriesExhausted prometheus.Counter
	rewardErrors     *prometheus.CounterVec
	applyLatency     prometheus.Histogram
	scoreValue       prometheus.Histogram

	// Progression
	levelsGained      prometheus.Counter
	tierPromotions    *prometheus.CounterVec
	tierCorrections   prometheus.Counter
	coinsGranted      prometheus.Counter
	progressionsTotal prometheus.Gauge

	// Store
	storeLatency         *prometheus.HistogramVec
	storeShardCount      prometheus.Gauge
	storeRecordsTotal    prometheus.Gauge
	storeRecordsPerShard *prometheus.GaugeVec
	storeAppliedMarkers  prometheus.Gauge

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRateLimited     *prometheus.CounterVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ascend",
		subsystem:        "progression",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	b := m.histogramBuckets

	m.rewardsApplied = m.counter("rewards_applied_total", "Submissions whose rewards were applied")
	m.rewardsDuplicate = m.counter("rewards_duplicate_total", "Submissions answered from the idempotency record")
	m.versionConflicts = m.counter("version_conflicts_total", "Optimistic concurrency conflicts that triggered a retry")
	m.retriesExhausted = m.counter("retries_exhausted_total", "Submissions rejected after exhausting conflict retries")
	m.rewardErrors = m.counterVec("reward_errors_total", "Failed reward applications by error kind", "kind")
	m.applyLatency = m.histogram("apply_latency_milliseconds", "End-to-end ApplyReward latency in milliseconds", b)
	m.scoreValue = m.histogram("score", "Distribution of computed submission scores", scoreBuckets)

	m.levelsGained = m.counter("levels_gained_total", "Levels gained across all users")
	m.tierPromotions = m.counterVec("tier_promotions_total", "Tier promotions by destination tier", "tier")
	m.tierCorrections = m.counter("tier_corrections_total", "Corrective tier realignments")
	m.coinsGranted = m.counter("coins_granted_total", "Coins granted including level and tier bonuses")
	m.progressionsTotal = m.gauge("progressions", "Number of onboarded users")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency in milliseconds", b, "backend", "op")
	m.storeShardCount = m.gauge("store_shard_count", "Number of in-memory store shards")
	m.storeRecordsTotal = m.gauge("store_records_total", "Progression records held by the store")
	m.storeRecordsPerShard = m.gaugeVec("store_records_per_shard", "Progression records per in-memory shard", "shard_id")
	m.storeAppliedMarkers = m.gauge("store_applied_markers", "Applied-submission markers remembered by the in-memory store")

	m.queueSize = m.gauge("queue_size", "Current size of the async reward queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the async reward queue")
	m.queueUtilization = m.gauge("queue_utilization", "Queue fill ratio (0-1)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Requests enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Requests dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Requests rejected by the queue")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Time a request waited in the queue", b)

	m.workerCount = m.gauge("worker_count", "Configured async workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently applying a reward")
	m.workerIdleCount = m.gauge("worker_idle_count", "Workers waiting for work")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds", b)
	m.workerErrorRate = m.counter("worker_errors_total", "Async reward applications that failed")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", b, "endpoint", "method", "status_code")
	m.httpRateLimited = m.counterVec("http_rate_limited_total", "Requests rejected by the rate limiter", "endpoint")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint, method and type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Reward flow.

// RecordRewardApplied increments the applied rewards counter.
func RecordRewardApplied() {
	globalManager.rewardsApplied.Inc()
}

// RecordRewardDuplicate increments the replayed submissions counter.
func RecordRewardDuplicate() {
	globalManager.rewardsDuplicate.Inc()
}

// RecordVersionConflict increments the optimistic conflict counter.
func RecordVersionConflict() {
	globalManager.versionConflicts.Inc()
}

// RecordRetriesExhausted increments the exhausted retries counter.
func RecordRetriesExhausted() {
	globalManager.retriesExhausted.Inc()
}

// RecordRewardError counts a failed application by kind.
func RecordRewardError(kind string) {
	globalManager.rewardErrors.WithLabelValues(kind).Inc()
}

// RecordApplyLatency records ApplyReward latency in milliseconds.
func RecordApplyLatency(latencyMs float64) {
	globalManager.applyLatency.Observe(latencyMs)
}

// RecordScore records a computed score.
func RecordScore(score float64) {
	globalManager.scoreValue.Observe(score)
}

// Progression.

// RecordLevelsGained adds n to the levels gained counter.
func RecordLevelsGained(n int) {
	if n > 0 {
		globalManager.levelsGained.Add(float64(n))
	}
}

// RecordTierPromotion counts a promotion into tier.
func RecordTierPromotion(tier string) {
	globalManager.tierPromotions.WithLabelValues(tier).Inc()
}

// RecordTierCorrection counts a corrective realignment.
func RecordTierCorrection() {
	globalManager.tierCorrections.Inc()
}

// RecordCoinsGranted adds granted coins.
func RecordCoinsGranted(coins int64) {
	if coins > 0 {
		globalManager.coinsGranted.Add(float64(coins))
	}
}

// UpdateTotalProgressions sets the number of onboarded users.
func UpdateTotalProgressions(count int) {
	globalManager.progressionsTotal.Set(float64(count))
}

// Store.

// RecordStoreLatency records latency of a store operation.
func RecordStoreLatency(backend, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// UpdateStoreShardCount sets the number of in-memory shards.
func UpdateStoreShardCount(count int) {
	globalManager.storeShardCount.Set(float64(count))
}

// UpdateStoreRecordsTotal sets the number of stored records.
func UpdateStoreRecordsTotal(count int) {
	globalManager.storeRecordsTotal.Set(float64(count))
}

// UpdateStoreAppliedMarkers sets the number of remembered submission markers.
func UpdateStoreAppliedMarkers(count int64) {
	globalManager.storeAppliedMarkers.Set(float64(count))
}

// UpdateStoreRecordsPerShard sets the record count of one shard.
func UpdateStoreRecordsPerShard(shardID string, count int) {
	globalManager.storeRecordsPerShard.WithLabelValues(shardID).Set(float64(count))
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue fill ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the rejected enqueue counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue wait time in milliseconds.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordRateLimited counts a request rejected by the limiter.
func RecordRateLimited(endpoint string) {
	globalManager.httpRateLimited.WithLabelValues(endpoint).Inc()
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
