// Package metrics provides Prometheus metrics for the hoopcal calibration service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default histogram buckets.
//
//nolint:gochecknoglobals // read-only defaults
var (
	defaultHTTPBuckets  = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000}
	defaultRoundBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	defaultRunBuckets   = []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600}
)

// Run status label values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Manager manages all Prometheus metrics for the calibration service.
type Manager struct {
	namespace         string
	subsystem         string
	constLabels       prometheus.Labels
	httpBuckets       []float64
	roundBuckets      []float64
	runBuckets        []float64
	calibrationSeries bool
	registry          prometheus.Registerer

	// Calibration Metrics - How the fit is going
	roundsCompleted prometheus.Counter
	roundRMSE       prometheus.Gauge
	bestRMSE        prometheus.Gauge
	learningRate    prometheus.Gauge
	teamsUpdated    prometheus.Counter
	roundDuration   prometheus.Histogram

	// Simulation Metrics - Replay volume
	gamesSimulated       prometheus.Counter
	gamesSkipped         prometheus.Counter
	gamesFailed          prometheus.Counter
	possessionsSimulated prometheus.Counter

	// Run Metrics - Submitted calibration jobs
	runsSubmitted prometheus.Counter
	runsDuplicate prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram
	storedRuns    prometheus.Gauge

	// Queue Metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueRejected    prometheus.Counter

	// Worker Metrics
	workerCount       prometheus.Gauge
	workerActiveCount prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
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
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:         "hoopcal",
		subsystem:         "calibration",
		httpBuckets:       defaultHTTPBuckets,
		roundBuckets:      defaultRoundBuckets,
		runBuckets:        defaultRunBuckets,
		calibrationSeries: true,
		registry:          prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.roundsCompleted = m.counter("rounds_total", "Total number of calibration rounds completed")
	m.roundRMSE = m.gauge("round_rmse", "RMSE of predicted versus actual wins for the latest round")
	m.bestRMSE = m.gauge("best_rmse", "Best RMSE reached by the latest run")
	m.learningRate = m.gauge("learning_rate", "Learning rate applied to the latest round's updates")
	m.teamsUpdated = m.counter("teams_updated_total", "Total number of team models perturbed by the update rule")
	m.roundDuration = m.histogram("round_duration_milliseconds", "Duration of one replay+score+update round in milliseconds",
		m.roundBuckets)

	m.gamesSimulated = m.counter("games_simulated_total", "Total number of scheduled games replayed")
	m.gamesSkipped = m.counter("games_skipped_total", "Total number of games skipped by the season game cap")
	m.gamesFailed = m.counter("games_failed_total", "Total number of games whose simulation returned an error")
	m.possessionsSimulated = m.counter("possessions_simulated_total", "Total number of simulated possessions")

	m.runsSubmitted = m.counter("runs_submitted_total", "Total number of calibration runs accepted")
	m.runsDuplicate = m.counter("runs_duplicate_total", "Total number of run submissions dropped as duplicates")
	m.runsCompleted = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "runs_completed_total",
			Help:        "Total number of calibration runs finished by status",
			ConstLabels: m.constLabels,
		},
		[]string{"status"},
	)
	m.runDuration = m.histogram("run_duration_seconds", "Wall time of a full calibration run in seconds",
		m.runBuckets)
	m.storedRuns = m.gauge("stored_runs", "Number of runs held by the run store")

	m.queueSize = m.gauge("queue_size", "Current number of queued calibration jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueRejected = m.counter("queue_rejected_total", "Total number of jobs rejected because the queue was full")

	m.workerCount = m.gauge("worker_count", "Configured number of calibration workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Number of workers currently running a calibration")

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: m.constLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "http_request_duration_milliseconds",
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.httpBuckets,
			ConstLabels: m.constLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "errors_by_component_total",
			Help:        "Total number of errors by component",
			ConstLabels: m.constLabels,
		},
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Calibration Metrics Functions.

// RecordRound records one finished calibration round.
func RecordRound(rmse, learnRate float64, teamsUpdated int, duration time.Duration) {
	if !globalManager.calibrationSeries {
		return
	}
	globalManager.roundsCompleted.Inc()
	globalManager.roundRMSE.Set(rmse)
	globalManager.learningRate.Set(learnRate)
	globalManager.teamsUpdated.Add(float64(teamsUpdated))
	globalManager.roundDuration.Observe(float64(duration.Microseconds()) / 1000)
}

// UpdateBestRMSE sets the best RMSE of the latest run.
func UpdateBestRMSE(rmse float64) {
	if !globalManager.calibrationSeries {
		return
	}
	globalManager.bestRMSE.Set(rmse)
}

// RecordGamesReplayed adds the per-round game tallies.
func RecordGamesReplayed(played, skipped, failed int) {
	if !globalManager.calibrationSeries {
		return
	}
	globalManager.gamesSimulated.Add(float64(played))
	globalManager.gamesSkipped.Add(float64(skipped))
	globalManager.gamesFailed.Add(float64(failed))
}

// RecordPossessions adds simulated possessions.
func RecordPossessions(count int) {
	if count > 0 && globalManager.calibrationSeries {
		globalManager.possessionsSimulated.Add(float64(count))
	}
}

// Run Metrics Functions.

// RecordRunSubmitted increments the accepted runs counter.
func RecordRunSubmitted() {
	globalManager.runsSubmitted.Inc()
}

// RecordRunDuplicate increments the duplicate submissions counter.
func RecordRunDuplicate() {
	globalManager.runsDuplicate.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func RecordRunCompleted(status string, duration time.Duration) {
	globalManager.runsCompleted.WithLabelValues(status).Inc()
	globalManager.runDuration.Observe(duration.Seconds())
}

// UpdateStoredRuns sets the number of runs in the store.
func UpdateStoredRuns(count int) {
	globalManager.storedRuns.Set(float64(count))
}

// Queue Metrics Functions.

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
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueRejected increments the rejected jobs counter.
func RecordQueueRejected() {
	globalManager.queueRejected.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

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
