package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfit_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgfit_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Compression metrics
	CompressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfit_compressions_total",
			Help: "Total number of compression requests by outcome",
		},
		[]string{"status"}, // success, rejected, error, cancelled
	)

	CompressionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgfit_compression_duration_seconds",
			Help:    "Compression duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"}, // inline, isolated
	)

	CompressionBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgfit_compression_bytes",
			Help:    "Compression input/output bytes",
			Buckets: []float64{1024, 10240, 102400, 512000, 1048576, 5242880, 10485760, 104857600},
		},
		[]string{"direction"}, // input, output
	)

	// Search engine metrics
	SearchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfit_search_outcomes_total",
			Help: "Compression searches by terminal phase",
		},
		[]string{"outcome"}, // unconstrained, baseline, quality, downscale, exhausted, cancelled, failed
	)

	SearchEncodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imgfit_search_encodes",
			Help:    "Encode calls issued by one compression search",
			Buckets: []float64{1, 2, 4, 8, 12, 16, 20, 24, 28, 32},
		},
	)

	// Execution context metrics
	WorkerPoolQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgfit_worker_pool_queue_size",
			Help: "Current number of jobs in worker pool queue",
		},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgfit_worker_pool_active_jobs",
			Help: "Current number of jobs being compressed by workers",
		},
	)

	ExecutionFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfit_execution_fallbacks_total",
			Help: "Isolated executions that fell back to inline",
		},
		[]string{"reason"}, // busy, unavailable, crashed, error
	)

	// Rate limiting metrics
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfit_rate_limit_exceeded_total",
			Help: "Total number of requests rejected due to rate limiting",
		},
		[]string{"ip_prefix"}, // First octet for privacy
	)

	// Concurrency metrics
	ConcurrentRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgfit_concurrent_requests",
			Help: "Current number of concurrent requests being processed",
		},
	)

	ConcurrencyLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgfit_concurrency_limit_exceeded_total",
			Help: "Total number of requests rejected due to concurrency limit",
		},
	)

	// Pixel buffer pool metrics
	MemoryPoolHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfit_pixel_pool_hits_total",
			Help: "Total number of pixel buffer pool hits",
		},
		[]string{"size"}, // small, medium, large
	)

	MemoryPoolMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfit_pixel_pool_misses_total",
			Help: "Total number of pixel buffer pool misses",
		},
		[]string{"size"}, // small, medium, large, unpooled
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, duration float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordCompression records a finished compression request
func RecordCompression(status, mode string, duration float64, inputBytes, outputBytes int) {
	CompressionsTotal.WithLabelValues(status).Inc()
	CompressionDuration.WithLabelValues(mode).Observe(duration)
	CompressionBytes.WithLabelValues("input").Observe(float64(inputBytes))
	if outputBytes > 0 {
		CompressionBytes.WithLabelValues("output").Observe(float64(outputBytes))
	}
}

// RecordRejected records a request refused before any processing
func RecordRejected() {
	CompressionsTotal.WithLabelValues("rejected").Inc()
}

// RecordSearch records the terminal phase and encode count of one search
func RecordSearch(outcome string, encodes int) {
	SearchOutcomes.WithLabelValues(outcome).Inc()
	SearchEncodes.Observe(float64(encodes))
}

// UpdateWorkerPoolMetrics updates worker pool metrics
func UpdateWorkerPoolMetrics(queueSize, activeJobs int) {
	WorkerPoolQueueSize.Set(float64(queueSize))
	WorkerPoolActiveJobs.Set(float64(activeJobs))
}

// RecordFallback records an isolated execution retried inline
func RecordFallback(reason string) {
	ExecutionFallbacks.WithLabelValues(reason).Inc()
}

// RecordRateLimitExceeded records a rate limit rejection
func RecordRateLimitExceeded(ipPrefix string) {
	RateLimitExceeded.WithLabelValues(ipPrefix).Inc()
}

// UpdateConcurrency updates concurrent request gauge
func UpdateConcurrency(count int) {
	ConcurrentRequests.Set(float64(count))
}

// RecordConcurrencyLimitExceeded records a concurrency limit rejection
func RecordConcurrencyLimitExceeded() {
	ConcurrencyLimitExceeded.Inc()
}

// RecordPoolHit records a pixel buffer pool hit
func RecordPoolHit(size string) {
	MemoryPoolHits.WithLabelValues(size).Inc()
}

// RecordPoolMiss records a pixel buffer pool miss
func RecordPoolMiss(size string) {
	MemoryPoolMisses.WithLabelValues(size).Inc()
}
