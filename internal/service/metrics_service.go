package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the workflow engine and
// implements transaction.Observer.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	txDuration      *prometheus.HistogramVec
	txTotal         *prometheus.CounterVec
	txAttempts      prometheus.Histogram
	txRetries       *prometheus.CounterVec
	dbErrors        *prometheus.CounterVec
	eventDispatch   *prometheus.CounterVec
	revisionOutcome *prometheus.CounterVec

	cacheHitCount   uint64
	cacheMissCount  uint64
	txCount         uint64
	txRetryCount    uint64
	txFailureCount  uint64
	eventErrorCount uint64
}

// MetricsSnapshot is a point-in-time summary used by the ops endpoints.
type MetricsSnapshot struct {
	CacheHitRatio       float64   `json:"cacheHitRatio"`
	CacheHits           uint64    `json:"cacheHits"`
	CacheMisses         uint64    `json:"cacheMisses"`
	Transactions        uint64    `json:"transactions"`
	TransactionRetries  uint64    `json:"transactionRetries"`
	TransactionFailures uint64    `json:"transactionFailures"`
	EventDispatchErrors uint64    `json:"eventDispatchErrors"`
	Goroutines          int       `json:"goroutines"`
	GeneratedAt         time.Time `json:"generatedAt"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	txDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transaction_duration_seconds",
		Help:    "Duration of top-level transactions including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	txTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transactions_total",
		Help: "Total number of top-level transactions",
	}, []string{"operation", "outcome"})

	txAttempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "transaction_attempts",
		Help:    "Attempts needed per transaction",
		Buckets: []float64{1, 2, 3, 5, 8},
	})

	txRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transaction_retries_total",
		Help: "Transaction retries by classified error type",
	}, []string{"error_type"})

	dbErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "database_errors_total",
		Help: "Classified database errors",
	}, []string{"error_type"})

	eventDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domain_events_dispatched_total",
		Help: "Domain events dispatched after commit",
	}, []string{"event", "outcome"})

	revisionOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revision_request_operations_total",
		Help: "Revision request operations by kind and outcome",
	}, []string{"operation", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		txDuration, txTotal, txAttempts, txRetries, dbErrors, eventDispatch, revisionOutcome, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		txDuration:      txDuration,
		txTotal:         txTotal,
		txAttempts:      txAttempts,
		txRetries:       txRetries,
		dbErrors:        dbErrors,
		eventDispatch:   eventDispatch,
		revisionOutcome: revisionOutcome,
	}
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics for the ops server.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveTransaction implements transaction.Observer.
func (m *MetricsService) ObserveTransaction(operation, outcome string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
	m.txTotal.WithLabelValues(operation, outcome).Inc()
	m.txAttempts.Observe(float64(attempts))
	atomic.AddUint64(&m.txCount, 1)
	if outcome == "failed" {
		atomic.AddUint64(&m.txFailureCount, 1)
	}
}

// RecordTransactionRetry implements transaction.Observer.
func (m *MetricsService) RecordTransactionRetry(errorType string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(errorType).Inc()
	atomic.AddUint64(&m.txRetryCount, 1)
}

// RecordDatabaseError implements transaction.Observer.
func (m *MetricsService) RecordDatabaseError(errorType string) {
	if m == nil {
		return
	}
	m.dbErrors.WithLabelValues(errorType).Inc()
}

// RecordEventDispatch implements transaction.Observer.
func (m *MetricsService) RecordEventDispatch(event, outcome string) {
	if m == nil {
		return
	}
	m.eventDispatch.WithLabelValues(event, outcome).Inc()
	if outcome != "ok" {
		atomic.AddUint64(&m.eventErrorCount, 1)
	}
}

// RecordRevisionOperation counts orchestrator operations such as create or complete.
func (m *MetricsService) RecordRevisionOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.revisionOutcome.WithLabelValues(operation, outcome).Inc()
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	return MetricsSnapshot{
		CacheHitRatio:       cacheRatio,
		CacheHits:           hits,
		CacheMisses:         misses,
		Transactions:        atomic.LoadUint64(&m.txCount),
		TransactionRetries:  atomic.LoadUint64(&m.txRetryCount),
		TransactionFailures: atomic.LoadUint64(&m.txFailureCount),
		EventDispatchErrors: atomic.LoadUint64(&m.eventErrorCount),
		Goroutines:          runtime.NumGoroutine(),
		GeneratedAt:         time.Now().UTC(),
	}
}
