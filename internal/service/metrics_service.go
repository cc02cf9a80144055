package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sibudis-api/internal/dto"
	"github.com/noah-isme/sibudis-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and keeps a few
// counters for the admin metrics summary.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	ledgerPosted      *prometheus.CounterVec
	ledgerAmount      *prometheus.CounterVec
	ledgerRejections  *prometheus.CounterVec
	importedStudents  prometheus.Counter
	eventsSubscribers prometheus.Gauge

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	ledgerPostedCount    uint64
	ledgerRejectedCount  uint64
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
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	ledgerPosted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sibudis_ledger_transactions_total",
		Help: "Ledger entries committed",
	}, []string{"kind", "actor_role"})

	ledgerAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sibudis_ledger_amount_total",
		Help: "Sum of committed amounts in the smallest currency unit",
	}, []string{"kind"})

	ledgerRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sibudis_ledger_rejections_total",
		Help: "Ledger requests rejected, by error code",
	}, []string{"code"})

	importedStudents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sibudis_students_imported_total",
		Help: "Students created through roster imports",
	})

	eventsSubscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sibudis_realtime_subscribers",
		Help: "Open change-event streams",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		ledgerPosted, ledgerAmount, ledgerRejections, importedStudents, eventsSubscribers, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		ledgerPosted:      ledgerPosted,
		ledgerAmount:      ledgerAmount,
		ledgerRejections:  ledgerRejections,
		importedStudents:  importedStudents,
		eventsSubscribers: eventsSubscribers,
	}
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// ObserveCacheWrite records cache set latency.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordLedgerEntry counts a committed ledger entry.
func (m *MetricsService) RecordLedgerEntry(entry models.Transaction) {
	if m == nil {
		return
	}
	m.ledgerPosted.WithLabelValues(string(entry.Kind), string(entry.ActorRole)).Inc()
	m.ledgerAmount.WithLabelValues(string(entry.Kind)).Add(float64(entry.Amount))
	atomic.AddUint64(&m.ledgerPostedCount, 1)
}

// RecordLedgerRejection counts a rejected ledger request by error code.
func (m *MetricsService) RecordLedgerRejection(code string) {
	if m == nil {
		return
	}
	m.ledgerRejections.WithLabelValues(code).Inc()
	atomic.AddUint64(&m.ledgerRejectedCount, 1)
}

// RecordImport counts imported students.
func (m *MetricsService) RecordImport(imported int) {
	if m == nil || imported <= 0 {
		return
	}
	m.importedStudents.Add(float64(imported))
}

// SubscriberDelta adjusts the open stream gauge.
func (m *MetricsService) SubscriberDelta(delta int) {
	if m == nil {
		return
	}
	m.eventsSubscribers.Add(float64(delta))
}

// Snapshot returns aggregated counters for the admin summary endpoint.
func (m *MetricsService) Snapshot() dto.SystemMetrics {
	if m == nil {
		return dto.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return dto.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		LedgerEntriesPosted:      atomic.LoadUint64(&m.ledgerPostedCount),
		LedgerRejections:         atomic.LoadUint64(&m.ledgerRejectedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
