package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvlab/dvlab-api/internal/models"
)

// Calendar fetch outcomes used as metric labels.
const (
	FetchOutcomeOK          = "ok"
	FetchOutcomeAuthExpired = "auth_expired"
	FetchOutcomeError       = "error"
	FetchOutcomeSuperseded  = "superseded"
)

// MetricsService encapsulates Prometheus instrumentation and keeps a few
// counters for the JSON summary endpoint.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration    *prometheus.HistogramVec
	cacheLatency       prometheus.Histogram
	cacheWrite         prometheus.Histogram
	cacheLookups       *prometheus.CounterVec
	dbQueryDuration    *prometheus.HistogramVec
	fetchDuration      *prometheus.HistogramVec
	sessionTransitions *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	tokenEvents        *prometheus.CounterVec

	requestCount         atomic.Uint64
	requestDurationTotal atomic.Uint64
	cacheHitCount        atomic.Uint64
	cacheMissCount       atomic.Uint64
	dbQueryCount         atomic.Uint64
	dbQueryDurationTotal atomic.Uint64
	fetchCount           atomic.Uint64
	fetchFailures        atomic.Uint64
	sessionCount         atomic.Int64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	m := &MetricsService{registry: prometheus.NewRegistry()}

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	m.cacheLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_read_seconds",
		Help:    "Latency for cache reads",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m.cacheWrite = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache writes",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	m.dbQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	m.fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calendar_fetch_duration_seconds",
		Help:    "Duration of calendar event fetches by credential source and outcome",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"mode", "outcome"})

	m.sessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_session_transitions_total",
		Help: "Schedule session state transitions",
	}, []string{"from", "to"})

	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedule_sessions_active",
		Help: "Schedule sessions currently held in memory",
	})

	m.tokenEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_token_events_total",
		Help: "Persisted provider token writes and deletions",
	}, []string{"event"})

	m.registry.MustRegister(
		m.requestDuration, m.cacheLatency, m.cacheWrite, m.cacheLookups, m.dbQueryDuration,
		m.fetchDuration, m.sessionTransitions, m.activeSessions, m.tokenEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return m
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

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
	m.requestCount.Add(1)
	m.requestDurationTotal.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		m.cacheHitCount.Add(1)
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
	m.cacheMissCount.Add(1)
}

// ObserveCacheWrite tracks the duration for cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.dbQueryCount.Add(1)
	m.dbQueryDurationTotal.Add(uint64(duration.Nanoseconds()))
}

// ObserveCalendarFetch records one fetch.
func (m *MetricsService) ObserveCalendarFetch(mode models.AuthMode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(string(mode), outcome).Observe(duration.Seconds())
	m.fetchCount.Add(1)
	if outcome == FetchOutcomeError || outcome == FetchOutcomeAuthExpired {
		m.fetchFailures.Add(1)
	}
}

// RecordSessionTransition counts a state change.
func (m *MetricsService) RecordSessionTransition(from, to models.SessionState) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// SetActiveSessions reports the size of the session registry.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
	m.sessionCount.Store(int64(n))
}

// RecordTokenEvent counts persisted token writes ("saved") and deletions ("deleted").
func (m *MetricsService) RecordTokenEvent(event string) {
	if m == nil {
		return
	}
	m.tokenEvents.WithLabelValues(event).Inc()
}

// Snapshot returns aggregated metrics for the JSON summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := m.cacheHitCount.Load()
	misses := m.cacheMissCount.Load()
	requests := m.requestCount.Load()
	dbCount := m.dbQueryCount.Load()

	snap := models.SystemMetrics{
		RequestsTotal:          requests,
		CacheHits:              hits,
		CacheMisses:            misses,
		DBQueryCount:           dbCount,
		CalendarFetches:        m.fetchCount.Load(),
		CalendarFetchFailures:  m.fetchFailures.Load(),
		ActiveScheduleSessions: m.sessionCount.Load(),
		Goroutines:             runtime.NumGoroutine(),
		GeneratedAt:            time.Now().UTC(),
	}
	if total := hits + misses; total > 0 {
		snap.CacheHitRatio = float64(hits) / float64(total)
	}
	if requests > 0 {
		snap.AverageRequestDurationMs = float64(m.requestDurationTotal.Load()) / float64(requests) / float64(time.Millisecond)
	}
	if dbCount > 0 {
		snap.AverageDBQueryDurationMs = float64(m.dbQueryDurationTotal.Load()) / float64(dbCount) / float64(time.Millisecond)
	}
	return snap
}
