package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	cacheLatency        prometheus.Observer
	cacheWrite          prometheus.Observer
	cacheLookups        *prometheus.CounterVec
	dbQueryDuration     *prometheus.HistogramVec
	reportCompositions  *prometheus.CounterVec
	reportDuration      *prometheus.HistogramVec
	staleReports        prometheus.Counter
	changeNotifications *prometheus.CounterVec
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

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of data service statements",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	reportCompositions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_compositions_total",
		Help: "Report compositions by type and outcome",
	}, []string{"type", "outcome"})

	reportDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_composition_seconds",
		Help:    "Time spent fetching and aggregating a report",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	staleReports := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_stale_responses_total",
		Help: "Report responses discarded because a newer request superseded them",
	})

	changeNotifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "change_notifications_total",
		Help: "Change notifications handled by table",
	}, []string{"table"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups, dbQueryDuration,
		reportCompositions, reportDuration, staleReports, changeNotifications, goroutines)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		cacheLatency:        cacheLatency,
		cacheWrite:          cacheWrite,
		cacheLookups:        cacheLookups,
		dbQueryDuration:     dbQueryDuration,
		reportCompositions:  reportCompositions,
		reportDuration:      reportDuration,
		staleReports:        staleReports,
		changeNotifications: changeNotifications,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records data service statement timing. It satisfies dataservice.Observer.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordReport counts a composition outcome: "ok", "cached", "invalid" or "failed".
func (m *MetricsService) RecordReport(reportType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reportCompositions.WithLabelValues(reportType, outcome).Inc()
	if outcome == "ok" {
		m.reportDuration.WithLabelValues(reportType).Observe(duration.Seconds())
	}
}

// IncStaleReport counts a discarded out-of-date response.
func (m *MetricsService) IncStaleReport() {
	if m == nil {
		return
	}
	m.staleReports.Inc()
}

// RecordChangeNotification counts a handled change notification.
func (m *MetricsService) RecordChangeNotification(table string) {
	if m == nil {
		return
	}
	m.changeNotifications.WithLabelValues(table).Inc()
}
