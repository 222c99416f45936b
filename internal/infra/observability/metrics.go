package observability

import (
	"net/http"
	"time"

	"github.com/harborview/agency-dashboard-go/internal/domain"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the dashboard API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	creditAlerts    *prometheus.CounterVec
	reportsComputed prometheus.Counter
	requestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dash_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dash_store_errors_total",
				Help: "Total errors from the persistence layer.",
			},
			[]string{"store"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dash_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dash_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		creditAlerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dash_credit_alerts_total",
				Help: "Credit overviews that evaluated to an alerting severity.",
			},
			[]string{"severity"},
		),
		reportsComputed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dash_report_schedules_computed_total",
				Help: "Total next-run computations for scheduled reports.",
			},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dash_requests_total",
				Help: "Total requests processed.",
			},
			[]string{"status"},
		),
	}
}

// Middleware observes every request: duration labeled by the matched
// route pattern (not the raw path, to keep cardinality bounded) and the
// success/error counter feeding the /v1/metrics/usage error rate.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		operation := r.Method
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			operation = r.Method + " " + rctx.RoutePattern()
		}
		m.RecordRequestDuration(operation, time.Since(start))

		if ww.Status() >= 500 {
			m.IncrRequest("error")
		} else {
			m.IncrRequest("success")
		}
	})
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrStoreError increments the persistence error counter.
func (m *Metrics) IncrStoreError(store string) {
	m.storeErrors.WithLabelValues(store).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrCreditAlert counts an overview that crossed a warning threshold.
func (m *Metrics) IncrCreditAlert(severity string) {
	m.creditAlerts.WithLabelValues(severity).Inc()
}

// IncrReportComputed counts one next-run computation.
func (m *Metrics) IncrReportComputed() {
	m.reportsComputed.Inc()
}

// IncrRequest increments the request counter with a status label.
func (m *Metrics) IncrRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// GetUsageSnapshot returns a snapshot of operational metrics for the
// GET /v1/metrics/usage endpoint.
func (m *Metrics) GetUsageSnapshot() *domain.UsageMetrics {
	totalRequests := getCounterValue(m.requestsTotal, "success") +
		getCounterValue(m.requestsTotal, "error")
	errorCount := getCounterValue(m.requestsTotal, "error")
	storeErrors := getCounterValue(m.storeErrors, "supabase")
	cacheHits := getCounterValue(m.cacheHits, "credits")
	cacheMisses := getCounterValue(m.cacheMisses, "credits")
	alerts := getCounterValue(m.creditAlerts, "low") +
		getCounterValue(m.creditAlerts, "overage") +
		getCounterValue(m.creditAlerts, "at_limit")

	errorRate := float64(0)
	cacheHitRate := float64(0)
	if totalRequests > 0 {
		errorRate = errorCount / totalRequests
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	reports := &dto.Metric{}
	reportsComputed := float64(0)
	if err := m.reportsComputed.Write(reports); err == nil && reports.Counter != nil && reports.Counter.Value != nil {
		reportsComputed = *reports.Counter.Value
	}

	return &domain.UsageMetrics{
		TotalRequests:   int64(totalRequests),
		ErrorRate:       errorRate,
		StoreErrors:     int64(storeErrors),
		CacheHitRate:    cacheHitRate,
		CreditAlerts:    int64(alerts),
		ReportsComputed: int64(reportsComputed),
		Period:          "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
