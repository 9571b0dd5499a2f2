package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// METRICS - Prometheus collectors fed by engine observers
// =============================================================================

// Metrics implements issuance.Observer and schedule.Observer.
type Metrics struct {
	registry        *prometheus.Registry
	tokensIssued    *prometheus.CounterVec
	tokenRejections *prometheus.CounterVec
	conflicts       prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry, so several
// instances (tests) never collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealtoken_tokens_issued_total",
			Help: "Meal tokens issued, by shift and pay status.",
		}, []string{"shift", "pay_status"}),
		tokenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealtoken_token_rejections_total",
			Help: "Token requests rejected, by reason.",
		}, []string{"reason"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mealtoken_schedule_conflicts_total",
			Help: "Overlapping token windows found while saving schedules.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealtoken_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(
		m.tokensIssued,
		m.tokenRejections,
		m.conflicts,
		m.requestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) TokenIssued(s meal.Shift, status meal.PayStatus) {
	m.tokensIssued.WithLabelValues(string(s), string(status)).Inc()
}

func (m *Metrics) TokenRejected(reason string) {
	m.tokenRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ScheduleConflicts(n int) {
	m.conflicts.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records request duration labelled by the chi route pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
