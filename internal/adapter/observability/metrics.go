package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	extobs "github.com/zeroatsteel/zero-agent/internal/observability"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
	AIRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_rate_limited_total",
			Help: "Rate-limit signals received per provider",
		},
		[]string{"provider"},
	)
	AIInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_in_flight",
			Help: "Provider calls currently admitted",
		},
		[]string{"provider"},
	)

	LoopRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loop_rounds_total",
			Help: "Generate-validate rounds by verdict",
		},
		[]string{"verdict"},
	)
	LoopOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loop_outcomes_total",
			Help: "Generate-validate runs by terminal status",
		},
		[]string{"status"},
	)
	PromptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prompt_context_tokens",
			Help:    "Estimated tokens of the assembled conversation at loop start",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		},
	)
	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_streams_active",
			Help: "Open pipeline event streams",
		},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors with the default registry once per process.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AIRateLimitedTotal,
			AIInFlight,
			LoopRoundsTotal,
			LoopOutcomesTotal,
			PromptTokens,
			ActiveStreams,
		)
		prometheus.MustRegister(extobs.Collectors()...)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveProviderCall records one provider attempt.
func ObserveProviderCall(provider, outcome string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, outcome).Inc()
	AIRequestDuration.WithLabelValues(provider).Observe(d.Seconds())
	if outcome == "rate_limited" {
		AIRateLimitedTotal.WithLabelValues(provider).Inc()
	}
}

// ObserveRound records a validator verdict.
func ObserveRound(passed bool) {
	if passed {
		LoopRoundsTotal.WithLabelValues("pass").Inc()
		return
	}
	LoopRoundsTotal.WithLabelValues("fail").Inc()
}

// ObserveLoopOutcome records the terminal status of one run.
func ObserveLoopOutcome(status string) {
	LoopOutcomesTotal.WithLabelValues(status).Inc()
}
