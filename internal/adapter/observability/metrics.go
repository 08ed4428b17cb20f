package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
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

	MessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_published_total",
			Help: "Total number of messages published by logical topic and outcome",
		},
		[]string{"topic", "outcome"},
	)
	MessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_consumed_total",
			Help: "Total number of messages consumed by logical topic and handler outcome",
		},
		[]string{"topic", "outcome"},
	)
	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handler_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"topic"},
	)
	HandlersInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "handlers_in_flight",
			Help: "Number of handler invocations currently running",
		},
	)
	VisibilityExtensionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visibility_extensions_total",
			Help: "Total number of SQS visibility extensions issued",
		},
	)
	StageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_transitions_total",
			Help: "Total number of request stage transitions",
		},
		[]string{"stage"},
	)
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of model-provider requests by family and outcome",
		},
		[]string{"provider", "outcome"},
	)
	JudgeScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "judge_score",
			Help:    "Distribution of judge scores (0-10 scale)",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)
)

// InitMetrics registers all collectors on the default registry. Call
// once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(MessagesPublishedTotal)
	prometheus.MustRegister(MessagesConsumedTotal)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(HandlersInFlight)
	prometheus.MustRegister(VisibilityExtensionsTotal)
	prometheus.MustRegister(StageTransitionsTotal)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(JudgeScoreHistogram)
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
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// RecordPublish counts a publish attempt.
func RecordPublish(topic string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	MessagesPublishedTotal.WithLabelValues(topic, outcome).Inc()
}

// RecordHandlerOutcome counts a finished handler invocation.
func RecordHandlerOutcome(topic string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	MessagesConsumedTotal.WithLabelValues(topic, outcome).Inc()
	HandlerDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
}

// RecordProviderRequest counts a model-provider call.
func RecordProviderRequest(provider string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordStageTransition counts a state-stage write.
func RecordStageTransition(stage string) {
	StageTransitionsTotal.WithLabelValues(stage).Inc()
}
