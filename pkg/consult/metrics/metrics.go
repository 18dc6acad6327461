// Package metrics exposes Prometheus metrics for model calls, tool calls
// and the HTTP surface.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Model call outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Metrics holds the collectors. It implements llm.Observer and
// responder.Observer.
type Metrics struct {
	modelRequests *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec
	toolRetries   *prometheus.CounterVec
	toolFailures  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		modelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medconsult_model_requests_total",
			Help: "Model completion calls by model and outcome",
		}, []string{"model", "outcome"}),
		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medconsult_model_request_duration_seconds",
			Help:    "Model completion latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medconsult_fallback_total",
			Help: "Substitutions of a failed model by its fallback",
		}, []string{"from", "to"}),
		toolRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medconsult_tool_retries_total",
			Help: "Tool invocation retries",
		}, []string{"tool"}),
		toolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medconsult_tool_failures_total",
			Help: "Tool invocations that failed after all retries",
		}, []string{"tool"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medconsult_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medconsult_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.modelRequests,
		m.modelDuration,
		m.fallbacks,
		m.toolRetries,
		m.toolFailures,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveCompletion records one model call.
func (m *Metrics) ObserveCompletion(model string, duration time.Duration, err error) {
	m.modelRequests.WithLabelValues(model, outcome(err)).Inc()
	m.modelDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// ObserveFallback records a substitution of from by to.
func (m *Metrics) ObserveFallback(from, to string, _ error) {
	m.fallbacks.WithLabelValues(from, to).Inc()
}

// ObserveToolRetry records a tool retry.
func (m *Metrics) ObserveToolRetry(tool string) {
	m.toolRetries.WithLabelValues(tool).Inc()
}

// ObserveToolFailure records a tool that failed for good.
func (m *Metrics) ObserveToolFailure(tool string) {
	m.toolFailures.WithLabelValues(tool).Inc()
}

// Middleware records request counts and latency per mux route template,
// so session ids do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeName(r)
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack supports the WebSocket upgrade.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := s.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
