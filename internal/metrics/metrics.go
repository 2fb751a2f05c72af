// Package metrics exposes gameplay and HTTP measurements on a Prometheus
// registry owned by the process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trpg"

// Metrics records turn outcomes, model latency, storage failures and
// request counts. It satisfies session.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	turns         *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	fallbacks     prometheus.Counter
	sessionsEnded *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Completed player turns by outcome",
			},
			[]string{"outcome"},
		),
		modelCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Model invocations by kind and result",
			},
			[]string{"kind", "result"},
		),
		modelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Duration of model invocations",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"kind"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keyword_fallbacks_total",
				Help:      "Turns scored by the keyword fallback",
			},
		),
		sessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_ended_total",
				Help:      "Finished sessions by alignment and epilogue source",
			},
			[]string{"alignment", "epilogue"},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_failures_total",
				Help:      "Best-effort storage operations that failed",
			},
			[]string{"op"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turns,
		m.modelCalls,
		m.modelDuration,
		m.fallbacks,
		m.sessionsEnded,
		m.gatewayErrors,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TurnCompleted(outcome string) {
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ModelCall(kind string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.modelCalls.WithLabelValues(kind, result).Inc()
	m.modelDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) FallbackApplied() {
	m.fallbacks.Inc()
}

func (m *Metrics) SessionEnded(label alignment.Label, fallbackEpilogue bool) {
	source := "model"
	if fallbackEpilogue {
		source = "default"
	}
	m.sessionsEnded.WithLabelValues(label.String(), source).Inc()
}

func (m *Metrics) GatewayFailure(op string) {
	m.gatewayErrors.WithLabelValues(op).Inc()
}

// ObserveRequest records one served HTTP request. route should be the
// router pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
