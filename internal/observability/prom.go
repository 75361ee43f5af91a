package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Prom struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec

	// Users backend
	BackendCallDuration *prometheus.HistogramVec
	BackendCallsTotal   *prometheus.CounterVec
	BackendCircuitState *prometheus.GaugeVec

	SessionsInvalidated prometheus.Counter
}

// NewProm registers the collectors on a fresh registry together with the go and
// process collectors.
func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Prom{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usermanager",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "usermanager",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usermanager",
				Name:      "http_errors_total",
				Help:      "HTTP responses with a 4xx or 5xx status by class.",
			},
			[]string{"method", "route", "class"},
		),
		BackendCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "usermanager",
				Subsystem: "backend",
				Name:      "call_duration_seconds",
				Help:      "Users backend call latency by logical operation.",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"op", "status"},
		),
		BackendCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usermanager",
				Subsystem: "backend",
				Name:      "calls_total",
				Help:      "Users backend calls by logical operation and outcome.",
			},
			[]string{"op", "status"},
		),
		BackendCircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "usermanager",
				Subsystem: "backend",
				Name:      "circuit_state",
				Help:      "1 for the current state of the users backend circuit breaker, 0 otherwise.",
			},
			[]string{"state"},
		),
		SessionsInvalidated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usermanager",
				Subsystem: "backend",
				Name:      "sessions_invalidated_total",
				Help:      "Responses that forced the operator back to the login page.",
			},
		),
	}
	reg.MustRegister(p.RequestsTotal, p.RequestsDuration, p.ErrorsTotal, p.BackendCallDuration, p.BackendCallsTotal, p.BackendCircuitState, p.SessionsInvalidated)
	p.BreakerStateChanged("closed")

	return p
}

// Handler exposes the registry in the Prometheus text format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prom) RecordRequest(_ context.Context, method, route string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	p.RequestsTotal.WithLabelValues(method, route, status).Inc()
	p.RequestsDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func (p *Prom) RecordError(_ context.Context, method, route string, errorType string) {
	p.ErrorsTotal.WithLabelValues(method, route, errorType).Inc()
}

// ObserveBackendCall records one round trip to the users backend. status is the
// HTTP status code or "error" when no response was received.
func (p *Prom) ObserveBackendCall(op string, status string, d time.Duration) {
	p.BackendCallsTotal.WithLabelValues(op, status).Inc()
	p.BackendCallDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

func (p *Prom) SessionInvalidated() {
	p.SessionsInvalidated.Inc()
}

var circuitStates = []string{"closed", "half-open", "open"}

func (p *Prom) BreakerStateChanged(state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1
		}
		p.BackendCircuitState.WithLabelValues(s).Set(value)
	}
}
