// Package metrics exposes the client's prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is created once by the application root. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	forcedLogouts   prometheus.Counter
	transitions     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocker_client_requests_total",
				Help: "Outbound API requests by method and status.",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stocker_client_request_duration_seconds",
				Help:    "Outbound API request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stocker_session_forced_logouts_total",
			Help: "Sessions cleared because the server rejected the token.",
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocker_session_transitions_total",
				Help: "Session state transitions.",
			},
			[]string{"from", "to"},
		),
	}
	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.forcedLogouts, m.transitions)
	return m
}

// ObserveRequest records one round trip. status 0 means transport failure.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(method, label).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ForcedLogout() {
	if m == nil {
		return
	}
	m.forcedLogouts.Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// Registry is exposed for tests and for embedding into a host registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
