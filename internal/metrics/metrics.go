// Package metrics holds the Prometheus collectors shared by every directory
// server and the debug endpoint that exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "termserve"

// Metrics are the per-server request collectors.
type Metrics struct {
	Requests  *prometheus.CounterVec
	InFlight  *prometheus.GaugeVec
	ServersUp prometheus.Gauge
}

// New creates unregistered collectors.
func New() *Metrics {
	subsystem := "http"

	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Requests served, by server, method and status code.",
		}, []string{"server", "method", "code"}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}, []string{"server"}),
		ServersUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "servers_up",
			Help:      "Directory servers currently serving.",
		}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Requests, m.InFlight, m.ServersUp}
}

// Middleware counts requests to next under the given server label.
func (m *Metrics) Middleware(server string, next http.Handler) http.Handler {
	counter := m.Requests.MustCurryWith(prometheus.Labels{"server": server})
	return promhttp.InstrumentHandlerInFlight(
		m.InFlight.WithLabelValues(server),
		promhttp.InstrumentHandlerCounter(counter, next),
	)
}

// NewRegistry returns a registry holding the standard process and Go
// collectors plus m.
func NewRegistry(m *Metrics, version string) *prometheus.Registry {
	r := prometheus.NewRegistry()

	r.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{
			Namespace: Namespace,
		}),
		prometheus.NewGoCollector(),
		prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "info",
			Help:      "termserve information.",
			ConstLabels: prometheus.Labels{
				"version": version,
			},
		}),
	)
	r.MustRegister(m.Collectors()...)

	return r
}
