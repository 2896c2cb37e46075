package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	upstreamErrors *prometheus.CounterVec
	subscribers    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers the proxy collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rat_proxy_requests_total",
			Help: "Proxy requests by route, method and response status",
		}, []string{"route", "method", "status"}),

		// Analysis calls can take up to two minutes.
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rat_proxy_request_duration_seconds",
			Help:    "Proxy request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"route"}),

		upstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rat_upstream_errors_total",
			Help: "Backend failures by route and status (500 when no response arrived)",
		}, []string{"route", "status"}),

		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "rat_event_subscribers",
			Help: "Open analysis event websocket connections",
		}),

		gatherer: reg,
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) upstreamError(route string, status int) {
	m.upstreamErrors.WithLabelValues(route, statusLabel(status)).Inc()
}
