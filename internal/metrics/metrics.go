// ABOUTME: Prometheus collectors for the gateway's request and proxy paths
// ABOUTME: Registers counters, histograms, and the active-stream gauge

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the gateway's Prometheus metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamErrors  prometheus.Counter
	activeStreams   prometheus.Gauge
}

// NewCollector creates and registers all gateway metrics. If registry is
// nil a fresh one is used.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentdeck",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by method and status class.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentdeck",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30},
		}, []string{"method"}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentdeck",
			Name:      "proxy_upstream_errors_total",
			Help:      "Upstream calls that failed or returned non-2xx.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentdeck",
			Name:      "proxy_active_streams",
			Help:      "Currently open SSE relay connections.",
		}),
	}

	registry.MustRegister(c.requestsTotal, c.requestDuration, c.upstreamErrors, c.activeStreams)
	return c
}

// ObserveRequest records one handled request.
func (c *Collector) ObserveRequest(method string, status int, seconds float64) {
	c.requestsTotal.WithLabelValues(method, statusClass(status)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(seconds)
}

// UpstreamError counts a failed backend call.
func (c *Collector) UpstreamError() { c.upstreamErrors.Inc() }

// StreamOpened tracks a new SSE relay connection.
func (c *Collector) StreamOpened() { c.activeStreams.Inc() }

// StreamClosed tracks a finished SSE relay connection.
func (c *Collector) StreamClosed() { c.activeStreams.Dec() }

// Handler serves the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
