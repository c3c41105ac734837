package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// EventMetrics counts broker traffic per topic. Outcome is "ok" or "error".
type EventMetrics struct {
	Published *prometheus.CounterVec
	Consumed  *prometheus.CounterVec
}

func NewEventMetrics(service string) *EventMetrics {
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "events_published_total",
		Help:      "Total number of domain events published.",
	}, []string{"topic", "outcome"})
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "events_consumed_total",
		Help:      "Total number of domain events consumed.",
	}, []string{"topic", "outcome"})

	prometheus.MustRegister(published, consumed)
	return &EventMetrics{Published: published, Consumed: consumed}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
