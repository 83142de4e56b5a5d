package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	confirmations *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fega",
			Subsystem: "relay",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fega",
			Subsystem: "relay",
			Name:      "confirmations_total",
			Help:      "Token callbacks by outcome.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.requests, m.confirmations)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
