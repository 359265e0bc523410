package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the identity API's Prometheus collectors.
//
// Naming follows Prometheus conventions:
//   - scholarhub_auth_ prefix
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
type Metrics struct {
	// AuthEventsTotal counts identity operations by operation and outcome ("success" or an error class).
	AuthEventsTotal *prometheus.CounterVec
	// HTTPRequestsTotal counts responses by route pattern and status code.
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDurationSeconds observes handler latency by route pattern.
	HTTPRequestDurationSeconds *prometheus.HistogramVec
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholarhub_auth_events_total",
				Help: "Identity operations by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholarhub_auth_http_requests_total",
				Help: "HTTP responses by route and status code.",
			},
			[]string{"route", "code"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scholarhub_auth_http_request_duration_seconds",
				Help:    "HTTP handler latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	for _, c := range []prometheus.Collector{m.AuthEventsTotal, m.HTTPRequestsTotal, m.HTTPRequestDurationSeconds} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordAuthEvent counts one identity operation.
func (m *Metrics) RecordAuthEvent(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = errorClass(err)
	}
	m.AuthEventsTotal.WithLabelValues(operation, outcome).Inc()
}
