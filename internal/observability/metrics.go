package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prabodh-fiddler/prism/internal/logging"
)

type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	diagnosticsTotal *prometheus.CounterVec
	violationsTotal  *prometheus.CounterVec
	requestBodyBytes *prometheus.HistogramVec
	requestDuration  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prism_requests_total", Help: "Total requests by validation outcome"},
			[]string{"operation", "outcome", "code"},
		),
		diagnosticsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prism_diagnostics_total", Help: "Total request diagnostics"},
			[]string{"operation", "code"},
		),
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "prism_response_violations_total", Help: "Total response diagnostics"},
			[]string{"operation", "code"},
		),
		requestBodyBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prism_request_body_bytes",
				Help:    "Size of request bodies read",
				Buckets: prometheus.ExponentialBuckets(64, 4, 10),
			},
			[]string{"operation"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prism_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.requestsTotal,
		m.diagnosticsTotal,
		m.violationsTotal,
		m.requestBodyBytes,
		m.requestDuration,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Observe(decision logging.Decision) {
	if m == nil {
		return
	}

	op := decision.Operation
	if op == "" {
		op = "unmatched"
	}

	m.requestsTotal.WithLabelValues(op, decision.Outcome, strconv.Itoa(decision.StatusCode)).Inc()
	m.requestBodyBytes.WithLabelValues(op).Observe(float64(decision.BodyBytes))
	m.requestDuration.WithLabelValues(op).Observe((time.Duration(decision.DurationMS) * time.Millisecond).Seconds())

	for _, d := range decision.Diagnostics {
		m.diagnosticsTotal.WithLabelValues(op, d.Code).Inc()
	}
	for _, d := range decision.ResponseViolations {
		m.violationsTotal.WithLabelValues(op, d.Code).Inc()
	}
}
