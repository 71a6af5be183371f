package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalog_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MeterDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalog_meter_decisions_total",
			Help: "Total number of metering decisions.",
		},
		[]string{"feature", "outcome"},
	)

	ChargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalog_charges_total",
			Help: "Total number of wallet charge attempts at settlement.",
		},
		[]string{"outcome"},
	)

	UsageCostCents = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalog_usage_cost_cents",
			Help:    "Realized cost of metered actions in cents.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"feature"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MeterDecisionsTotal,
		ChargesTotal,
		UsageCostCents,
	)
}
