// Package httpapi provides the HTTP/JSON transport adapter: the REST
// surface over the enforcement, policy, audit, and retention services,
// plus the /ws push channel.
package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the API surface.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveSubscribers  prometheus.Gauge
	PolicyEvaluations  *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tame",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tame",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ActiveSubscribers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tame",
				Name:      "ws_active_subscribers",
				Help:      "Number of active /ws subscribers",
			},
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tame",
				Name:      "policy_evaluations_total",
				Help:      "Total policy evaluations by decision",
			},
			[]string{"decision"},
		),
		RateLimitRejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tame",
				Name:      "rate_limit_rejections_total",
				Help:      "Total requests rejected by rate limiting",
			},
			[]string{"key_type"},
		),
	}
}
