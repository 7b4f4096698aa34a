package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics the RPC front end records against.
// It is attached to a Handler with SetMetrics; the proxy pool takes no
// Metrics, and ProxyRequestsTotal is registered but not incremented.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	PolicyEvaluations  *prometheus.CounterVec
	ProxyPoolSize      prometheus.Gauge
	ProxyRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers every metric with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agenshield",
				Name:      "rpc_requests_total",
				Help:      "Total number of JSON-RPC requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agenshield",
				Name:      "rpc_request_duration_seconds",
				Help:      "JSON-RPC request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agenshield",
				Name:      "policy_evaluations_total",
				Help:      "Total policy evaluations by outcome",
			},
			[]string{"operation", "result"},
		),
		ProxyPoolSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agenshield",
				Name:      "proxy_pool_size",
				Help:      "Number of per-run proxies currently held by the pool",
			},
		),
		ProxyRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agenshield",
				Name:      "proxy_requests_total",
				Help:      "Total requests seen by per-run proxies, by decision",
			},
			[]string{"decision"},
		),
	}
}
