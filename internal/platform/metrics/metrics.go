package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the directory service.
type Metrics struct {
	DomainsRegistered prometheus.Counter
	DomainsVerified   prometheus.Counter
	WaliasesCreated   prometheus.Counter
	WaliasTransfers   prometheus.Counter
	AuthFailures      prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		DomainsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "walias_domains_registered_total",
			Help: "Total number of domains registered.",
		}),
		DomainsVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "walias_domains_verified_total",
			Help: "Total number of domains that completed verification.",
		}),
		WaliasesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "walias_waliases_created_total",
			Help: "Total number of waliases claimed.",
		}),
		WaliasTransfers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "walias_walias_transfers_total",
			Help: "Total number of walias ownership transfers.",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "walias_auth_failures_total",
			Help: "Total number of rejected signed-assertion headers.",
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walias_http_request_duration_seconds",
			Help:    "HTTP request latency by method and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}
