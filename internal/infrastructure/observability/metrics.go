package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	AllowancesPaid = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "allowances_paid_total",
			Help: "Total number of allowance payments made",
		},
	)

	SweepChildren = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allowance_sweep_children_total",
			Help: "Children seen by the allowance sweep, by outcome",
		},
		[]string{"outcome"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RepositoryCalls, RepositoryDuration, AllowancesPaid, SweepChildren)
}
