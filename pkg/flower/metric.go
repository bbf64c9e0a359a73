package flower

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "corigine_flower"

var (
	metricFlowResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "flows_resident",
			Help:      "the number of flows offloaded to the nic.",
		})

	metricFlowOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "flow_ops_total",
			Help:      "flow add and delete requests by result.",
		},
		[]string{
			"op",
			"result",
		})

	metricStatsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "stats_dropped_total",
			Help:      "stats frames received for contexts that are not active.",
		})

	metricFlowLeaked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "flows_leaked_total",
			Help:      "flows still resident when the engine was closed.",
		})

	metricMaskInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "masks_in_use",
			Help:      "the number of firmware mask ids in use.",
		})
)

var registerMetricsOnce sync.Once

// RegisterMetrics adds the engine metrics to the default registry.
func RegisterMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(metricFlowResident)
		prometheus.MustRegister(metricFlowOps)
		prometheus.MustRegister(metricStatsDropped)
		prometheus.MustRegister(metricFlowLeaked)
		prometheus.MustRegister(metricMaskInUse)
	})
}

func opResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isUnsupported(err):
		return "unsupported"
	case isExhausted(err):
		return "exhausted"
	}
	return "error"
}
