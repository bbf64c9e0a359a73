package agent

import "github.com/prometheus/client_golang/prometheus"

const metricNamespace = "corigine_nic"

var (
	metricPortOffload = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "port_offload_flows",
			Help:      "the number of flows offloaded through a representor.",
		},
		[]string{
			"hostname",
			"pci",
			"dev",
		})

	metricTunnelEndpoints = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "tunnel_endpoints",
			Help:      "the number of tunnel endpoint addresses programmed.",
		},
		[]string{
			"hostname",
			"pci",
		})

	metricChannelStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "cmsg_channel_up",
			Help:      "the status of the control message channel.",
		},
		[]string{
			"hostname",
			"pci",
		})
)

func registerAgentMetrics() {
	prometheus.MustRegister(metricPortOffload)
	prometheus.MustRegister(metricTunnelEndpoints)
	prometheus.MustRegister(metricChannelStatus)
}
