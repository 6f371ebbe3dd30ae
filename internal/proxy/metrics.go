package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "http2socks"

// Tunnel results.
const (
	resultClosed    = "closed"
	resultError     = "error"
	resultDialError = "dial_error"
	resultRejected  = "rejected"
)

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	Requests      *prometheus.CounterVec
	TunnelsActive prometheus.Gauge
	Tunnels       *prometheus.CounterVec
	TunnelBytes   *prometheus.CounterVec
	Forwards      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Inbound proxy requests by route.",
		}, []string{"route"}),
		TunnelsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tunnels_active",
			Help:      "CONNECT tunnels currently open.",
		}),
		Tunnels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tunnels_total",
			Help:      "Finished CONNECT tunnels by result.",
		}, []string{"result"}),
		TunnelBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tunnel_bytes_total",
			Help:      "Bytes relayed through CONNECT tunnels by direction.",
		}, []string{"direction"}),
		Forwards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "forwards_total",
			Help:      "Forwarded GET/POST requests by response status code.",
		}, []string{"code"}),
	}
}
