package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

// PrometheusMetrics exports Upstream Manager health and call outcomes
// via promauto-registered collectors.
type PrometheusMetrics struct {
	upstreamCalls       *prometheus.CounterVec
	consecutiveFailures *prometheus.GaugeVec
	connected           *prometheus.GaugeVec
}

// NewPrometheusMetrics registers its collectors against registerer,
// defaulting to prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		upstreamCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewayd_upstream_calls_total",
				Help: "Total number of tool calls forwarded to an upstream server",
			},
			[]string{"server_id", "status"},
		),
		consecutiveFailures: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatewayd_upstream_consecutive_failures",
				Help: "Current consecutive connect/call failure count per upstream server",
			},
			[]string{"server_id"},
		),
		connected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatewayd_upstream_connected",
				Help: "1 if the gateway currently holds a live connection to the upstream server",
			},
			[]string{"server_id"},
		),
	}
}

func (p *PrometheusMetrics) ObserveUpstreamCall(serverID string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	p.upstreamCalls.WithLabelValues(serverID, status).Inc()
}

func (p *PrometheusMetrics) SetHealthGauge(serverID string, consecutiveFailures int64, connected bool) {
	p.consecutiveFailures.WithLabelValues(serverID).Set(float64(consecutiveFailures))
	value := 0.0
	if connected {
		value = 1.0
	}
	p.connected.WithLabelValues(serverID).Set(value)
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
