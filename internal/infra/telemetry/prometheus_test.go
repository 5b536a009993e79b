package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
	assert.NotNil(t, m.upstreamCalls)
	assert.NotNil(t, m.consecutiveFailures)
	assert.NotNil(t, m.connected)
}

func TestNewPrometheusMetricsUsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveUpstreamCall("svc-a", true)
	m.ObserveUpstreamCall("svc-a", false)
	m.SetHealthGauge("svc-a", 2, false)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, fam := range metrics {
		names = append(names, fam.GetName())
	}

	assert.Contains(t, names, "gatewayd_upstream_calls_total")
	assert.Contains(t, names, "gatewayd_upstream_consecutive_failures")
	assert.Contains(t, names, "gatewayd_upstream_connected")
}

func TestNewPrometheusMetricsDefaultsToDefaultRegisterer(t *testing.T) {
	m := NewPrometheusMetrics(nil)
	assert.NotNil(t, m)
}

func TestNoopMetricsSatisfiesInterfaceWithoutPanicking(t *testing.T) {
	m := NewNoopMetrics()
	m.ObserveUpstreamCall("svc-a", true)
	m.SetHealthGauge("svc-a", 1, true)
}
