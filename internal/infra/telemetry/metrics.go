package telemetry

import "github.com/VenkatGGG/ThinMCP/internal/domain"

// NoopMetrics discards every observation. Used when no metrics exporter
// is configured.
type NoopMetrics struct{}

func NewNoopMetrics() NoopMetrics { return NoopMetrics{} }

func (NoopMetrics) ObserveUpstreamCall(_ string, _ bool)     {}
func (NoopMetrics) SetHealthGauge(_ string, _ int64, _ bool) {}

var _ domain.Metrics = NoopMetrics{}
