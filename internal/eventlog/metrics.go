package eventlog

import (
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/monitoring"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// MetricsSink counts every appended event in the Prometheus audit
// collectors.
type MetricsSink struct {
	metrics *monitoring.MetricsCollector
}

// NewMetricsSink creates a sink recording appends as metrics.
func NewMetricsSink(metrics *monitoring.MetricsCollector) *MetricsSink {
	return &MetricsSink{metrics: metrics}
}

// Archive implements Sink.
func (s *MetricsSink) Archive(event *types.AuditEvent) error {
	s.metrics.RecordAuditEvent(string(event.Type))
	return nil
}
