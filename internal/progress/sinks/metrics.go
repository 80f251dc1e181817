package sinks

import (
	"context"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
	"github.com/lexatlas/acquisition-pipeline/internal/telemetry"
)

// MetricsSink forwards batched progress events into the package-level
// Prometheus collectors in internal/telemetry. Centralizing metric updates
// here, rather than calling telemetry.Observe* from every actor, keeps a
// single place that turns the progress stream into counters and gauges.
type MetricsSink struct{}

// NewMetricsSink constructs a MetricsSink. It owns no state of its own; all
// collectors live in internal/telemetry and are registered at package init.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

// Consume updates the telemetry collectors for each event in the batch.
func (s *MetricsSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *MetricsSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageDocumentPersisted:
		telemetry.ObserveDocument(evt.SourceID, "persisted")
	case progress.StagePersistFailed:
		telemetry.ObserveDocument(evt.SourceID, "persist_failed")
	case progress.StageItemError:
		telemetry.ObserveDocument(evt.SourceID, "item_error")
	case progress.StageDiscoveryFailed:
		telemetry.ObserveDocument(evt.SourceID, "discovery_failed")
	case progress.StageCheckpointSaved:
		telemetry.ObserveCheckpoint(evt.SourceID)
	case progress.StageStateChanged:
		if evt.State == pipeline.StateCompleted || evt.State == pipeline.StateFailed {
			telemetry.ObserveJobTerminal(string(evt.State))
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *MetricsSink) Close(context.Context) error {
	return nil
}
