// Package handlers implements one consumer handler per event family. Every
// handler follows the same contract: validate, parse the family payload,
// update the analytical state, run the evaluators, persist the durable
// record and stage derived emissions on the transactional outbox.
package handlers

import (
	"context"
	"fmt"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/baseline"
	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/depgraph"
	"github.com/sentinelops/telemetry-engine/pkg/ml"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
	"github.com/sentinelops/telemetry-engine/pkg/threshold"
	"github.com/sentinelops/telemetry-engine/pkg/window"
)

// SLAConfig holds the service-level bounds the performance handler checks.
type SLAConfig struct {
	ResponseTimeMS      float64
	AvailabilityPercent float64
	ErrorRatePercent    float64
}

// ResourceThresholds holds the per-resource warning/critical bounds.
type ResourceThresholds struct {
	CPUWarning     float64
	CPUCritical    float64
	MemoryWarning  float64
	MemoryCritical float64
	DiskWarning    float64
	DiskCritical   float64
}

// Deps bundles the analytical state and collaborators shared by all family
// handlers.
type Deps struct {
	Windows    *window.Store
	Baselines  *baseline.Engine
	Thresholds *threshold.Evaluator
	Graph      *depgraph.Graph
	Alerts     *alerting.Manager
	Store      storage.Store
	Sessions   *SessionStore
	Models     ml.ModelRuntime
	Retrain    *ml.FlagSet
	Clock      clock.Clock
	O11y       observability.Observability

	SLA       SLAConfig
	Resources ResourceThresholds
}

// persist writes the narrow durable row for the event within the handler's
// transactional scope.
func (d *Deps) persist(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event, metric string, value float64, status string, metadata map[string]any) error {
	rec := storage.Record{
		EventKey:      evt.Key(),
		Family:        string(evt.Family),
		EventType:     evt.Type,
		EntityID:      evt.EntityID,
		CorrelationID: evt.CorrelationID,
		Timestamp:     evt.Timestamp,
		Metric:        metric,
		Value:         value,
		Status:        status,
		Metadata:      metadata,
	}
	if err := d.Store.SaveRecord(ctx, scope.DB, rec); err != nil {
		return fmt.Errorf("persist %s record: %w", evt.Type, err)
	}
	return nil
}

// unknownType is the generic path for event types outside the family schema:
// audit the record, raise a WARNING, acknowledge.
func (d *Deps) unknownType(ctx context.Context, evt *telemetry.Event) error {
	entry := storage.AuditEntry{
		Topic:     evt.Family.Topic(),
		Partition: evt.Partition,
		Offset:    evt.Offset,
		Reason:    "UNKNOWN_EVENT_TYPE",
		Error:     fmt.Sprintf("event type %q is not part of family %s", evt.Type, evt.Family),
		Payload:   evt.Payload,
		CreatedAt: d.Clock.Now(),
	}
	if err := d.Store.SaveAudit(ctx, entry); err != nil {
		return fmt.Errorf("audit unknown event type: %w", err)
	}
	if d.Alerts != nil {
		d.Alerts.Raise(ctx, "UNKNOWN_EVENT_TYPE", string(evt.Family), alerting.SeverityWarning,
			fmt.Sprintf("unknown event type %q on %s", evt.Type, evt.Family.Topic()),
			evt.CorrelationID, map[string]string{"event_type": evt.Type})
	}
	d.O11y.Metrics().IncCounter("unknown_event_types_total", "family", string(evt.Family))
	return nil
}

// severityFor maps an evaluator level to an alert severity.
func severityFor(level threshold.Level) alerting.Severity {
	switch level {
	case threshold.LevelCritical:
		return alerting.SeverityCritical
	case threshold.LevelWarning:
		return alerting.SeverityWarning
	default:
		return alerting.SeverityInfo
	}
}

// applyThreshold feeds a value through the evaluator and translates the
// transition, if any, into an alert manager call. The alert type is the
// metric name so an (entity, metric) pair has at most one active alert.
func (d *Deps) applyThreshold(ctx context.Context, evt *telemetry.Event, entity, metric string, value float64) {
	transition, changed := d.Thresholds.Evaluate(entity, metric, value)
	if !changed || d.Alerts == nil {
		return
	}
	if transition.Resolved() {
		d.Alerts.Resolve(ctx, metric, entity,
			fmt.Sprintf("%s back to normal at %.2f", metric, value))
		return
	}
	d.Alerts.Raise(ctx, metric, entity, severityFor(transition.To),
		fmt.Sprintf("%s at %.2f crossed the %s bound", metric, value, transition.To),
		evt.CorrelationID, nil)
}
