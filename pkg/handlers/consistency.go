package handlers

import (
	"context"
	"fmt"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

type consistencyPayload struct {
	Dataset     string `json:"dataset"`
	SourceSys   string `json:"sourceSystem"`
	TargetSys   string `json:"targetSystem"`
	RecordCount int64  `json:"recordCount"`
	Detail      string `json:"detail"`
}

// Consistency handles the consistency family: data quality incidents across
// systems.
type Consistency struct {
	*Deps
}

func NewConsistency(deps *Deps) *Consistency {
	return &Consistency{Deps: deps}
}

func (h *Consistency) Family() telemetry.Family {
	return telemetry.FamilyConsistency
}

// consistencySeverity escalates structural violations over content drift.
func consistencySeverity(eventType string) alerting.Severity {
	switch eventType {
	case telemetry.TypeReferentialIntegrityViolation, telemetry.TypeChecksumMismatch,
		telemetry.TypeCrossSystemInconsistency:
		return alerting.SeverityHigh
	default:
		return alerting.SeverityWarning
	}
}

func (h *Consistency) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}
	var p consistencyPayload
	if len(evt.Payload) > 0 {
		parsed, err := telemetry.ParsePayload[consistencyPayload](evt)
		if err != nil {
			return runtime.Permanent(err)
		}
		p = parsed
	}
	entity := evt.EntityID
	if p.Dataset != "" {
		entity = p.Dataset
	}

	if evt.Type == telemetry.TypeConsistencyRestored {
		if h.Alerts != nil {
			h.Alerts.Resolve(ctx, "CONSISTENCY_INCIDENT", entity,
				fmt.Sprintf("consistency restored for %s", entity))
		}
		return h.persist(ctx, scope, evt, "consistency_incident", 0, "RESTORED", nil)
	}

	if h.Alerts != nil {
		h.Alerts.Raise(ctx, "CONSISTENCY_INCIDENT", entity, consistencySeverity(evt.Type),
			fmt.Sprintf("%s on %s: %s", evt.Type, entity, p.Detail),
			evt.CorrelationID, map[string]string{"incident": evt.Type})
	}

	scope.Outbox.Stage(emitter.Derived{
		Topic: emitter.TopicDataQuality, Type: evt.Type,
		EntityID: entity, CorrelationID: evt.CorrelationID,
		Payload: map[string]any{"recordCount": p.RecordCount, "detail": p.Detail},
	})
	if evt.Type == telemetry.TypeCrossSystemInconsistency {
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicIntegrationMonitoring, Type: "CROSS_SYSTEM_INCONSISTENCY",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"sourceSystem": p.SourceSys, "targetSystem": p.TargetSys},
		})
	}

	return h.persist(ctx, scope, evt, "consistency_incident", float64(p.RecordCount), "OPEN", meta("detail", p.Detail))
}
