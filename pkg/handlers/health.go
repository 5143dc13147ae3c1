package handlers

import (
	"context"
	"fmt"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

type healthPayload struct {
	Component string `json:"component"`
	Reason    string `json:"reason"`
}

// Health handles the three status-shaped families (system health, component
// health, service availability): the event type is the reported status.
type Health struct {
	*Deps
	family telemetry.Family
}

func NewHealth(deps *Deps, family telemetry.Family) *Health {
	return &Health{Deps: deps, family: family}
}

func (h *Health) Family() telemetry.Family {
	return h.family
}

func (h *Health) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}

	// The payload is optional on health events; a bare status is valid.
	var p healthPayload
	if len(evt.Payload) > 0 {
		parsed, err := telemetry.ParsePayload[healthPayload](evt)
		if err != nil {
			return runtime.Permanent(err)
		}
		p = parsed
	}

	entity := evt.EntityID
	if p.Component != "" {
		entity = fmt.Sprintf("%s/%s", evt.EntityID, p.Component)
	}
	alertType := "HEALTH_" + string(h.family)

	h.Graph.UpdateService(evt.EntityID, 0, map[string]string{"health": evt.Type}, evt.Timestamp)

	switch evt.Type {
	case telemetry.TypeHealthy, telemetry.TypeRecovering:
		if h.Alerts != nil {
			h.Alerts.Resolve(ctx, alertType, entity,
				fmt.Sprintf("%s reported %s", entity, evt.Type))
		}

	case telemetry.TypeDegraded:
		h.raiseStatus(ctx, alertType, entity, alerting.SeverityWarning, evt, p.Reason)

	case telemetry.TypeUnhealthy:
		h.raiseStatus(ctx, alertType, entity, alerting.SeverityHigh, evt, p.Reason)

	case telemetry.TypeCritical:
		h.raiseStatus(ctx, alertType, entity, alerting.SeverityCritical, evt, p.Reason)
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicRootCauseAnalysis, Type: "ANALYZE_CRITICAL_HEALTH",
			EntityID: evt.EntityID, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"component": p.Component, "reason": p.Reason},
		})

	case telemetry.TypeMaintenance:
		h.raiseStatus(ctx, alertType, entity, alerting.SeverityInfo, evt, p.Reason)

	case telemetry.TypeUnknown:
		h.raiseStatus(ctx, alertType, entity, alerting.SeverityWarning, evt, p.Reason)
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicIntegrationMonitoring, Type: "HEALTH_SIGNAL_LOST",
			EntityID: evt.EntityID, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"component": p.Component},
		})
	}

	return h.persist(ctx, scope, evt, "health_status", statusScore(evt.Type), evt.Type, meta("component", p.Component))
}

func (h *Health) raiseStatus(ctx context.Context, alertType, entity string, sev alerting.Severity, evt *telemetry.Event, reason string) {
	if h.Alerts == nil {
		return
	}
	msg := fmt.Sprintf("%s reported %s", entity, evt.Type)
	if reason != "" {
		msg += ": " + reason
	}
	h.Alerts.Raise(ctx, alertType, entity, sev, msg, evt.CorrelationID, nil)
}

// statusScore maps a status to a numeric value so health history is
// queryable as a metric stream (1 healthy .. 0 critical).
func statusScore(status string) float64 {
	switch status {
	case telemetry.TypeHealthy:
		return 1.0
	case telemetry.TypeRecovering:
		return 0.75
	case telemetry.TypeMaintenance, telemetry.TypeUnknown, telemetry.TypeDegraded:
		return 0.5
	case telemetry.TypeUnhealthy:
		return 0.25
	default:
		return 0
	}
}
