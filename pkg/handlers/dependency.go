package handlers

import (
	"context"
	"fmt"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/depgraph"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

type dependencyPayload struct {
	Source       string            `json:"source"`
	Target       string            `json:"target"`
	Type         string            `json:"dependencyType"`
	Calls        int64             `json:"calls"`
	Successes    int64             `json:"successes"`
	Failures     int64             `json:"failures"`
	LatencyMS    float64           `json:"latencyMs"`
	CircuitState string            `json:"circuitState"`
	ImpactLevel  string            `json:"impactLevel"`
	Criticality  float64           `json:"criticality"`
	Isolated     *bool             `json:"isolated"`
	Metadata     map[string]string `json:"metadata"`
	Detail       string            `json:"detail"`
}

// Dependency handles the service_dependency family: it owns all writes to
// the dependency graph and the cascade analysis.
type Dependency struct {
	*Deps
}

func NewDependency(deps *Deps) *Dependency {
	return &Dependency{Deps: deps}
}

func (h *Dependency) Family() telemetry.Family {
	return telemetry.FamilyServiceDependency
}

func (h *Dependency) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}
	p, err := telemetry.ParsePayload[dependencyPayload](evt)
	if err != nil {
		return runtime.Permanent(err)
	}
	source := p.Source
	if source == "" {
		source = evt.EntityID
	}

	switch evt.Type {
	case telemetry.TypeDependencyData, telemetry.TypeDependencyHealth:
		if p.Target == "" {
			return runtime.Permanent(fmt.Errorf("%w: %s requires target", telemetry.ErrValidation, evt.Type))
		}
		stats := depgraph.CallStats{
			Calls: p.Calls, Successes: p.Successes, Failures: p.Failures, LatencyMS: p.LatencyMS,
		}
		if err := h.Graph.Observe(source, p.Target, p.Type, stats, depgraph.CircuitState(p.CircuitState), evt.Timestamp); err != nil {
			return runtime.Permanent(err)
		}
		return h.persist(ctx, scope, evt, "dependency_calls", float64(p.Calls), "", depMeta(source, p.Target))

	case telemetry.TypeDependencyFailure:
		// The failed service's own downstream edges are the ones a cascade
		// travels; mark them failed before computing the risk set.
		for _, target := range h.Graph.Downstream(source) {
			h.Graph.RecordCall(source, target, false, p.LatencyMS, evt.Timestamp)
		}
		affected := h.Graph.CascadeRisk(source)
		if len(affected) > 0 {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicCascadingFailureRisks, Type: "CASCADING_FAILURE",
				EntityID: source, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"affected": affected, "impactLevel": p.ImpactLevel},
			})
			if h.Alerts != nil {
				h.Alerts.Raise(ctx, "CASCADING_FAILURE", source, alerting.SeverityHigh,
					fmt.Sprintf("failure of %s risks cascading to %v", source, affected),
					evt.CorrelationID, map[string]string{"impact_level": p.ImpactLevel})
			}
		}
		return h.persist(ctx, scope, evt, "dependency_failure", float64(len(affected)), p.ImpactLevel, nil)

	case telemetry.TypeServiceMap, telemetry.TypeDiscovery:
		h.Graph.UpdateService(source, p.Criticality, p.Metadata, evt.Timestamp)
		if p.Target != "" {
			if err := h.Graph.Observe(source, p.Target, p.Type, depgraph.CallStats{}, "", evt.Timestamp); err != nil {
				return runtime.Permanent(err)
			}
		}
		return h.persist(ctx, scope, evt, "service_map", p.Criticality, "", nil)

	case telemetry.TypeCircuitBreaker:
		if p.Target == "" {
			return runtime.Permanent(fmt.Errorf("%w: CIRCUIT_BREAKER requires target", telemetry.ErrValidation))
		}
		state := depgraph.CircuitState(p.CircuitState)
		h.Graph.SetBreaker(source, p.Target, state, evt.Timestamp)
		if state == depgraph.CircuitOpen {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicCircuitBreakerActivation, Type: "CIRCUIT_BREAKER_OPEN",
				EntityID: source, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"target": p.Target},
			})
		}
		return h.persist(ctx, scope, evt, "circuit_breaker", 0, p.CircuitState, depMeta(source, p.Target))

	case telemetry.TypeTimeout:
		if p.Target != "" {
			h.Graph.RecordCall(source, p.Target, false, p.LatencyMS, evt.Timestamp)
		}
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicAPITimeouts, Type: "DEPENDENCY_TIMEOUT",
			EntityID: source, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"target": p.Target, "latencyMs": p.LatencyMS},
		})
		return h.persist(ctx, scope, evt, "dependency_timeout_ms", p.LatencyMS, "", depMeta(source, p.Target))

	case telemetry.TypeRetry:
		h.Windows.Append(source, "dependency_retries", evt.Timestamp, 1)
		return h.persist(ctx, scope, evt, "dependency_retries", 1, "", depMeta(source, p.Target))

	case telemetry.TypeRecovery:
		if p.Target != "" {
			h.Graph.RecordCall(source, p.Target, true, p.LatencyMS, evt.Timestamp)
			h.Graph.SetBreaker(source, p.Target, depgraph.CircuitClosed, evt.Timestamp)
		}
		if h.Alerts != nil {
			h.Alerts.Resolve(ctx, "CASCADING_FAILURE", source,
				fmt.Sprintf("%s recovered", source))
		}
		return h.persist(ctx, scope, evt, "dependency_recovery", 0, "", depMeta(source, p.Target))

	case telemetry.TypeCascadeFailure:
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "CASCADE_FAILURE", source, alerting.SeverityCritical,
				fmt.Sprintf("cascade failure reported at %s", source),
				evt.CorrelationID, nil)
		}
		return h.persist(ctx, scope, evt, "cascade_failure", 0, p.ImpactLevel, nil)

	case telemetry.TypeIsolation:
		isolated := p.Isolated == nil || *p.Isolated
		h.Graph.SetIsolated(source, isolated, evt.Timestamp)
		return h.persist(ctx, scope, evt, "isolation", boolToFloat(isolated), "", nil)

	case telemetry.TypeCriticalPath:
		if path, ok := h.Graph.CriticalPath(source); ok {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicDependencyAlerts, Type: "CRITICAL_PATH",
				EntityID: source, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{
					"path":       path.Vertices,
					"risk":       path.Risk,
					"bottleneck": path.Bottleneck,
				},
			})
		}
		return h.persist(ctx, scope, evt, "critical_path", 0, "", nil)

	case telemetry.TypeDependencyAlert:
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "DEPENDENCY_ALERT", source, alerting.SeverityWarning,
				fmt.Sprintf("dependency alert for %s: %s", source, p.Detail),
				evt.CorrelationID, nil)
		}
		return h.persist(ctx, scope, evt, "dependency_alert", 0, "", nil)

	case telemetry.TypeOptimization:
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicOptimizations, Type: "DEPENDENCY_OPTIMIZATION",
			EntityID: source, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"detail": p.Detail},
		})
		return h.persist(ctx, scope, evt, "dependency_optimization", 0, "", nil)
	}
	return nil
}

func depMeta(source, target string) map[string]any {
	if target == "" {
		return nil
	}
	return map[string]any{"source": source, "target": target}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
