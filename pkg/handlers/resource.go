package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
	"github.com/sentinelops/telemetry-engine/pkg/threshold"
)

type resourcePayload struct {
	Resource    string  `json:"resource"`
	Utilization float64 `json:"utilizationPercent"`
	Host        string  `json:"host"`
	Container   string  `json:"container"`
	Detail      string  `json:"detail"`
}

// Resource handles the resource_utilization family.
type Resource struct {
	*Deps
}

func NewResource(deps *Deps) *Resource {
	return &Resource{Deps: deps}
}

func (h *Resource) Family() telemetry.Family {
	return telemetry.FamilyResourceUtilization
}

// EnsureThresholds installs the configured per-resource bounds for an
// entity on first sight.
func (h *Resource) ensureThresholds(entity string) {
	install := func(metric string, warn, crit float64) {
		if warn <= 0 || crit <= 0 {
			return
		}
		h.Thresholds.SetThresholds(entity, metric, threshold.Thresholds{
			Warning: warn, Critical: crit, Direction: threshold.Upper,
		})
	}
	install("resource_cpu", h.Resources.CPUWarning, h.Resources.CPUCritical)
	install("resource_memory", h.Resources.MemoryWarning, h.Resources.MemoryCritical)
	install("resource_disk", h.Resources.DiskWarning, h.Resources.DiskCritical)
}

func (h *Resource) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}
	p, err := telemetry.ParsePayload[resourcePayload](evt)
	if err != nil {
		return runtime.Permanent(err)
	}

	entity := evt.EntityID
	resource := p.Resource
	if resource == "" {
		resource = strings.ToLower(evt.Type)
	}
	metric := "resource_" + strings.ToLower(resource)

	switch evt.Type {
	case telemetry.TypeResourceData, telemetry.TypeCPU, telemetry.TypeMemory,
		telemetry.TypeDisk, telemetry.TypeNetwork:
		h.ensureThresholds(entity)
		h.Windows.Append(entity, metric, evt.Timestamp, p.Utilization)
		h.Baselines.Observe(entity, metric, evt.Timestamp, p.Utilization)
		h.applyThreshold(ctx, evt, entity, metric, p.Utilization)

		if metric == "resource_disk" && h.Thresholds.Level(entity, metric) == threshold.LevelCritical {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicDiskHealthChecks, Type: "DISK_HEALTH_CHECK",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"utilizationPercent": p.Utilization, "host": p.Host},
			})
		}
		if metric == "resource_network" && h.Thresholds.Level(entity, metric) == threshold.LevelCritical {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicNetworkChecks, Type: "NETWORK_CONNECTIVITY_CHECK",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"utilizationPercent": p.Utilization, "host": p.Host},
			})
		}

	case telemetry.TypeContainerResource:
		containerMetric := metric
		if p.Container != "" {
			containerMetric = fmt.Sprintf("%s:%s", metric, p.Container)
		}
		h.Windows.Append(entity, containerMetric, evt.Timestamp, p.Utilization)

	case telemetry.TypeHighUsage:
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "HIGH_RESOURCE_USAGE", entity, alerting.SeverityWarning,
				fmt.Sprintf("high %s usage on %s: %.1f%%", resource, entity, p.Utilization),
				evt.CorrelationID, nil)
		}
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicResourceScaling, Type: "SCALE_RESOURCE",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"resource": resource, "utilizationPercent": p.Utilization},
		})

	case telemetry.TypeLowUsage:
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicOptimizations, Type: "DOWNSCALE_CANDIDATE",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"resource": resource, "utilizationPercent": p.Utilization},
		})

	case telemetry.TypeResourceExhaustion:
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "RESOURCE_EXHAUSTION", entity, alerting.SeverityCritical,
				fmt.Sprintf("%s exhausted on %s", resource, entity),
				evt.CorrelationID, nil)
		}
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicAutoScalingTriggers, Type: "SCALE_UP",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"resource": resource, "utilizationPercent": p.Utilization},
		})

	case telemetry.TypeResourceRecovery:
		if h.Alerts != nil {
			h.Alerts.Resolve(ctx, "RESOURCE_EXHAUSTION", entity,
				fmt.Sprintf("%s recovered on %s", resource, entity))
			h.Alerts.Resolve(ctx, "HIGH_RESOURCE_USAGE", entity, "")
		}

	case telemetry.TypeBottleneck:
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicBottleneckAlerts, Type: "BOTTLENECK_DETECTED",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"resource": resource, "detail": p.Detail},
		})

	case telemetry.TypeResourceTrend:
		if slope, ok := h.Windows.Slope(entity, metric); ok && slope > 0 {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicResourceAlerts, Type: "RISING_RESOURCE_TREND",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"resource": resource, "slope": slope},
			})
		}

	case telemetry.TypeResourceAlert:
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "RESOURCE_ALERT", entity, alerting.SeverityWarning,
				fmt.Sprintf("resource alert for %s on %s: %s", resource, entity, p.Detail),
				evt.CorrelationID, nil)
		}

	case telemetry.TypeOptimization:
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicOptimizations, Type: "RESOURCE_OPTIMIZATION",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"resource": resource, "detail": p.Detail},
		})
	}

	return h.persist(ctx, scope, evt, metric, p.Utilization, "", meta("host", p.Host))
}
