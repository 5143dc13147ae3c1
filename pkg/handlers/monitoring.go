package handlers

import (
	"context"

	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

const (
	cpuScalingFloor     = 90.0
	cpuSustainedSamples = 5
	memoryLeakFloor     = 95.0
)

type monitoringPayload struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Host  string  `json:"host"`
}

// Monitoring handles the performance_monitoring family: raw metric streams
// evaluated against thresholds and baselines.
type Monitoring struct {
	*Deps
}

func NewMonitoring(deps *Deps) *Monitoring {
	return &Monitoring{Deps: deps}
}

func (h *Monitoring) Family() telemetry.Family {
	return telemetry.FamilyPerformanceMonitoring
}

func (h *Monitoring) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}
	p, err := telemetry.ParsePayload[monitoringPayload](evt)
	if err != nil {
		return runtime.Permanent(err)
	}

	metric := evt.Type
	entity := evt.EntityID

	h.Windows.Append(entity, metric, evt.Timestamp, p.Value)
	h.applyThreshold(ctx, evt, entity, metric, p.Value)

	if res := h.Baselines.Observe(entity, metric, evt.Timestamp, p.Value); res.Anomalous {
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicPerformanceAlerts, Type: "METRIC_ANOMALY",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"metric": metric, "value": p.Value, "zScore": res.ZScore},
		})
	}

	switch metric {
	case telemetry.MetricCPUUtilization:
		// Sustained means the recent window average holds above the floor,
		// not a single spike.
		if stats, ok := h.Windows.Stats(entity, metric); ok &&
			stats.Count >= cpuSustainedSamples && stats.Mean > cpuScalingFloor {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicCPUScaling, Type: "CPU_SCALE_UP",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"meanUtilization": stats.Mean, "samples": stats.Count},
			})
		}
	case telemetry.MetricMemoryUtilization:
		if p.Value > memoryLeakFloor {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicMemoryLeakDetection, Type: "MEMORY_LEAK_SCAN",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"utilizationPercent": p.Value, "host": p.Host},
			})
		}
	case telemetry.MetricQueueLength:
		if transitionLevel := h.Thresholds.Level(entity, metric); transitionLevel > 0 {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicQueueOptimization, Type: "QUEUE_PRESSURE",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"queueLength": p.Value},
			})
		}
	case telemetry.MetricDatabaseConnections:
		if transitionLevel := h.Thresholds.Level(entity, metric); transitionLevel > 0 {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicConnectionPool, Type: "POOL_PRESSURE",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"connections": p.Value},
			})
		}
	}

	return h.persist(ctx, scope, evt, metric, p.Value, "", meta("host", p.Host))
}
