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

const (
	slowQueryMS    = 1000
	slowAPICallMS  = 5000
	tripFailureRun = 5
	slaMinSamples  = 10

	cacheHitRatioFloor   = 0.5
	cacheHitRatioSamples = 100
)

type perfPayload struct {
	ServiceName string  `json:"serviceName"`
	Endpoint    string  `json:"endpoint"`
	Operation   string  `json:"operation"`
	DurationMS  float64 `json:"durationMs"`
	Success     *bool   `json:"success"`
	Hit         *bool   `json:"hit"`
	Timeout     bool    `json:"timeout"`
	QueueDepth  float64 `json:"queueDepth"`
	LagMS       float64 `json:"lagMs"`
	Throughput  float64 `json:"throughput"`
	Utilization float64 `json:"utilizationPercent"`
	Resource    string  `json:"resource"`
}

// Performance handles the performance_metrics family: request timing, SLA
// checks, dependency call outcomes and the derived tuning emissions.
type Performance struct {
	*Deps
}

func NewPerformance(deps *Deps) *Performance {
	return &Performance{Deps: deps}
}

func (h *Performance) Family() telemetry.Family {
	return telemetry.FamilyPerformanceMetrics
}

func (h *Performance) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}
	p, err := telemetry.ParsePayload[perfPayload](evt)
	if err != nil {
		return runtime.Permanent(err)
	}
	service := p.ServiceName
	if service == "" {
		service = evt.EntityID
	}

	switch evt.Type {
	case telemetry.TypeRequestStarted:
		// No completion may ever arrive; the row stays IN_PROGRESS.
		return h.persist(ctx, scope, evt, "request", 0, "IN_PROGRESS", meta("endpoint", p.Endpoint))

	case telemetry.TypeRequestCompleted:
		h.Windows.Append(service, "request_duration_ms", evt.Timestamp, p.DurationMS)
		h.Baselines.Observe(service, "request_duration_ms", evt.Timestamp, p.DurationMS)
		if p.Endpoint != "" {
			h.Graph.RecordCall(service, p.Endpoint, true, p.DurationMS, evt.Timestamp)
		}
		if p.DurationMS > h.SLA.ResponseTimeMS {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicSLAViolations, Type: "SLA_VIOLATION",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{
					"metric":    "responseTimeMs",
					"observed":  p.DurationMS,
					"threshold": h.SLA.ResponseTimeMS,
					"endpoint":  p.Endpoint,
				},
			})
		}
		h.checkServiceSLA(scope, evt, service)
		return h.persist(ctx, scope, evt, "request_duration_ms", p.DurationMS, "COMPLETED", meta("endpoint", p.Endpoint))

	case telemetry.TypeRequestFailed:
		if p.Endpoint != "" {
			streak := h.Graph.RecordCall(service, p.Endpoint, false, p.DurationMS, evt.Timestamp)
			if streak == tripFailureRun {
				scope.Outbox.Stage(emitter.Derived{
					Topic: emitter.TopicAPICircuitBreaker, Type: "TRIP_CIRCUIT_BREAKER",
					EntityID: service, CorrelationID: evt.CorrelationID,
					Payload: map[string]any{
						"endpoint":            p.Endpoint,
						"consecutiveFailures": streak,
					},
				})
				h.Graph.SetBreaker(service, p.Endpoint, depgraph.CircuitOpen, evt.Timestamp)
			}
		}
		h.Windows.Append(service, "request_errors", evt.Timestamp, 1)
		h.checkServiceSLA(scope, evt, service)
		return h.persist(ctx, scope, evt, "request_duration_ms", p.DurationMS, "FAILED", meta("endpoint", p.Endpoint))

	case telemetry.TypeDatabaseQuery:
		h.Windows.Append(service, "db_query_ms", evt.Timestamp, p.DurationMS)
		if p.DurationMS > slowQueryMS {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicSlowQueryAlerts, Type: "SLOW_QUERY",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"operation": p.Operation, "durationMs": p.DurationMS},
			})
		}
		return h.persist(ctx, scope, evt, "db_query_ms", p.DurationMS, "", meta("operation", p.Operation))

	case telemetry.TypeCacheOperation:
		hit := 0.0
		if p.Hit != nil && *p.Hit {
			hit = 1.0
		}
		h.Windows.Append(service, "cache_hit_ratio", evt.Timestamp, hit)
		if stats, ok := h.Windows.Stats(service, "cache_hit_ratio"); ok &&
			stats.Count >= cacheHitRatioSamples && stats.Mean < cacheHitRatioFloor {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicCacheAlerts, Type: "LOW_HIT_RATIO",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"hitRatio": stats.Mean, "samples": stats.Count},
			})
		}
		return h.persist(ctx, scope, evt, "cache_hit", hit, "", meta("operation", p.Operation))

	case telemetry.TypeExternalAPICall:
		h.Windows.Append(service, "external_api_ms", evt.Timestamp, p.DurationMS)
		if p.Timeout {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicAPITimeouts, Type: "API_TIMEOUT",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"endpoint": p.Endpoint, "durationMs": p.DurationMS},
			})
		} else if p.DurationMS > slowAPICallMS {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicPerformanceAlerts, Type: "SLOW_EXTERNAL_API",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"endpoint": p.Endpoint, "durationMs": p.DurationMS},
			})
		}
		return h.persist(ctx, scope, evt, "external_api_ms", p.DurationMS, "", meta("endpoint", p.Endpoint))

	case telemetry.TypeMessageProcessing:
		h.Windows.Append(service, "message_lag_ms", evt.Timestamp, p.LagMS)
		if p.QueueDepth > 0 && p.LagMS > h.SLA.ResponseTimeMS {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicQueueLagAlerts, Type: "QUEUE_LAG",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"lagMs": p.LagMS, "queueDepth": p.QueueDepth},
			})
		}
		return h.persist(ctx, scope, evt, "message_lag_ms", p.LagMS, "", nil)

	case telemetry.TypeBatchJobExecution:
		status := "COMPLETED"
		if p.Success != nil && !*p.Success {
			status = "FAILED"
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicBatchJobAlerts, Type: "BATCH_JOB_FAILED",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"operation": p.Operation, "durationMs": p.DurationMS},
			})
		}
		return h.persist(ctx, scope, evt, "batch_job_ms", p.DurationMS, status, meta("operation", p.Operation))

	case telemetry.TypeTransactionTiming:
		h.Windows.Append(service, "transaction_ms", evt.Timestamp, p.DurationMS)
		if p.DurationMS > h.SLA.ResponseTimeMS {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicTransactionOptimization, Type: "SLOW_TRANSACTION",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"operation": p.Operation, "durationMs": p.DurationMS},
			})
		}
		return h.persist(ctx, scope, evt, "transaction_ms", p.DurationMS, "", nil)

	case telemetry.TypeServiceDependency:
		if p.Endpoint == "" {
			return runtime.Permanent(fmt.Errorf("%w: SERVICE_DEPENDENCY requires endpoint", telemetry.ErrValidation))
		}
		ok := p.Success == nil || *p.Success
		h.Graph.RecordCall(service, p.Endpoint, ok, p.DurationMS, evt.Timestamp)
		return h.persist(ctx, scope, evt, "dependency_call_ms", p.DurationMS, "", meta("target", p.Endpoint))

	case telemetry.TypeResourceUsage:
		metric := "resource_" + p.Resource
		h.Windows.Append(service, metric, evt.Timestamp, p.Utilization)
		return h.persist(ctx, scope, evt, metric, p.Utilization, "", nil)

	case telemetry.TypeThroughputMeasurement:
		h.Windows.Append(service, "throughput", evt.Timestamp, p.Throughput)
		if res := h.Baselines.Observe(service, "throughput", evt.Timestamp, p.Throughput); res.Anomalous {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicThroughputAlerts, Type: "THROUGHPUT_ANOMALY",
				EntityID: service, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"throughput": p.Throughput, "zScore": res.ZScore},
			})
		}
		return h.persist(ctx, scope, evt, "throughput", p.Throughput, "", nil)

	case telemetry.TypeLatencySpike:
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "LATENCY_SPIKE", service, alerting.SeverityHigh,
				fmt.Sprintf("latency spike on %s: %.0fms", service, p.DurationMS),
				evt.CorrelationID, nil)
		}
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicPerformanceAlerts, Type: "LATENCY_SPIKE",
			EntityID: service, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"durationMs": p.DurationMS},
		})
		return h.persist(ctx, scope, evt, "latency_spike_ms", p.DurationMS, "", nil)

	case telemetry.TypePerformanceDegradation:
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "PERFORMANCE_DEGRADATION", service, alerting.SeverityHigh,
				fmt.Sprintf("performance degradation reported for %s", service),
				evt.CorrelationID, nil)
		}
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicRootCauseAnalysis, Type: "ANALYZE_DEGRADATION",
			EntityID: service, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"operation": p.Operation},
		})
		return h.persist(ctx, scope, evt, "degradation", p.DurationMS, "", nil)

	case telemetry.TypeCapacityWarning:
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "CAPACITY_WARNING", service, alerting.SeverityWarning,
				fmt.Sprintf("capacity warning for %s at %.1f%%", service, p.Utilization),
				evt.CorrelationID, nil)
		}
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicCapacityAlerts, Type: "CAPACITY_WARNING",
			EntityID: service, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"utilizationPercent": p.Utilization},
		})
		return h.persist(ctx, scope, evt, "capacity_utilization", p.Utilization, "", nil)
	}
	return nil
}

// checkServiceSLA grades the service's rolling availability and error rate
// against the configured bounds and stages a violation per breached bound.
// Rates come from the request outcome windows; the sample floor keeps a
// fresh window from reading a single failure as an outage.
func (h *Performance) checkServiceSLA(scope *runtime.Scope, evt *telemetry.Event, service string) {
	completed, _ := h.Windows.Stats(service, "request_duration_ms")
	failed, _ := h.Windows.Stats(service, "request_errors")
	total := completed.Count + failed.Count
	if total < slaMinSamples {
		return
	}

	errorRate := float64(failed.Count) / float64(total) * 100
	if errorRate > h.SLA.ErrorRatePercent {
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicSLAViolations, Type: "SLA_VIOLATION",
			EntityID: service, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{
				"metric":    "errorRatePercent",
				"observed":  errorRate,
				"threshold": h.SLA.ErrorRatePercent,
				"samples":   total,
			},
		})
	}
	if availability := 100 - errorRate; availability < h.SLA.AvailabilityPercent {
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicSLAViolations, Type: "SLA_VIOLATION",
			EntityID: service, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{
				"metric":    "availabilityPercent",
				"observed":  availability,
				"threshold": h.SLA.AvailabilityPercent,
				"samples":   total,
			},
		})
	}
}

func meta(key, value string) map[string]any {
	if value == "" {
		return nil
	}
	return map[string]any{key: value}
}
