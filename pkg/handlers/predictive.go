package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/baseline"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

// ConfidenceThresholds gates which predictions become actions.
type ConfidenceThresholds struct {
	Default  float64
	Anomaly  float64
	Failure  float64
	Fraud    float64
	Churn    float64
	Capacity float64
}

// DefaultConfidence returns the standard gates.
func DefaultConfidence() ConfidenceThresholds {
	return ConfidenceThresholds{
		Default:  0.75,
		Anomaly:  0.80,
		Failure:  0.70,
		Fraud:    0.75,
		Churn:    0.60,
		Capacity: 0.85,
	}
}

// retrainAccuracyFloor flags a model for retraining.
const retrainAccuracyFloor = 0.80

type predictivePayload struct {
	Model              string  `json:"model"`
	Metric             string  `json:"metric"`
	Confidence         float64 `json:"confidence"`
	Probability        float64 `json:"probability"`
	PredictedValue     float64 `json:"predictedValue"`
	PredictedUtil      float64 `json:"predictedUtilization"`
	ExhaustionTime     string  `json:"exhaustionTime"`
	HorizonSeconds     int64   `json:"horizonSeconds"`
	Accuracy           float64 `json:"accuracy"`
	SeasonalStrength   float64 `json:"strength"`
	SeasonalAmplitude  float64 `json:"amplitude"`
	SeasonalPeriodSecs int64   `json:"periodSeconds"`
	Severity           string  `json:"severity"`
	Detail             string  `json:"detail"`
}

// Predictive handles the predictive_analytics family: model outputs become
// persisted predictions, alerts and control emissions when confident enough.
type Predictive struct {
	*Deps
	Confidence ConfidenceThresholds
}

func NewPredictive(deps *Deps, conf ConfidenceThresholds) *Predictive {
	return &Predictive{Deps: deps, Confidence: conf}
}

func (h *Predictive) Family() telemetry.Family {
	return telemetry.FamilyPredictiveAnalytics
}

func (h *Predictive) savePrediction(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event, p predictivePayload, domain string, value float64) error {
	pred := storage.Prediction{
		Domain:        domain,
		Model:         p.Model,
		Metric:        p.Metric,
		EntityID:      evt.EntityID,
		CorrelationID: evt.CorrelationID,
		Confidence:    p.Confidence,
		Horizon:       time.Duration(p.HorizonSeconds) * time.Second,
		Value:         value,
		MadeAt:        evt.Timestamp,
	}
	if err := h.Store.SavePrediction(ctx, scope.DB, pred); err != nil {
		return fmt.Errorf("save %s prediction: %w", domain, err)
	}
	return nil
}

func (h *Predictive) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}
	p, err := telemetry.ParsePayload[predictivePayload](evt)
	if err != nil {
		return runtime.Permanent(err)
	}
	entity := evt.EntityID

	switch evt.Type {
	case telemetry.TypeTimeSeriesPrediction, telemetry.TypeRevenueForecast,
		telemetry.TypeDemandForecast:
		if p.Confidence < h.Confidence.Default {
			return h.persist(ctx, scope, evt, "prediction_skipped", p.Confidence, "LOW_CONFIDENCE", nil)
		}
		return h.savePrediction(ctx, scope, evt, p, "forecast", p.PredictedValue)

	case telemetry.TypeAnomalyForecast:
		if p.Probability >= h.Confidence.Anomaly {
			if h.Alerts != nil {
				h.Alerts.Raise(ctx, "PREDICTED_ANOMALY", entity, alerting.SeverityWarning,
					fmt.Sprintf("anomaly predicted for %s on %s (p=%.2f)", entity, p.Metric, p.Probability),
					evt.CorrelationID, nil)
			}
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicPerformanceAlerts, Type: "PREDICTED_ANOMALY",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"metric": p.Metric, "probability": p.Probability},
			})
		}
		return h.savePrediction(ctx, scope, evt, p, "anomaly", p.Probability)

	case telemetry.TypeCapacityPrediction:
		if p.PredictedUtil >= h.Confidence.Capacity {
			exhaustion, parseErr := time.Parse(time.RFC3339, p.ExhaustionTime)
			within24h := parseErr == nil && exhaustion.Sub(h.Clock.Now()) < 24*time.Hour
			if within24h {
				days := int(exhaustion.Sub(h.Clock.Now()).Hours() / 24)
				if days < 0 {
					days = 0
				}
				if h.Alerts != nil {
					h.Alerts.Raise(ctx, "CAPACITY_EXHAUSTION", entity, alerting.SeverityHigh,
						fmt.Sprintf("capacity of %s predicted exhausted within %d days", entity, days),
						evt.CorrelationID, nil)
				}
				scope.Outbox.Stage(emitter.Derived{
					Topic: emitter.TopicAutoScalingTriggers, Type: "SCALE_UP",
					EntityID: entity, CorrelationID: evt.CorrelationID,
					Payload: map[string]any{
						"predictedUtilization": p.PredictedUtil,
						"daysUntilExhaustion":  days,
					},
				})
			}
		}
		return h.savePrediction(ctx, scope, evt, p, "capacity", p.PredictedUtil)

	case telemetry.TypeFailurePrediction:
		if p.Probability >= h.Confidence.Failure {
			if h.Alerts != nil {
				h.Alerts.Raise(ctx, "FAILURE_PREDICTED", entity, alerting.SeverityHigh,
					fmt.Sprintf("failure predicted for %s (p=%.2f)", entity, p.Probability),
					evt.CorrelationID, nil)
			}
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicErrorAnalysis, Type: "PREEMPTIVE_FAILURE_ANALYSIS",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"probability": p.Probability},
			})
		}
		return h.savePrediction(ctx, scope, evt, p, "failure", p.Probability)

	case telemetry.TypeUserBehaviorPrediction:
		if p.Probability >= h.Confidence.Churn {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicOptimizations, Type: "CHURN_RISK",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"probability": p.Probability},
			})
		}
		return h.savePrediction(ctx, scope, evt, p, "behavior", p.Probability)

	case telemetry.TypeFraudPrediction:
		if p.Probability >= h.Confidence.Fraud {
			if h.Alerts != nil {
				h.Alerts.Raise(ctx, "PREDICTED_FRAUD", entity, alerting.SeverityCritical,
					fmt.Sprintf("fraud predicted for %s (p=%.2f)", entity, p.Probability),
					evt.CorrelationID, nil)
			}
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicFraudBlocking, Type: "BLOCK_TRANSACTION",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"probability": p.Probability},
			})
		}
		return h.savePrediction(ctx, scope, evt, p, "fraud", p.Probability)

	case telemetry.TypePerformancePrediction:
		if p.Confidence >= h.Confidence.Default {
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicPerformanceTuning, Type: "PREDICTED_DEGRADATION",
				EntityID: entity, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"metric": p.Metric, "predictedValue": p.PredictedValue},
			})
		}
		return h.savePrediction(ctx, scope, evt, p, "performance", p.PredictedValue)

	case telemetry.TypeIncidentPrediction:
		if p.Probability >= h.Confidence.Default && h.Alerts != nil {
			h.Alerts.Raise(ctx, "INCIDENT_PREDICTED", entity, alerting.SeverityHigh,
				fmt.Sprintf("incident predicted for %s (p=%.2f)", entity, p.Probability),
				evt.CorrelationID, nil)
		}
		return h.savePrediction(ctx, scope, evt, p, "incident", p.Probability)

	case telemetry.TypeTrendAnalysis:
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicPerformanceTrends, Type: "TREND",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"metric": p.Metric, "predictedValue": p.PredictedValue},
		})
		return h.savePrediction(ctx, scope, evt, p, "trend", p.PredictedValue)

	case telemetry.TypeSeasonalityDetection:
		if p.Metric == "" {
			return runtime.Permanent(fmt.Errorf("%w: SEASONALITY_DETECTION requires metric", telemetry.ErrValidation))
		}
		h.Baselines.SetSeasonality(p.Metric, baseline.Seasonality{
			Strength:  p.SeasonalStrength,
			Amplitude: p.SeasonalAmplitude,
			Period:    time.Duration(p.SeasonalPeriodSecs) * time.Second,
			Phase:     evt.Timestamp,
		})
		return h.persist(ctx, scope, evt, "seasonality_strength", p.SeasonalStrength, "", meta("metric", p.Metric))

	case telemetry.TypeCorrelationAnalysis:
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicRootCauseAnalysis, Type: "CORRELATION",
			EntityID: entity, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"metric": p.Metric, "detail": p.Detail},
		})
		return h.persist(ctx, scope, evt, "correlation", p.PredictedValue, "", nil)

	case telemetry.TypeModelPerformance:
		if p.Model == "" {
			return runtime.Permanent(fmt.Errorf("%w: MODEL_PERFORMANCE requires model", telemetry.ErrValidation))
		}
		if p.Accuracy < retrainAccuracyFloor && h.Retrain != nil {
			h.Retrain.Flag(p.Model, h.Clock.Now())
		}
		return h.persist(ctx, scope, evt, "model_accuracy", p.Accuracy, "", meta("model", p.Model))

	case telemetry.TypePredictiveAlert:
		sev := alerting.Severity(p.Severity)
		switch sev {
		case alerting.SeverityInfo, alerting.SeverityWarning, alerting.SeverityHigh, alerting.SeverityCritical:
		default:
			sev = alerting.SeverityWarning
		}
		if h.Alerts != nil {
			h.Alerts.Raise(ctx, "PREDICTIVE_ALERT", entity, sev, p.Detail, evt.CorrelationID, nil)
		}
		return h.persist(ctx, scope, evt, "predictive_alert", p.Confidence, string(sev), nil)
	}
	return nil
}
