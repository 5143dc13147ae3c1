// Package analyzers registers the engine's periodic analyses on the
// scheduler: rolling aggregation, trend and critical-path analysis, UX
// scoring, baseline recomputation, prediction refresh, model upkeep and
// data cleanup.
package analyzers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/baseline"
	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/depgraph"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/handlers"
	"github.com/sentinelops/telemetry-engine/pkg/ml"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/scheduler"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
	"github.com/sentinelops/telemetry-engine/pkg/window"
)

// DefaultJitter spreads task firings to avoid synchronized bursts.
const DefaultJitter = 0.10

// Periods holds the fixed delays for every analysis task.
type Periods struct {
	Aggregation       time.Duration
	Frustration       time.Duration
	Trends            time.Duration
	CriticalPath      time.Duration
	Scorecard         time.Duration
	Heatmap           time.Duration
	SessionReplay     time.Duration
	UXReport          time.Duration
	BaselineRecompute time.Duration
	PredictionRefresh time.Duration
	ModelEvaluation   time.Duration
	ModelRetraining   time.Duration
	Cleanup           time.Duration
}

// DefaultPeriods returns the standard schedule.
func DefaultPeriods() Periods {
	return Periods{
		Aggregation:       5 * time.Minute,
		Frustration:       5 * time.Minute,
		Trends:            15 * time.Minute,
		CriticalPath:      15 * time.Minute,
		Scorecard:         10 * time.Minute,
		Heatmap:           time.Hour,
		SessionReplay:     15 * time.Minute,
		UXReport:          time.Hour,
		BaselineRecompute: time.Hour,
		PredictionRefresh: 5 * time.Minute,
		ModelEvaluation:   10 * time.Minute,
		ModelRetraining:   time.Hour,
		Cleanup:           24 * time.Hour,
	}
}

// Retention bounds for the cleanup task.
const (
	RecordRetention     = 30 * 24 * time.Hour
	PredictionRetention = 90 * 24 * time.Hour
	baselineLookback    = 7 * 24 * time.Hour
)

// Analyzers owns the periodic analysis tasks and the state they read.
type Analyzers struct {
	Windows   *window.Store
	Baselines *baseline.Engine
	Graph     *depgraph.Graph
	Sessions  *handlers.SessionStore
	Alerts    *alerting.Manager
	Store     storage.Store
	Emitter   *emitter.Emitter
	Models    ml.ModelRuntime
	Retrain   *ml.FlagSet
	Clock     clock.Clock
	O11y      observability.Observability

	// PredictionTargets are the (model, metric, entity) triples refreshed
	// against the model runtime every cycle.
	PredictionTargets []PredictionTarget

	scoreMu   sync.Mutex
	lastScore UXScore
}

// PredictionTarget names one model query the refresh task issues.
type PredictionTarget struct {
	Domain   string
	Model    string
	Metric   string
	EntityID string
	Horizon  time.Duration
}

// Register wires every task onto the scheduler with the given periods.
func (a *Analyzers) Register(s *scheduler.Scheduler, p Periods) error {
	tasks := []struct {
		name   string
		period time.Duration
		task   scheduler.Task
	}{
		{"aggregate-rolling-stats", p.Aggregation, a.AggregateRollingStats},
		{"detect-frustration", p.Frustration, a.DetectFrustration},
		{"trend-analysis", p.Trends, a.TrendAnalysis},
		{"critical-path", p.CriticalPath, a.CriticalPaths},
		{"ux-scorecard", p.Scorecard, a.Scorecard},
		{"heatmap", p.Heatmap, a.Heatmap},
		{"session-replay", p.SessionReplay, a.SessionReplay},
		{"ux-report", p.UXReport, a.UXReport},
		{"baseline-recompute", p.BaselineRecompute, a.RecomputeBaselines},
		{"prediction-refresh", p.PredictionRefresh, a.RefreshPredictions},
		{"model-evaluation", p.ModelEvaluation, a.EvaluateModels},
		{"model-retraining", p.ModelRetraining, a.RetrainModels},
		{"cleanup", p.Cleanup, a.Cleanup},
	}
	for _, t := range tasks {
		if err := s.Every(t.name, t.period, DefaultJitter, t.task); err != nil {
			return fmt.Errorf("register %s: %w", t.name, err)
		}
	}
	return nil
}

// AggregateRollingStats publishes per-(entity, metric) window summaries.
func (a *Analyzers) AggregateRollingStats(ctx context.Context) error {
	correlationID := telemetry.SchedulerCorrelationID()
	for _, key := range a.Windows.Keys() {
		stats, ok := a.Windows.Stats(key.Entity, key.Metric)
		if !ok {
			continue
		}
		p95, _ := a.Windows.Percentile(key.Entity, key.Metric, 0.95)
		err := a.Emitter.Emit(ctx, emitter.Derived{
			Topic: emitter.TopicAggregatedMetrics, Type: "ROLLING_AGGREGATE",
			EntityID: key.Entity, CorrelationID: correlationID,
			Payload: map[string]any{
				"metric": key.Metric,
				"count":  stats.Count,
				"mean":   stats.Mean,
				"min":    stats.Min,
				"max":    stats.Max,
				"stdDev": stats.StdDev,
				"p95":    p95,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DetectFrustration raises UX alerts for sessions accumulating frustration
// signals.
func (a *Analyzers) DetectFrustration(ctx context.Context) error {
	const frustrationFloor = 3
	for _, s := range a.Sessions.Snapshot() {
		if s.FrustrationSignals < frustrationFloor {
			continue
		}
		if a.Alerts != nil {
			a.Alerts.Raise(ctx, "USER_FRUSTRATION", s.ID, alerting.SeverityWarning,
				fmt.Sprintf("session %s accumulated %d frustration signals (%d rage clicks)",
					s.ID, s.FrustrationSignals, s.RageClicks),
				telemetry.SchedulerCorrelationID(), nil)
		}
	}
	return nil
}

// TrendAnalysis publishes regression slopes over baseline-tracked metrics.
func (a *Analyzers) TrendAnalysis(ctx context.Context) error {
	correlationID := telemetry.SchedulerCorrelationID()
	for _, key := range a.Windows.Keys() {
		slope, ok := a.Windows.Slope(key.Entity, key.Metric)
		if !ok || slope == 0 {
			continue
		}
		direction := "RISING"
		if slope < 0 {
			direction = "FALLING"
		}
		err := a.Emitter.Emit(ctx, emitter.Derived{
			Topic: emitter.TopicPerformanceTrends, Type: "TREND",
			EntityID: key.Entity, CorrelationID: correlationID,
			Payload: map[string]any{
				"metric":    key.Metric,
				"slope":     slope,
				"direction": direction,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CriticalPaths enumerates the riskiest path from each root service.
func (a *Analyzers) CriticalPaths(ctx context.Context) error {
	correlationID := telemetry.SchedulerCorrelationID()
	for _, name := range a.Graph.Services() {
		root, err := a.Graph.IsRoot(name)
		if err != nil || !root {
			continue
		}
		path, ok := a.Graph.CriticalPath(name)
		if !ok {
			continue
		}
		err = a.Emitter.Emit(ctx, emitter.Derived{
			Topic: emitter.TopicDependencyAlerts, Type: "CRITICAL_PATH",
			EntityID: name, CorrelationID: correlationID,
			Payload: map[string]any{
				"path":       path.Vertices,
				"risk":       path.Risk,
				"bottleneck": path.Bottleneck,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Heatmap publishes the per-page view counts.
func (a *Analyzers) Heatmap(ctx context.Context) error {
	heatmap := a.Sessions.Heatmap()
	if len(heatmap) == 0 {
		return nil
	}
	return a.Emitter.Emit(ctx, emitter.Derived{
		Topic: emitter.TopicIntegrationMonitoring, Type: "PAGE_HEATMAP",
		EntityID: "global", CorrelationID: telemetry.SchedulerCorrelationID(),
		Payload: map[string]any{"pages": heatmap},
	})
}

// SessionReplay selects interesting sessions (heavy clicking or rage) for
// replay.
func (a *Analyzers) SessionReplay(ctx context.Context) error {
	interesting := a.Sessions.Interesting()
	if len(interesting) == 0 {
		return nil
	}
	ids := make([]string, len(interesting))
	for i, s := range interesting {
		ids[i] = s.ID
	}
	a.O11y.Metrics().SetGauge("replay_candidates", float64(len(ids)))
	return a.Emitter.Emit(ctx, emitter.Derived{
		Topic: emitter.TopicIntegrationMonitoring, Type: "SESSION_REPLAY_SELECTION",
		EntityID: "global", CorrelationID: telemetry.SchedulerCorrelationID(),
		Payload: map[string]any{"sessions": ids},
	})
}

// RecomputeBaselines replaces the running estimators from the last 7 days of
// persisted samples.
func (a *Analyzers) RecomputeBaselines(ctx context.Context) error {
	since := a.Clock.Now().Add(-baselineLookback)
	keys, err := a.Store.MetricKeys(ctx, since)
	if err != nil {
		return fmt.Errorf("list metric keys: %w", err)
	}
	var errs []error
	for _, key := range keys {
		samples, err := a.Store.Samples(ctx, key, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("samples for %s/%s: %w", key.EntityID, key.Metric, err))
			continue
		}
		if len(samples) == 0 {
			continue
		}
		values := make([]float64, len(samples))
		for i, sp := range samples {
			values[i] = sp.Value
		}
		a.Baselines.Replace(key.EntityID, key.Metric, baseline.FromSamples(values), a.Clock.Now())
	}
	return errors.Join(errs...)
}

// RefreshPredictions queries the model runtime for each configured target
// and persists the responses.
func (a *Analyzers) RefreshPredictions(ctx context.Context) error {
	if a.Models == nil {
		return nil
	}
	correlationID := telemetry.SchedulerCorrelationID()
	var errs []error
	for _, target := range a.PredictionTargets {
		resp, err := a.Models.Predict(ctx, ml.PredictRequest{
			Domain:   target.Domain,
			Model:    target.Model,
			Metric:   target.Metric,
			EntityID: target.EntityID,
			Horizon:  target.Horizon,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pred := storage.Prediction{
			Domain:        target.Domain,
			Model:         resp.Model,
			Metric:        target.Metric,
			EntityID:      target.EntityID,
			CorrelationID: correlationID,
			Confidence:    resp.Confidence,
			Horizon:       target.Horizon,
			Value:         resp.Value,
			MadeAt:        a.Clock.Now(),
		}
		if err := a.Store.SavePrediction(ctx, nil, pred); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.Emitter.Emit(ctx, emitter.Derived{
			Topic: emitter.TopicCapacityAlerts, Type: "PREDICTION_REFRESH",
			EntityID: target.EntityID, CorrelationID: correlationID,
			Payload: map[string]any{
				"domain":     target.Domain,
				"metric":     target.Metric,
				"value":      resp.Value,
				"confidence": resp.Confidence,
			},
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EvaluateModels flags models whose accuracy fell below the retraining
// floor.
func (a *Analyzers) EvaluateModels(ctx context.Context) error {
	const accuracyFloor = 0.80
	if a.Models == nil {
		return nil
	}
	models := map[string]struct{}{}
	for _, target := range a.PredictionTargets {
		models[target.Model] = struct{}{}
	}
	var errs []error
	for model := range models {
		eval, err := a.Models.Evaluate(ctx, model)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.O11y.Metrics().SetGauge("model_accuracy", eval.Accuracy, "model", model)
		if eval.Accuracy < accuracyFloor {
			a.Retrain.Flag(model, a.Clock.Now())
		}
	}
	return errors.Join(errs...)
}

// RetrainModels submits retraining jobs for every flagged model.
func (a *Analyzers) RetrainModels(ctx context.Context) error {
	if a.Models == nil {
		return nil
	}
	var errs []error
	for _, model := range a.Retrain.Drain() {
		if err := a.Models.Retrain(ctx, model); err != nil {
			// Re-flag so the next cycle retries.
			a.Retrain.Flag(model, a.Clock.Now())
			errs = append(errs, err)
			continue
		}
		a.O11y.Logger().Info(ctx, "retraining submitted",
			observability.String("model", model))
	}
	return errors.Join(errs...)
}

// Cleanup drops expired windows, sessions and persisted rows.
func (a *Analyzers) Cleanup(ctx context.Context) error {
	dropped := a.Windows.Cleanup()
	expired := a.Sessions.Expire()
	now := a.Clock.Now()
	removed, err := a.Store.Cleanup(ctx, now.Add(-RecordRetention), now.Add(-PredictionRetention))
	if err != nil {
		return fmt.Errorf("store cleanup: %w", err)
	}
	a.O11y.Logger().Info(ctx, "cleanup pass finished",
		observability.Int("window_samples_dropped", dropped),
		observability.Int("sessions_expired", expired),
		observability.Int64("rows_removed", removed))
	return nil
}
