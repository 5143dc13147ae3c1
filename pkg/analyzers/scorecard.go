package analyzers

import (
	"context"

	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

// Scorecard weights. Subscores are on a 0..100 scale.
const (
	weightPerformance   = 0.25
	weightUsability     = 0.20
	weightAccessibility = 0.15
	weightSatisfaction  = 0.25
	weightEngagement    = 0.15
)

// Page load bounds for the performance subscore: full marks at or under
// fastLoadMS, zero at slowLoadMS.
const (
	fastLoadMS = 1000.0
	slowLoadMS = 5000.0
)

// UXScore is the last computed scorecard.
type UXScore struct {
	Overall       float64
	Performance   float64
	Usability     float64
	Accessibility float64
	Satisfaction  float64
	Engagement    float64
}

// LastScore returns the most recently computed scorecard.
func (a *Analyzers) LastScore() UXScore {
	a.scoreMu.Lock()
	defer a.scoreMu.Unlock()
	return a.lastScore
}

// Scorecard recomputes the weighted UX score from the rolling windows and
// session state.
func (a *Analyzers) Scorecard(ctx context.Context) error {
	score := a.computeScore()

	a.scoreMu.Lock()
	a.lastScore = score
	a.scoreMu.Unlock()

	a.O11y.Metrics().SetGauge("ux_score_overall", score.Overall)
	a.O11y.Metrics().SetGauge("ux_score_component", score.Performance, "component", "performance")
	a.O11y.Metrics().SetGauge("ux_score_component", score.Usability, "component", "usability")
	a.O11y.Metrics().SetGauge("ux_score_component", score.Accessibility, "component", "accessibility")
	a.O11y.Metrics().SetGauge("ux_score_component", score.Satisfaction, "component", "satisfaction")
	a.O11y.Metrics().SetGauge("ux_score_component", score.Engagement, "component", "engagement")
	return nil
}

func (a *Analyzers) computeScore() UXScore {
	score := UXScore{
		Performance:   a.performanceScore(),
		Usability:     a.usabilityScore(),
		Accessibility: a.accessibilityScore(),
		Satisfaction:  a.satisfactionScore(),
		Engagement:    a.engagementScore(),
	}
	score.Overall = score.Performance*weightPerformance +
		score.Usability*weightUsability +
		score.Accessibility*weightAccessibility +
		score.Satisfaction*weightSatisfaction +
		score.Engagement*weightEngagement
	return score
}

// performanceScore grades mean page load across all pages.
func (a *Analyzers) performanceScore() float64 {
	var sum float64
	var n int
	for _, key := range a.Windows.Keys() {
		if key.Metric != "page_load_ms" {
			continue
		}
		if stats, ok := a.Windows.Stats(key.Entity, key.Metric); ok {
			sum += stats.Mean
			n++
		}
	}
	if n == 0 {
		return 100
	}
	mean := sum / float64(n)
	if mean <= fastLoadMS {
		return 100
	}
	if mean >= slowLoadMS {
		return 0
	}
	return 100 * (slowLoadMS - mean) / (slowLoadMS - fastLoadMS)
}

// usabilityScore penalizes client errors and rage clicks per session.
func (a *Analyzers) usabilityScore() float64 {
	sessions := a.Sessions.Snapshot()
	if len(sessions) == 0 {
		return 100
	}
	var penalty float64
	for _, s := range sessions {
		penalty += float64(s.Errors)*5 + float64(s.RageClicks)*10
	}
	return clampScore(100 - penalty/float64(len(sessions)))
}

// accessibilityScore penalizes reported accessibility issues.
func (a *Analyzers) accessibilityScore() float64 {
	stats, ok := a.Windows.Stats("global", "accessibility_issues")
	if !ok {
		return 100
	}
	return clampScore(100 - float64(stats.Count)*2)
}

// satisfactionScore maps mean feedback (0..5 scale) to 0..100.
func (a *Analyzers) satisfactionScore() float64 {
	stats, ok := a.Windows.Stats("global", "satisfaction_score")
	if !ok {
		return 100
	}
	return clampScore(stats.Mean * 20)
}

// engagementScore averages the reported engagement scores.
func (a *Analyzers) engagementScore() float64 {
	stats, ok := a.Windows.Stats("global", "engagement_score")
	if !ok {
		return 100
	}
	return clampScore(stats.Mean)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// UXReport publishes the hourly experience report: scorecard, sessions and
// frustration totals.
func (a *Analyzers) UXReport(ctx context.Context) error {
	score := a.computeScore()
	sessions := a.Sessions.Snapshot()

	var frustration, rage, errorsTotal int
	for _, s := range sessions {
		frustration += s.FrustrationSignals
		rage += s.RageClicks
		errorsTotal += s.Errors
	}

	return a.Emitter.Emit(ctx, emitter.Derived{
		Topic: emitter.TopicIntegrationMonitoring, Type: "UX_REPORT",
		EntityID: "global", CorrelationID: telemetry.SchedulerCorrelationID(),
		Payload: map[string]any{
			"overallScore": score.Overall,
			"subscores": map[string]any{
				"performance":   score.Performance,
				"usability":     score.Usability,
				"accessibility": score.Accessibility,
				"satisfaction":  score.Satisfaction,
				"engagement":    score.Engagement,
			},
			"sessions":           len(sessions),
			"frustrationSignals": frustration,
			"rageClicks":         rage,
			"clientErrors":       errorsTotal,
		},
	})
}
