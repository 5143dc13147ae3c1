package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
	"github.com/sentinelops/telemetry-engine/pkg/threshold"
)

func cpuEvent(t *testing.T, value float64, at time.Time) *telemetry.Event {
	return newEvent(t, telemetry.FamilyPerformanceMonitoring, telemetry.MetricCPUUtilization, "srv-1", at, map[string]any{
		"value": value,
		"unit":  "percent",
		"host":  "srv-1.internal",
	})
}

func TestThresholdCrossingsDriveAlertLifecycle(t *testing.T) {
	f := newFixture(t)
	h := NewMonitoring(f.deps)
	f.deps.Thresholds.SetThresholds("srv-1", telemetry.MetricCPUUtilization, threshold.Thresholds{
		Warning: 75, Critical: 90,
	})

	steps := []struct {
		value    float64
		severity alerting.Severity
		active   bool
	}{
		{60, "", false},
		{78, alerting.SeverityWarning, true},
		{92, alerting.SeverityCritical, true},
		// Within the hysteresis band the critical alert holds.
		{70, alerting.SeverityCritical, true},
		{60, "", false},
	}
	for i, step := range steps {
		// Step past the alert cooldown so escalations are not suppressed.
		f.clk.Advance(16 * time.Minute)
		f.handle(t, h, cpuEvent(t, step.value, testStart.Add(time.Duration(i)*time.Minute)))

		alert, active := f.deps.Alerts.Active(telemetry.MetricCPUUtilization, "srv-1")
		require.Equal(t, step.active, active, "value %.0f", step.value)
		if step.active {
			assert.Equal(t, step.severity, alert.Severity, "value %.0f", step.value)
		}
	}
}

func TestSustainedHighCPUTriggersScaling(t *testing.T) {
	f := newFixture(t)
	h := NewMonitoring(f.deps)

	// Four high samples are not yet sustained.
	for i := 0; i < 4; i++ {
		f.handle(t, h, cpuEvent(t, 95, testStart.Add(time.Duration(i)*time.Minute)))
	}
	assert.Empty(t, f.pub.byType("CPU_SCALE_UP"))

	f.handle(t, h, cpuEvent(t, 95, testStart.Add(4*time.Minute)))
	scaleUps := f.pub.byType("CPU_SCALE_UP")
	require.Len(t, scaleUps, 1)
	assert.Equal(t, emitter.TopicCPUScaling, scaleUps[0].topic)
	assert.Equal(t, float64(95), scaleUps[0].body["meanUtilization"])
}

func TestMemoryAboveLeakFloorStagesScan(t *testing.T) {
	f := newFixture(t)
	h := NewMonitoring(f.deps)

	f.handle(t, h, newEvent(t, telemetry.FamilyPerformanceMonitoring, telemetry.MetricMemoryUtilization, "srv-1", testStart, map[string]any{
		"value": 97.5,
		"host":  "srv-1.internal",
	}))

	scans := f.pub.byType("MEMORY_LEAK_SCAN")
	require.Len(t, scans, 1)
	assert.Equal(t, emitter.TopicMemoryLeakDetection, scans[0].topic)
	assert.Equal(t, "srv-1.internal", scans[0].body["host"])

	records := f.mem.Records()
	require.Len(t, records, 1)
	assert.Equal(t, telemetry.MetricMemoryUtilization, records[0].Metric)
}

func TestQueuePressureRequiresBreachedThreshold(t *testing.T) {
	f := newFixture(t)
	h := NewMonitoring(f.deps)
	f.deps.Thresholds.SetThresholds("worker-1", telemetry.MetricQueueLength, threshold.Thresholds{
		Warning: 1000, Critical: 5000,
	})

	f.handle(t, h, newEvent(t, telemetry.FamilyPerformanceMonitoring, telemetry.MetricQueueLength, "worker-1", testStart, map[string]any{
		"value": 200,
	}))
	assert.Empty(t, f.pub.byType("QUEUE_PRESSURE"))

	f.handle(t, h, newEvent(t, telemetry.FamilyPerformanceMonitoring, telemetry.MetricQueueLength, "worker-1", testStart.Add(time.Minute), map[string]any{
		"value": 1500,
	}))
	assert.Len(t, f.pub.byType("QUEUE_PRESSURE"), 1)
}
