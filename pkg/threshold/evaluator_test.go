package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalationAndHysteresis(t *testing.T) {
	e := New()
	e.SetThresholds("srv-1", "cpu", Thresholds{Warning: 75, Critical: 90, Direction: Upper})

	steps := []struct {
		value   float64
		changed bool
		to      Level
	}{
		{60, false, LevelOK},
		{78, true, LevelWarning},
		{92, true, LevelCritical},
		{92, false, LevelCritical},
		// 70 is above the warning clear bound (75 - 7.5 = 67.5): still critical.
		{70, false, LevelCritical},
		{60, true, LevelOK},
	}

	for i, step := range steps {
		transition, changed := e.Evaluate("srv-1", "cpu", step.value)
		assert.Equal(t, step.changed, changed, "step %d value %.0f", i, step.value)
		if changed {
			assert.Equal(t, step.to, transition.To, "step %d", i)
		}
	}
}

func TestCriticalHoldsAboveWarningClearBound(t *testing.T) {
	e := New()
	e.SetThresholds("srv-1", "cpu", Thresholds{Warning: 75, Critical: 90, Direction: Upper})

	e.Evaluate("srv-1", "cpu", 95)
	require.Equal(t, LevelCritical, e.Level("srv-1", "cpu"))

	// Below critical but still above warning - 10%: no step-down.
	_, changed := e.Evaluate("srv-1", "cpu", 80)
	assert.False(t, changed)
	assert.Equal(t, LevelCritical, e.Level("srv-1", "cpu"))

	transition, changed := e.Evaluate("srv-1", "cpu", 60)
	require.True(t, changed)
	assert.True(t, transition.Resolved())
}

func TestLowerDirection(t *testing.T) {
	e := New()
	e.SetThresholds("svc-a", "availability", Thresholds{Warning: 99.9, Critical: 99.0, Direction: Lower})

	transition, changed := e.Evaluate("svc-a", "availability", 99.5)
	require.True(t, changed)
	assert.Equal(t, LevelWarning, transition.To)

	transition, changed = e.Evaluate("svc-a", "availability", 98.0)
	require.True(t, changed)
	assert.Equal(t, LevelCritical, transition.To)
}

func TestNoThresholdsConfigured(t *testing.T) {
	e := New()
	_, changed := e.Evaluate("svc-a", "cpu", 99)
	assert.False(t, changed)
}

func TestDirectEscalationToCritical(t *testing.T) {
	e := New()
	e.SetThresholds("srv-1", "cpu", Thresholds{Warning: 75, Critical: 90, Direction: Upper})

	transition, changed := e.Evaluate("srv-1", "cpu", 95)
	require.True(t, changed)
	assert.Equal(t, LevelOK, transition.From)
	assert.Equal(t, LevelCritical, transition.To)
}
