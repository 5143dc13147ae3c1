// Package threshold compares incoming metric values against configured
// warning/critical bounds with hysteresis on resolution.
package threshold

import "sync"

// Direction says which side of the threshold is unhealthy.
type Direction int

const (
	// Upper means values at or above the thresholds are unhealthy.
	Upper Direction = iota
	// Lower means values at or below the thresholds are unhealthy.
	Lower
)

// Level is the evaluator's state for one (entity, metric).
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "OK"
	}
}

// HysteresisFraction is the band a metric must re-cross beyond the
// threshold before an alert resolves; prevents flapping.
const HysteresisFraction = 0.10

// Thresholds configures one (entity, metric).
type Thresholds struct {
	Warning   float64
	Critical  float64
	Direction Direction
}

// Transition is produced whenever the level changes.
type Transition struct {
	Entity string
	Metric string
	From   Level
	To     Level
	Value  float64
}

// Resolved reports whether this transition returns the metric to OK.
func (t Transition) Resolved() bool {
	return t.To == LevelOK
}

type key struct {
	entity string
	metric string
}

// Evaluator runs the OK/WARNING/CRITICAL state machine per (entity, metric).
type Evaluator struct {
	mu     sync.Mutex
	limits map[key]Thresholds
	state  map[key]Level
}

// New creates an evaluator.
func New() *Evaluator {
	return &Evaluator{
		limits: make(map[key]Thresholds),
		state:  make(map[key]Level),
	}
}

// SetThresholds installs or replaces the thresholds for (entity, metric).
func (e *Evaluator) SetThresholds(entity, metric string, t Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits[key{entity, metric}] = t
}

// Level returns the current state for (entity, metric).
func (e *Evaluator) Level(entity, metric string) Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state[key{entity, metric}]
}

// Evaluate folds a new value into the state machine. The second return is
// false when no thresholds are configured or the level did not change.
func (e *Evaluator) Evaluate(entity, metric string, value float64) (Transition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := key{entity, metric}
	limits, ok := e.limits[k]
	if !ok {
		return Transition{}, false
	}

	from := e.state[k]
	to := next(from, limits, value)
	if to == from {
		return Transition{}, false
	}

	e.state[k] = to
	return Transition{Entity: entity, Metric: metric, From: from, To: to, Value: value}, true
}

// next applies the transition table. Escalation happens as soon as a bound
// is crossed; de-escalation requires re-crossing by the hysteresis band.
// From critical the state deliberately resolves straight to OK once the
// value clears the warning bound; there is no intermediate step down to
// warning, so a recovering metric emits one RESOLVED transition instead of
// a warning alert on the way out.
func next(from Level, limits Thresholds, value float64) Level {
	breachWarn := breaches(value, limits.Warning, limits.Direction)
	breachCrit := breaches(value, limits.Critical, limits.Direction)
	clearWarn := clears(value, limits.Warning, limits.Direction)

	switch from {
	case LevelOK:
		if breachCrit {
			return LevelCritical
		}
		if breachWarn {
			return LevelWarning
		}
		return LevelOK
	case LevelWarning:
		if breachCrit {
			return LevelCritical
		}
		if clearWarn {
			return LevelOK
		}
		return LevelWarning
	default: // LevelCritical
		// No intermediate step-down: critical holds until the value clears
		// the warning bound, then the alert resolves outright.
		if clearWarn {
			return LevelOK
		}
		return LevelCritical
	}
}

func breaches(value, threshold float64, dir Direction) bool {
	if dir == Upper {
		return value >= threshold
	}
	return value <= threshold
}

// clears requires the value back past the threshold by 10% of its magnitude.
func clears(value, threshold float64, dir Direction) bool {
	band := HysteresisFraction * threshold
	if band < 0 {
		band = -band
	}
	if dir == Upper {
		return value < threshold-band
	}
	return value > threshold+band
}
