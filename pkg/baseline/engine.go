// Package baseline maintains per-metric running baselines and scores new
// observations against them.
package baseline

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultSensitivity is the z-score multiplier k: |x-mean| > k*stddev
	// flags an anomaly.
	DefaultSensitivity = 3.0

	// ReadyCount is the minimum sample count before a baseline scores
	// anomalies. Below it every observation is accepted.
	ReadyCount = 30

	// seasonalityStrengthFloor is the minimum detected strength before the
	// seasonal component is subtracted from observations.
	seasonalityStrengthFloor = 0.5
)

// Key addresses one baseline.
type Key struct {
	Entity string
	Metric string
}

// Baseline is a point-in-time view of one estimator.
type Baseline struct {
	Count      int64
	Mean       float64
	Variance   float64
	LastUpdate time.Time
}

// Ready reports whether the baseline has enough samples to score.
func (b Baseline) Ready() bool {
	return b.Count >= ReadyCount
}

// Result is the outcome of scoring one observation.
type Result struct {
	Ready     bool
	Anomalous bool
	ZScore    float64
	// Adjusted is the observed value after seasonal subtraction; equals the
	// input when no seasonal pattern applies.
	Adjusted float64
}

// Seasonality describes a detected periodic component for a metric.
type Seasonality struct {
	Strength  float64
	Amplitude float64
	Period    time.Duration
	Phase     time.Time
}

type entry struct {
	mu         sync.Mutex
	estimator  Welford
	lastUpdate time.Time
}

// Engine scores observations against per-(entity, metric) Welford baselines
// with optional seasonal adjustment.
type Engine struct {
	mu          sync.RWMutex
	entries     map[Key]*entry
	seasonality map[string]Seasonality // keyed by metric
	sensitivity float64
}

// Option configures the engine.
type Option func(*Engine)

// WithSensitivity overrides the anomaly z-score multiplier.
func WithSensitivity(k float64) Option {
	return func(e *Engine) {
		e.sensitivity = k
	}
}

// New creates a baseline engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		entries:     make(map[Key]*entry),
		seasonality: make(map[string]Seasonality),
		sensitivity: DefaultSensitivity,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) entryFor(key Key) *entry {
	e.mu.RLock()
	en, ok := e.entries[key]
	e.mu.RUnlock()
	if ok {
		return en
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[key]; ok {
		return en
	}
	en = &entry{}
	e.entries[key] = en
	return en
}

// Observe scores x against the baseline for (entity, metric) and then folds
// it into the estimator. Before the baseline is ready, the observation is
// accepted as non-anomalous.
func (e *Engine) Observe(entity, metric string, at time.Time, x float64) Result {
	adjusted := x - e.seasonalComponent(metric, at)

	en := e.entryFor(Key{Entity: entity, Metric: metric})
	en.mu.Lock()
	defer en.mu.Unlock()

	res := Result{Adjusted: adjusted}
	if en.estimator.N >= ReadyCount {
		res.Ready = true
		if sd := en.estimator.StdDev(); sd > 0 {
			res.ZScore = (adjusted - en.estimator.Mean) / sd
			res.Anomalous = math.Abs(res.ZScore) > e.sensitivity
		}
	}

	en.estimator.Add(adjusted)
	en.lastUpdate = at
	return res
}

// Snapshot returns the baseline for (entity, metric), or false when none
// exists.
func (e *Engine) Snapshot(entity, metric string) (Baseline, bool) {
	e.mu.RLock()
	en, ok := e.entries[Key{Entity: entity, Metric: metric}]
	e.mu.RUnlock()
	if !ok {
		return Baseline{}, false
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	return Baseline{
		Count:      en.estimator.N,
		Mean:       en.estimator.Mean,
		Variance:   en.estimator.Variance(),
		LastUpdate: en.lastUpdate,
	}, true
}

// Replace atomically swaps the running estimator for (entity, metric) with
// one recomputed from persisted samples.
func (e *Engine) Replace(entity, metric string, recomputed Welford, at time.Time) {
	en := e.entryFor(Key{Entity: entity, Metric: metric})
	en.mu.Lock()
	defer en.mu.Unlock()
	en.estimator = recomputed
	en.lastUpdate = at
}

// Keys lists every baseline currently tracked.
func (e *Engine) Keys() []Key {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Key, 0, len(e.entries))
	for key := range e.entries {
		out = append(out, key)
	}
	return out
}

// SetSeasonality installs a detected seasonal pattern for a metric. Patterns
// below the strength floor clear any previous one.
func (e *Engine) SetSeasonality(metric string, s Seasonality) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.Strength < seasonalityStrengthFloor || s.Period <= 0 {
		delete(e.seasonality, metric)
		return
	}
	e.seasonality[metric] = s
}

func (e *Engine) seasonalComponent(metric string, at time.Time) float64 {
	e.mu.RLock()
	s, ok := e.seasonality[metric]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	elapsed := at.Sub(s.Phase).Seconds()
	period := s.Period.Seconds()
	return s.Amplitude * math.Sin(2*math.Pi*elapsed/period)
}
