// Package window keeps bounded rolling samples per (entity, metric) and
// answers the statistical queries the evaluators and analyzers run against
// them.
package window

import (
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
)

const (
	// DefaultMaxSamples caps the ring size per key.
	DefaultMaxSamples = 1000

	// DefaultMaxAge caps sample age per key.
	DefaultMaxAge = 24 * time.Hour

	shardCount = 16
)

// Key addresses one rolling window.
type Key struct {
	Entity string
	Metric string
}

// Sample is one observed value.
type Sample struct {
	At    time.Time
	Value float64
}

// Stats summarizes the live samples of a window.
type Stats struct {
	Count  int
	Mean   float64
	Min    float64
	Max    float64
	StdDev float64
}

type ring struct {
	mu      sync.Mutex
	samples []Sample
}

type shard struct {
	mu    sync.RWMutex
	rings map[Key]*ring
}

// Store holds all rolling windows, sharded to keep per-key lock contention
// low. Writes are append-only; expiry happens at query time and during the
// hourly cleanup.
type Store struct {
	shards     [shardCount]*shard
	maxSamples int
	maxAge     time.Duration
	clock      clock.Clock
}

// Option configures the store.
type Option func(*Store)

// WithMaxSamples overrides the per-key sample cap.
func WithMaxSamples(n int) Option {
	return func(s *Store) {
		s.maxSamples = n
	}
}

// WithMaxAge overrides the per-key age cap.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) {
		s.maxAge = d
	}
}

// New creates a rolling window store.
func New(clk clock.Clock, opts ...Option) *Store {
	s := &Store{
		maxSamples: DefaultMaxSamples,
		maxAge:     DefaultMaxAge,
		clock:      clk,
	}
	for i := range s.shards {
		s.shards[i] = &shard{rings: make(map[Key]*ring)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shardFor(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Entity))
	h.Write([]byte{0})
	h.Write([]byte(key.Metric))
	return s.shards[h.Sum32()%shardCount]
}

func (s *Store) ringFor(key Key) *ring {
	sh := s.shardFor(key)

	sh.mu.RLock()
	r, ok := sh.rings[key]
	sh.mu.RUnlock()
	if ok {
		return r
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if r, ok := sh.rings[key]; ok {
		return r
	}
	r = &ring{}
	sh.rings[key] = r
	return r
}

// Append records a sample for (entity, metric).
func (s *Store) Append(entity, metric string, at time.Time, value float64) {
	r := s.ringFor(Key{Entity: entity, Metric: metric})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, Sample{At: at, Value: value})
	if overflow := len(r.samples) - s.maxSamples; overflow > 0 {
		r.samples = append(r.samples[:0], r.samples[overflow:]...)
	}
}

// snapshot returns the live (unexpired) values for the key.
func (s *Store) snapshot(entity, metric string) []float64 {
	sh := s.shardFor(Key{Entity: entity, Metric: metric})
	sh.mu.RLock()
	r, ok := sh.rings[Key{Entity: entity, Metric: metric}]
	sh.mu.RUnlock()
	if !ok {
		return nil
	}

	cutoff := s.clock.Now().Add(-s.maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := 0
	for idx < len(r.samples) && r.samples[idx].At.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		r.samples = append(r.samples[:0], r.samples[idx:]...)
	}
	out := make([]float64, len(r.samples))
	for i, sample := range r.samples {
		out[i] = sample.Value
	}
	return out
}

// Stats returns summary statistics for the window, or false when empty.
func (s *Store) Stats(entity, metric string) (Stats, bool) {
	values := s.snapshot(entity, metric)
	if len(values) == 0 {
		return Stats{}, false
	}

	st := Stats{
		Count: len(values),
		Min:   values[0],
		Max:   values[0],
	}
	var sum float64
	for _, v := range values {
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(len(values)))
	return st, true
}

// Percentile estimates the p-quantile (p in [0,1]) from a sorted copy.
func (s *Store) Percentile(entity, metric string, p float64) (float64, bool) {
	values := s.snapshot(entity, metric)
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0], true
	}
	if p >= 1 {
		return sorted[len(sorted)-1], true
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo], true
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac, true
}

// Slope returns the least-squares linear regression slope over the window,
// with sample index as the x axis. Positive means the metric is rising.
func (s *Store) Slope(entity, metric string) (float64, bool) {
	values := s.snapshot(entity, metric)
	n := len(values)
	if n < 2 {
		return 0, false
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (fn*sumXY - sumX*sumY) / denom, true
}

// Keys lists every key currently holding samples.
func (s *Store) Keys() []Key {
	var out []Key
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key := range sh.rings {
			out = append(out, key)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Cleanup drops expired samples and empty rings across all keys. Wired to
// the hourly cleanup task.
func (s *Store) Cleanup() int {
	cutoff := s.clock.Now().Add(-s.maxAge)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, r := range sh.rings {
			r.mu.Lock()
			idx := 0
			for idx < len(r.samples) && r.samples[idx].At.Before(cutoff) {
				idx++
			}
			removed += idx
			if idx > 0 {
				r.samples = append(r.samples[:0], r.samples[idx:]...)
			}
			empty := len(r.samples) == 0
			r.mu.Unlock()
			if empty {
				delete(sh.rings, key)
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
