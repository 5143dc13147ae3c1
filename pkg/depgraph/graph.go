// Package depgraph models the directed service dependency graph, its edge
// health, and the analyses run over it: path enumeration, critical-path
// selection and cascade-failure risk.
package depgraph

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState mirrors the breaker state reported on dependency edges.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// cascadeSuccessRateFloor: edges below this success rate propagate cascade
// risk downstream.
const cascadeSuccessRateFloor = 0.5

var (
	// ErrInvalidCallStats is returned when successes+failures exceed calls.
	ErrInvalidCallStats = errors.New("invalid call stats: successes + failures exceed calls")

	// ErrUnknownService is returned for lookups on vertices never observed.
	ErrUnknownService = errors.New("unknown service")
)

// Service is a vertex. Created on first sighting, never deleted.
type Service struct {
	Name        string
	Criticality float64
	Isolated    bool
	Metadata    map[string]string
	FirstSeen   time.Time
}

// CallStats carries one observation of edge traffic.
type CallStats struct {
	Calls     int64
	Successes int64
	Failures  int64
	LatencyMS float64
}

// Edge is a directed dependency with rolling health counters.
type Edge struct {
	Source              string
	Target              string
	Type                string
	Calls               int64
	Successes           int64
	Failures            int64
	ConsecutiveFailures int
	Breaker             CircuitState
	LatencySumMS        float64
	LatencyCount        int64
	LastHealthCheck     time.Time
}

// SuccessRate is undefined (false) when no calls were observed.
func (e *Edge) SuccessRate() (float64, bool) {
	if e.Calls == 0 {
		return 0, false
	}
	return float64(e.Successes) / float64(e.Calls), true
}

// FailureProbability is the observed failure rate; zero when undefined.
func (e *Edge) FailureProbability() float64 {
	if e.Calls == 0 {
		return 0
	}
	return float64(e.Failures) / float64(e.Calls)
}

// AvgLatencyMS is the mean observed latency on the edge.
func (e *Edge) AvgLatencyMS() float64 {
	if e.LatencyCount == 0 {
		return 0
	}
	return e.LatencySumMS / float64(e.LatencyCount)
}

// Graph is the directed multigraph of services. All mutation goes through
// its methods; analytics take the read lock for a consistent view.
type Graph struct {
	mu       sync.RWMutex
	services map[string]*Service
	out      map[string]map[string]*Edge
	in       map[string]map[string]*Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		services: make(map[string]*Service),
		out:      make(map[string]map[string]*Edge),
		in:       make(map[string]map[string]*Edge),
	}
}

func (g *Graph) ensureServiceLocked(name string, now time.Time) *Service {
	svc, ok := g.services[name]
	if !ok {
		svc = &Service{Name: name, FirstSeen: now}
		g.services[name] = svc
	}
	return svc
}

func (g *Graph) edgeLocked(source, target string) *Edge {
	if m, ok := g.out[source]; ok {
		return m[target]
	}
	return nil
}

func (g *Graph) ensureEdgeLocked(source, target, depType string, now time.Time) *Edge {
	g.ensureServiceLocked(source, now)
	g.ensureServiceLocked(target, now)

	e := g.edgeLocked(source, target)
	if e == nil {
		e = &Edge{Source: source, Target: target, Type: depType, Breaker: CircuitClosed}
		if g.out[source] == nil {
			g.out[source] = make(map[string]*Edge)
		}
		if g.in[target] == nil {
			g.in[target] = make(map[string]*Edge)
		}
		g.out[source][target] = e
		g.in[target][source] = e
	}
	if depType != "" {
		e.Type = depType
	}
	return e
}

// Observe upserts the edge and folds in one traffic observation. Both
// endpoints are created as vertices if unseen.
func (g *Graph) Observe(source, target, depType string, stats CallStats, cb CircuitState, now time.Time) error {
	if stats.Successes+stats.Failures > stats.Calls {
		return fmt.Errorf("%w: %s->%s", ErrInvalidCallStats, source, target)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.ensureEdgeLocked(source, target, depType, now)
	e.Calls += stats.Calls
	e.Successes += stats.Successes
	e.Failures += stats.Failures
	if stats.LatencyMS > 0 {
		e.LatencySumMS += stats.LatencyMS
		e.LatencyCount++
	}
	if cb != "" {
		e.Breaker = cb
	}
	e.LastHealthCheck = now
	return nil
}

// RecordCall records a single call outcome on the edge. A success resets
// the consecutive-failure counter; a failure increments it. Returns the
// counter after the update.
func (g *Graph) RecordCall(source, target string, success bool, latencyMS float64, now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.ensureEdgeLocked(source, target, "", now)
	e.Calls++
	if success {
		e.Successes++
		e.ConsecutiveFailures = 0
	} else {
		e.Failures++
		e.ConsecutiveFailures++
	}
	if latencyMS > 0 {
		e.LatencySumMS += latencyMS
		e.LatencyCount++
	}
	e.LastHealthCheck = now
	return e.ConsecutiveFailures
}

// Failures returns the consecutive-failure counter for the edge.
func (g *Graph) Failures(source, target string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e := g.edgeLocked(source, target); e != nil {
		return e.ConsecutiveFailures
	}
	return 0
}

// SetBreaker updates the reported breaker state on the edge.
func (g *Graph) SetBreaker(source, target string, state CircuitState, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.ensureEdgeLocked(source, target, "", now)
	e.Breaker = state
	e.LastHealthCheck = now
}

// EdgeSnapshot returns a copy of the edge, or false when absent.
func (g *Graph) EdgeSnapshot(source, target string) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e := g.edgeLocked(source, target); e != nil {
		return *e, true
	}
	return Edge{}, false
}

// UpdateService applies service-map information to a vertex, creating it
// when unseen.
func (g *Graph) UpdateService(name string, criticality float64, metadata map[string]string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	svc := g.ensureServiceLocked(name, now)
	if criticality > 0 {
		svc.Criticality = criticality
	}
	if len(metadata) > 0 {
		if svc.Metadata == nil {
			svc.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			svc.Metadata[k] = v
		}
	}
}

// SetIsolated flags a vertex as isolated, suppressing it from path
// enumerations.
func (g *Graph) SetIsolated(name string, isolated bool, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureServiceLocked(name, now).Isolated = isolated
}

// IsRoot reports whether the service has no upstream edges.
func (g *Graph) IsRoot(name string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.services[name]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return len(g.in[name]) == 0, nil
}

// Services lists all vertex names.
func (g *Graph) Services() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.services))
	for name := range g.services {
		out = append(out, name)
	}
	return out
}

// Downstream lists the direct out-neighbors of a service.
func (g *Graph) Downstream(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.out[name]))
	for target := range g.out[name] {
		out = append(out, target)
	}
	return out
}

// ServiceSnapshot returns a copy of the vertex, or false when absent.
func (g *Graph) ServiceSnapshot(name string) (Service, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if svc, ok := g.services[name]; ok {
		cp := *svc
		return cp, true
	}
	return Service{}, false
}
