package depgraph

import (
	"sort"
	"strings"
)

// DefaultMaxDepth bounds path enumeration.
const DefaultMaxDepth = 5

// Path is one enumerated route through the graph.
type Path struct {
	Vertices []string
	// Risk is the accumulated latency-weighted failure risk along the path.
	Risk float64
	// Bottleneck is the vertex entered through the edge with the highest
	// failure probability.
	Bottleneck string
}

// Paths enumerates simple paths from start up to maxDepth edges deep.
// Isolated vertices are skipped; paths visiting the same vertex set are
// deduplicated.
func (g *Graph) Paths(start string, maxDepth int) []Path {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.services[start]; !ok {
		return nil
	}

	var (
		paths   []Path
		seenSet = make(map[string]struct{})
		onStack = map[string]bool{start: true}
	)

	var dfs func(current string, trail []string, risk float64, bottleneck string, bottleneckProb float64)
	dfs = func(current string, trail []string, risk float64, bottleneck string, bottleneckProb float64) {
		if len(trail) > 1 {
			key := vertexSetKey(trail)
			if _, dup := seenSet[key]; !dup {
				seenSet[key] = struct{}{}
				cp := make([]string, len(trail))
				copy(cp, trail)
				paths = append(paths, Path{Vertices: cp, Risk: risk, Bottleneck: bottleneck})
			}
		}
		if len(trail)-1 >= maxDepth {
			return
		}
		for target, e := range g.out[current] {
			if onStack[target] {
				continue
			}
			if svc, ok := g.services[target]; ok && svc.Isolated {
				continue
			}
			prob := e.FailureProbability()
			nb, nbp := bottleneck, bottleneckProb
			if prob >= nbp {
				nb, nbp = target, prob
			}
			onStack[target] = true
			dfs(target, append(trail, target), risk+edgeRisk(e), nb, nbp)
			delete(onStack, target)
		}
	}

	if svc := g.services[start]; !svc.Isolated {
		dfs(start, []string{start}, 0, "", -1)
	}

	sort.Slice(paths, func(i, j int) bool {
		return paths[i].Risk > paths[j].Risk
	})
	return paths
}

// CriticalPath returns the path from start with the highest accumulated
// risk, or false when start has no outgoing paths.
func (g *Graph) CriticalPath(start string) (Path, bool) {
	paths := g.Paths(start, DefaultMaxDepth)
	if len(paths) == 0 {
		return Path{}, false
	}
	return paths[0], true
}

// edgeRisk weights the failure probability by observed latency so slow,
// flaky edges dominate the critical path.
func edgeRisk(e *Edge) float64 {
	return e.FailureProbability() * (1 + e.AvgLatencyMS()/1000)
}

func vertexSetKey(trail []string) string {
	sorted := make([]string, len(trail))
	copy(sorted, trail)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// CascadeRisk returns the downstream services reachable from the failed
// vertex across unhealthy edges: success rate below 0.5 or an open breaker.
func (g *Graph) CascadeRisk(failed string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.services[failed]; !ok {
		return nil
	}

	visited := map[string]bool{failed: true}
	queue := []string{failed}
	var affected []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for target, e := range g.out[current] {
			if visited[target] {
				continue
			}
			if !edgeCascades(e) {
				continue
			}
			visited[target] = true
			affected = append(affected, target)
			queue = append(queue, target)
		}
	}

	sort.Strings(affected)
	return affected
}

func edgeCascades(e *Edge) bool {
	if e.Breaker == CircuitOpen {
		return true
	}
	rate, defined := e.SuccessRate()
	return defined && rate < cascadeSuccessRateFloor
}
