package runtime

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

const (
	breakerWindow      = 10
	breakerFailureRate = 0.5
	breakerOpenTimeout = 30 * time.Second
	breakerProbes      = 3
)

// newFamilyBreaker builds the per-family circuit breaker: 50% failures over
// a 10-request window opens it for 30s, then 3 half-open probes decide.
func newFamilyBreaker(family telemetry.Family, o11y observability.Observability, onOpen func(family telemetry.Family)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(family),
		MaxRequests: breakerProbes,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerWindow {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o11y.Metrics().IncCounter("breaker_transitions_total",
				"family", name, "from", from.String(), "to", to.String())
			o11y.Logger().Warn(context.Background(), "family breaker state change",
				observability.String("family", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
			if to == gobreaker.StateOpen && onOpen != nil {
				onOpen(telemetry.Family(name))
			}
		},
	})
}
