package handlers

import (
	"context"
	"fmt"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

// criticalProviders page on outage and trigger failover.
var criticalProviders = map[string]bool{
	"stripe": true,
	"paypal": true,
	"adyen":  true,
}

type providerPayload struct {
	Provider string `json:"provider"`
	Region   string `json:"region"`
	Reason   string `json:"reason"`
}

// Provider handles the payment_provider family.
type Provider struct {
	*Deps
}

func NewProvider(deps *Deps) *Provider {
	return &Provider{Deps: deps}
}

func (h *Provider) Family() telemetry.Family {
	return telemetry.FamilyPaymentProvider
}

func (h *Provider) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}
	var p providerPayload
	if len(evt.Payload) > 0 {
		parsed, err := telemetry.ParsePayload[providerPayload](evt)
		if err != nil {
			return runtime.Permanent(err)
		}
		p = parsed
	}
	provider := p.Provider
	if provider == "" {
		provider = evt.EntityID
	}
	critical := criticalProviders[provider]

	switch evt.Type {
	case telemetry.TypeProviderDown:
		if critical {
			if h.Alerts != nil {
				h.Alerts.Raise(ctx, "PROVIDER_DOWN", provider, alerting.SeverityCritical,
					fmt.Sprintf("critical payment provider %s is down: %s", provider, p.Reason),
					evt.CorrelationID, map[string]string{"region": p.Region})
			}
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicCriticalProviderDown, Type: "CRITICAL_PROVIDER_DOWN",
				EntityID: provider, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"region": p.Region, "reason": p.Reason},
			})
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicProviderFallback, Type: "PROVIDER_FAILOVER",
				EntityID: provider, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"from": provider},
			})
		} else {
			if h.Alerts != nil {
				h.Alerts.Raise(ctx, "PROVIDER_DOWN", provider, alerting.SeverityWarning,
					fmt.Sprintf("payment provider %s is down: %s", provider, p.Reason),
					evt.CorrelationID, map[string]string{"region": p.Region})
			}
			scope.Outbox.Stage(emitter.Derived{
				Topic: emitter.TopicProviderHealth, Type: "PROVIDER_DOWN",
				EntityID: provider, CorrelationID: evt.CorrelationID,
				Payload: map[string]any{"region": p.Region, "reason": p.Reason},
			})
		}
		return h.persist(ctx, scope, evt, "provider_status", 0, "DOWN", meta("region", p.Region))

	case telemetry.TypeProviderRecovered:
		if h.Alerts != nil {
			h.Alerts.Resolve(ctx, "PROVIDER_DOWN", provider,
				fmt.Sprintf("payment provider %s recovered", provider))
		}
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicProviderHealth, Type: "PROVIDER_RECOVERED",
			EntityID: provider, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"region": p.Region},
		})
		return h.persist(ctx, scope, evt, "provider_status", 1, "UP", meta("region", p.Region))
	}
	return nil
}
