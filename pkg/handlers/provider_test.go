package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

func TestCriticalProviderOutagePagesAndFailsOver(t *testing.T) {
	f := newFixture(t)
	h := NewProvider(f.deps)

	f.handle(t, h, newEvent(t, telemetry.FamilyPaymentProvider, telemetry.TypeProviderDown, "stripe", testStart, map[string]any{
		"provider": "stripe",
		"region":   "eu-west-1",
		"reason":   "elevated 5xx rate",
	}))

	alert, active := f.deps.Alerts.Active("PROVIDER_DOWN", "stripe")
	require.True(t, active)
	assert.Equal(t, alerting.SeverityCritical, alert.Severity)
	assert.Contains(t, f.notes.channelsFor("PROVIDER_DOWN"), alerting.ChannelPaging)

	down := f.pub.byType("CRITICAL_PROVIDER_DOWN")
	require.Len(t, down, 1)
	assert.Equal(t, emitter.TopicCriticalProviderDown, down[0].topic)

	failover := f.pub.byType("PROVIDER_FAILOVER")
	require.Len(t, failover, 1)
	assert.Equal(t, emitter.TopicProviderFallback, failover[0].topic)
	assert.Equal(t, "stripe", failover[0].body["from"])
}

func TestNonCriticalProviderOutageWarns(t *testing.T) {
	f := newFixture(t)
	h := NewProvider(f.deps)

	f.handle(t, h, newEvent(t, telemetry.FamilyPaymentProvider, telemetry.TypeProviderDown, "localbank", testStart, map[string]any{
		"provider": "localbank",
		"reason":   "maintenance overrun",
	}))

	alert, active := f.deps.Alerts.Active("PROVIDER_DOWN", "localbank")
	require.True(t, active)
	assert.Equal(t, alerting.SeverityWarning, alert.Severity)

	assert.Empty(t, f.pub.byType("PROVIDER_FAILOVER"))
	health := f.pub.byType("PROVIDER_DOWN")
	require.Len(t, health, 1)
	assert.Equal(t, emitter.TopicProviderHealth, health[0].topic)
}

func TestProviderRecoveryResolvesOutage(t *testing.T) {
	f := newFixture(t)
	h := NewProvider(f.deps)

	f.handle(t, h, newEvent(t, telemetry.FamilyPaymentProvider, telemetry.TypeProviderDown, "stripe", testStart, map[string]any{
		"provider": "stripe",
		"reason":   "elevated 5xx rate",
	}))
	f.handle(t, h, newEvent(t, telemetry.FamilyPaymentProvider, telemetry.TypeProviderRecovered, "stripe", testStart.Add(10*time.Minute), map[string]any{
		"provider": "stripe",
	}))

	_, active := f.deps.Alerts.Active("PROVIDER_DOWN", "stripe")
	assert.False(t, active)

	recovered := f.pub.byType("PROVIDER_RECOVERED")
	require.Len(t, recovered, 1)
	assert.Equal(t, emitter.TopicProviderHealth, recovered[0].topic)

	records := f.mem.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "UP", records[1].Status)
}
