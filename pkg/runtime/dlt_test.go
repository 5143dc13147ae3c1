package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/messaging"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
)

func TestDLTConsumerAuditsAndAlerts(t *testing.T) {
	fetcher := newFakeFetcher()
	mem := storage.NewMemory()
	clk := clock.NewReal()
	o11y := observability.New()
	alerts := alerting.New(nil, nil, o11y, clk)

	dlt, err := NewDLTConsumer(
		func(string, ...string) (messaging.Fetcher, error) { return fetcher, nil },
		"engine.dlt", mem, alerts, o11y, clk, testTopic)
	require.NoError(t, err)
	require.NoError(t, dlt.Start(context.Background()))

	topic := DLTTopic(testTopic)
	fetcher.msgs <- messaging.Message{
		Topic:     topic,
		Partition: 2,
		Offset:    41,
		Value:     []byte(`{"eventType": "PAGE_LOAD",`),
		Headers: map[string]string{
			headerReason: ReasonInvalidFormat,
			headerError:  "unexpected end of JSON input",
		},
	}
	// A record without a reason header defaults to PERMANENT_FAILURE.
	fetcher.msgs <- messaging.Message{Topic: topic, Partition: 2, Offset: 42, Value: []byte(`{}`)}

	require.Eventually(t, func() bool { return fetcher.commits() == 2 }, 5*time.Second, 10*time.Millisecond)

	audits := mem.Audits()
	require.Len(t, audits, 2)
	assert.Equal(t, ReasonInvalidFormat, audits[0].Reason)
	assert.Equal(t, "unexpected end of JSON input", audits[0].Error)
	assert.Equal(t, int64(41), audits[0].Offset)
	assert.Equal(t, ReasonPermanentFailure, audits[1].Reason)

	alert, active := alerts.Active("DLT_EVENT", topic)
	require.True(t, active)
	assert.Equal(t, alerting.SeverityCritical, alert.Severity)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, dlt.Shutdown(ctx))
	require.NoError(t, dlt.Shutdown(ctx))
}

func TestDLTConsumerRequiresTopics(t *testing.T) {
	_, err := NewDLTConsumer(
		func(string, ...string) (messaging.Fetcher, error) { return newFakeFetcher(), nil },
		"engine.dlt", storage.NewMemory(), nil, observability.New(), clock.NewReal())
	assert.Error(t, err)
}
