package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMsg
	failNext  int
}

type publishedMsg struct {
	topic   string
	key     string
	headers map[string]string
	body    []byte
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, headers map[string]string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, publishedMsg{topic: topic, key: key, headers: headers, body: body})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newTestEmitter() (*Emitter, *fakePublisher) {
	pub := &fakePublisher{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(pub, observability.New(), clk), pub
}

func TestEmitEnvelope(t *testing.T) {
	e, pub := newTestEmitter()

	err := e.Emit(context.Background(), Derived{
		Topic: "auto-scaling-triggers", Type: "SCALE_UP",
		EntityID: "srv-1", CorrelationID: "corr-1",
		Payload: map[string]any{"reason": "capacity"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, pub.count())

	msg := pub.published[0]
	assert.Equal(t, "auto-scaling-triggers", msg.topic)
	assert.Equal(t, "srv-1", msg.key)
	assert.Equal(t, "SCALE_UP", msg.headers["event_type"])

	var doc map[string]any
	require.NoError(t, json.Unmarshal(msg.body, &doc))
	assert.Equal(t, "SCALE_UP", doc["eventType"])
	assert.Equal(t, "srv-1", doc["entityId"])
	assert.Equal(t, "corr-1", doc["correlationId"])
	assert.Equal(t, "capacity", doc["reason"])
	assert.Equal(t, "2026-01-01T00:00:00Z", doc["timestamp"])
}

func TestEmitRequiresTopic(t *testing.T) {
	e, _ := newTestEmitter()
	err := e.Emit(context.Background(), Derived{Type: "SCALE_UP"})
	assert.Error(t, err)
}

func TestOutboxFlushInOrder(t *testing.T) {
	e, pub := newTestEmitter()
	o := e.NewOutbox()

	o.Stage(Derived{Topic: "t", Type: "FIRST", EntityID: "x"})
	o.Stage(Derived{Topic: "t", Type: "SECOND", EntityID: "x"})
	assert.Equal(t, 2, o.Len())
	assert.Equal(t, 0, pub.count())

	require.NoError(t, o.Flush(context.Background()))
	require.Equal(t, 2, pub.count())
	assert.Equal(t, "FIRST", pub.published[0].headers["event_type"])
	assert.Equal(t, "SECOND", pub.published[1].headers["event_type"])
	assert.Equal(t, 0, o.Len())
}

func TestOutboxFlushKeepsRemainderOnFailure(t *testing.T) {
	e, pub := newTestEmitter()
	o := e.NewOutbox()

	o.Stage(Derived{Topic: "t", Type: "FIRST", EntityID: "x"})
	o.Stage(Derived{Topic: "t", Type: "SECOND", EntityID: "x"})

	pub.failNext = 1
	require.Error(t, o.Flush(context.Background()))
	assert.Equal(t, 2, o.Len())

	// A retried flush delivers everything.
	require.NoError(t, o.Flush(context.Background()))
	assert.Equal(t, 2, pub.count())
	assert.Equal(t, 0, o.Len())
}

func TestOutboxDiscard(t *testing.T) {
	e, pub := newTestEmitter()
	o := e.NewOutbox()

	o.Stage(Derived{Topic: "t", Type: "FIRST", EntityID: "x"})
	o.Discard()

	require.NoError(t, o.Flush(context.Background()))
	assert.Equal(t, 0, pub.count())
}
