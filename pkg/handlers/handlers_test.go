package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/baseline"
	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/depgraph"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/ml"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
	"github.com/sentinelops/telemetry-engine/pkg/threshold"
	"github.com/sentinelops/telemetry-engine/pkg/window"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type published struct {
	topic string
	key   string
	typ   string
	body  map[string]any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, headers map[string]string, body []byte) error {
	doc := make(map[string]any)
	if err := json.Unmarshal(body, &doc); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, key: key, typ: headers["event_type"], body: doc})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) byType(typ string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, msg := range p.sent {
		if msg.typ == typ {
			out = append(out, msg)
		}
	}
	return out
}

type notification struct {
	channel alerting.Channel
	alert   alerting.Alert
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notification
}

func (r *recordingNotifier) Notify(_ context.Context, channel alerting.Channel, alert alerting.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notification{channel: channel, alert: alert})
	return nil
}

func (r *recordingNotifier) channelsFor(typ string) []alerting.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alerting.Channel
	for _, n := range r.notes {
		if n.alert.Type == typ {
			out = append(out, n.channel)
		}
	}
	return out
}

type fixture struct {
	deps  *Deps
	clk   *clock.Fake
	mem   *storage.Memory
	pub   *fakePublisher
	em    *emitter.Emitter
	notes *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(testStart)
	o11y := observability.New()
	pub := &fakePublisher{}
	notes := &recordingNotifier{}
	mem := storage.NewMemory()

	deps := &Deps{
		Windows:    window.New(clk),
		Baselines:  baseline.New(),
		Thresholds: threshold.New(),
		Graph:      depgraph.New(),
		Alerts:     alerting.New(notes, nil, o11y, clk),
		Store:      mem,
		Sessions:   NewSessionStore(clk),
		Retrain:    ml.NewFlagSet(),
		Clock:      clk,
		O11y:       o11y,
		SLA:        SLAConfig{ResponseTimeMS: 500, AvailabilityPercent: 99.9, ErrorRatePercent: 1},
	}
	return &fixture{
		deps:  deps,
		clk:   clk,
		mem:   mem,
		pub:   pub,
		em:    emitter.New(pub, o11y, clk),
		notes: notes,
	}
}

func (f *fixture) scope() *runtime.Scope {
	return &runtime.Scope{Outbox: f.em.NewOutbox()}
}

// handle runs one event through the handler and flushes the outbox the way
// the consumer does after commit.
func (f *fixture) handle(t *testing.T, h runtime.Handler, evt *telemetry.Event) {
	t.Helper()
	scope := f.scope()
	require.NoError(t, h.Handle(context.Background(), scope, evt))
	require.NoError(t, scope.Outbox.Flush(context.Background()))
}

func newEvent(t *testing.T, family telemetry.Family, typ, entity string, at time.Time, payload map[string]any) *telemetry.Event {
	t.Helper()
	evt := &telemetry.Event{
		Family:        family,
		Type:          typ,
		EntityID:      entity,
		Timestamp:     at,
		CorrelationID: "corr-test",
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		evt.Payload = body
	}
	return evt
}
