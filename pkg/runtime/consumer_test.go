package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/idempotency"
	"github.com/sentinelops/telemetry-engine/pkg/messaging"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

const testTopic = "user-experience-events"

type stubHandler struct {
	family telemetry.Family
	mu     sync.Mutex
	calls  int
	fn     func(ctx context.Context, scope *Scope, evt *telemetry.Event) error
}

func (h *stubHandler) Family() telemetry.Family { return h.family }

func (h *stubHandler) Handle(ctx context.Context, scope *Scope, evt *telemetry.Event) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fn != nil {
		return h.fn(ctx, scope, evt)
	}
	return nil
}

func (h *stubHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fakeFetcher struct {
	mu        sync.Mutex
	msgs      chan messaging.Message
	committed []messaging.Message
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{msgs: make(chan messaging.Message, 64)}
}

func (f *fakeFetcher) Fetch(ctx context.Context) (messaging.Message, error) {
	select {
	case msg := <-f.msgs:
		return msg, nil
	case <-ctx.Done():
		return messaging.Message{}, ctx.Err()
	}
}

func (f *fakeFetcher) Commit(_ context.Context, msg messaging.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msg)
	return nil
}

func (f *fakeFetcher) Close() error { return nil }

func (f *fakeFetcher) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type sentMessage struct {
	topic   string
	key     string
	headers map[string]string
	value   []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, headers map[string]string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentMessage{topic: topic, key: key, headers: headers, value: body})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) byTopic(topic string) []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sentMessage
	for _, msg := range p.sent {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// alwaysClaimStore grants every event-key claim. The passthrough unit of
// work cannot roll a claim back after a failed attempt, which would make
// the retry of a failed handler look like a duplicate.
type alwaysClaimStore struct{ *storage.Memory }

func (s alwaysClaimStore) InsertEventKey(context.Context, storage.DBTX, string, time.Time) (bool, error) {
	return true, nil
}

func newTestConsumer(t *testing.T, h Handler) (*consumer, *fakeFetcher, *fakePublisher, *storage.Memory) {
	t.Helper()
	fetcher := newFakeFetcher()
	pub := &fakePublisher{}
	mem := storage.NewMemory()
	clk := clock.NewReal()
	o11y := observability.New()

	rt, err := New(Config{
		FetcherFactory: func(string, ...string) (messaging.Fetcher, error) { return fetcher, nil },
		Publisher:      pub,
		UnitOfWork:     storage.NewPassthroughUnitOfWork(),
		Store:          alwaysClaimStore{mem},
		Emitter:        emitter.New(pub, o11y, clk),
		Cache:          idempotency.New(clk),
		Observability:  o11y,
		Clock:          clk,
	}, Subscription{
		Topic:       testTopic,
		GroupID:     "engine.user_experience",
		Concurrency: 2,
		Family:      telemetry.FamilyUserExperience,
		Handler:     h,
		Enabled:     true,
	})
	require.NoError(t, err)

	c := rt.consumers[0]
	c.fetcher = fetcher
	return c, fetcher, pub, mem
}

func envelopeBody(t *testing.T, entity string, at time.Time) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"eventType": "PAGE_LOAD",
		"entityId":  entity,
		"timestamp": at.Format(time.RFC3339Nano),
		"payload":   map[string]any{"pageId": "/home"},
	})
	require.NoError(t, err)
	return body
}

func record(topic string, partition int, offset int64, body []byte) messaging.Message {
	return messaging.Message{
		Topic:     topic,
		Key:       []byte("sess-1"),
		Value:     body,
		Partition: partition,
		Offset:    offset,
	}
}

func TestDuplicateDeliveryIsProcessedOnce(t *testing.T) {
	h := &stubHandler{family: telemetry.FamilyUserExperience}
	c, fetcher, pub, _ := newTestConsumer(t, h)
	ctx := context.Background()

	body := envelopeBody(t, "sess-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.process(ctx, record(testTopic, 0, 7, body))

	// The broker redelivers the same record after a rebalance.
	c.process(ctx, record(testTopic, 0, 7, body))

	assert.Equal(t, 1, h.callCount())
	assert.Equal(t, 2, fetcher.commits())
	assert.Empty(t, pub.byTopic(DLTTopic(testTopic)))
}

func TestMalformedRecordIsDeadLettered(t *testing.T) {
	h := &stubHandler{family: telemetry.FamilyUserExperience}
	c, fetcher, pub, _ := newTestConsumer(t, h)

	raw := []byte(`{"eventType": "PAGE_LOAD",`)
	c.process(context.Background(), record(testTopic, 0, 1, raw))

	dlt := pub.byTopic(DLTTopic(testTopic))
	require.Len(t, dlt, 1)
	assert.Equal(t, ReasonInvalidFormat, dlt[0].headers[headerReason])
	assert.Equal(t, raw, dlt[0].value)
	assert.Equal(t, 1, fetcher.commits())
	assert.Zero(t, h.callCount())
}

func TestIncompleteEnvelopeIsDeadLetteredAsValidationFailure(t *testing.T) {
	h := &stubHandler{family: telemetry.FamilyUserExperience}
	c, fetcher, pub, _ := newTestConsumer(t, h)

	c.process(context.Background(), record(testTopic, 0, 1, []byte(`{"eventType":"PAGE_LOAD"}`)))

	dlt := pub.byTopic(DLTTopic(testTopic))
	require.Len(t, dlt, 1)
	assert.Equal(t, ReasonValidationFailure, dlt[0].headers[headerReason])
	assert.Equal(t, 1, fetcher.commits())
	assert.Zero(t, h.callCount())
}

func TestPermanentHandlerErrorIsDeadLettered(t *testing.T) {
	h := &stubHandler{
		family: telemetry.FamilyUserExperience,
		fn: func(context.Context, *Scope, *telemetry.Event) error {
			return Permanent(errors.New("record references unknown tenant"))
		},
	}
	c, fetcher, pub, _ := newTestConsumer(t, h)

	body := envelopeBody(t, "sess-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.process(context.Background(), record(testTopic, 0, 1, body))

	dlt := pub.byTopic(DLTTopic(testTopic))
	require.Len(t, dlt, 1)
	assert.Equal(t, ReasonPermanentFailure, dlt[0].headers[headerReason])
	assert.Equal(t, 1, fetcher.commits())
	assert.Equal(t, 1, h.callCount())
}

func TestValidationErrorsKeepTheirReason(t *testing.T) {
	h := &stubHandler{
		family: telemetry.FamilyUserExperience,
		fn: func(context.Context, *Scope, *telemetry.Event) error {
			return Permanent(fmt.Errorf("%w: PAGE_LOAD requires pageId", telemetry.ErrValidation))
		},
	}
	c, _, pub, _ := newTestConsumer(t, h)

	body := envelopeBody(t, "sess-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.process(context.Background(), record(testTopic, 0, 1, body))

	dlt := pub.byTopic(DLTTopic(testTopic))
	require.Len(t, dlt, 1)
	assert.Equal(t, ReasonValidationFailure, dlt[0].headers[headerReason])
}

func TestHandlerPanicIsDeadLettered(t *testing.T) {
	h := &stubHandler{
		family: telemetry.FamilyUserExperience,
		fn: func(context.Context, *Scope, *telemetry.Event) error {
			panic("nil map write")
		},
	}
	c, fetcher, pub, _ := newTestConsumer(t, h)

	body := envelopeBody(t, "sess-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.process(context.Background(), record(testTopic, 0, 1, body))

	dlt := pub.byTopic(DLTTopic(testTopic))
	require.Len(t, dlt, 1)
	assert.Equal(t, ReasonPermanentFailure, dlt[0].headers[headerReason])
	assert.Contains(t, dlt[0].headers[headerError], "handler panic")
	assert.Equal(t, 1, fetcher.commits())
}

func TestTransientFailureEscalatesOneRetryLevel(t *testing.T) {
	start := time.Now()
	h := &stubHandler{
		family: telemetry.FamilyUserExperience,
		fn: func(context.Context, *Scope, *telemetry.Event) error {
			return errors.New("store timeout")
		},
	}
	c, fetcher, pub, _ := newTestConsumer(t, h)

	body := envelopeBody(t, "sess-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.process(context.Background(), record(testTopic, 0, 1, body))

	// All in-process attempts burn down before the record escalates.
	assert.Equal(t, inProcessAttempts, h.callCount())

	retried := pub.byTopic(RetryTopic(testTopic, 1))
	require.Len(t, retried, 1)
	assert.Equal(t, "1", retried[0].headers[headerRetryLevel])
	assert.Equal(t, body, retried[0].value)

	readyAt, err := time.Parse(time.RFC3339Nano, retried[0].headers[headerNotBefore])
	require.NoError(t, err)
	assert.True(t, readyAt.After(start))

	assert.Equal(t, 1, fetcher.commits())
	assert.Empty(t, pub.byTopic(DLTTopic(testTopic)))
}

func TestExhaustedRetryLevelsDeadLetter(t *testing.T) {
	h := &stubHandler{
		family: telemetry.FamilyUserExperience,
		fn: func(context.Context, *Scope, *telemetry.Event) error {
			return errors.New("store timeout")
		},
	}
	c, fetcher, pub, _ := newTestConsumer(t, h)

	body := envelopeBody(t, "sess-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.process(context.Background(), record(RetryTopic(testTopic, MaxRetryLevels), 0, 1, body))

	dlt := pub.byTopic(DLTTopic(testTopic))
	require.Len(t, dlt, 1)
	assert.Equal(t, ReasonPermanentFailure, dlt[0].headers[headerReason])
	assert.Equal(t, 1, fetcher.commits())
}

func TestOpenBreakerRoutesToFallback(t *testing.T) {
	h := &stubHandler{family: telemetry.FamilyUserExperience}
	c, fetcher, pub, _ := newTestConsumer(t, h)

	for i := 0; i < breakerWindow; i++ {
		_, _ = c.breaker.Execute(func() (any, error) { return nil, errors.New("boom") })
	}

	body := envelopeBody(t, "sess-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.process(context.Background(), record(testTopic, 0, 1, body))

	fallback := pub.byTopic(FallbackTopic(testTopic))
	require.Len(t, fallback, 1)
	assert.Equal(t, body, fallback[0].value)
	assert.Equal(t, 1, fetcher.commits())
	assert.Zero(t, h.callCount())
}

func TestNotBeforeHeaderDelaysProcessing(t *testing.T) {
	h := &stubHandler{family: telemetry.FamilyUserExperience}
	c, fetcher, _, _ := newTestConsumer(t, h)

	msg := record(testTopic, 0, 1, envelopeBody(t, "sess-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	msg.Headers = map[string]string{
		headerNotBefore: time.Now().Add(150 * time.Millisecond).UTC().Format(time.RFC3339Nano),
	}

	start := time.Now()
	c.process(context.Background(), msg)

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 1, h.callCount())
	assert.Equal(t, 1, fetcher.commits())
}

func TestRuntimeStartProcessesFetchedRecords(t *testing.T) {
	fetcher := newFakeFetcher()
	pub := &fakePublisher{}
	clk := clock.NewReal()
	o11y := observability.New()
	h := &stubHandler{family: telemetry.FamilyUserExperience}

	rt, err := New(Config{
		FetcherFactory: func(string, ...string) (messaging.Fetcher, error) { return fetcher, nil },
		Publisher:      pub,
		UnitOfWork:     storage.NewPassthroughUnitOfWork(),
		Store:          storage.NewMemory(),
		Emitter:        emitter.New(pub, o11y, clk),
		Cache:          idempotency.New(clk),
		Observability:  o11y,
		Clock:          clk,
	}, Subscription{
		Topic:       testTopic,
		GroupID:     "engine.user_experience",
		Concurrency: 2,
		Family:      telemetry.FamilyUserExperience,
		Handler:     h,
		Enabled:     true,
	})
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))

	for offset := int64(0); offset < 4; offset++ {
		fetcher.msgs <- record(testTopic, int(offset)%3, offset,
			envelopeBody(t, fmt.Sprintf("sess-%d", offset), time.Date(2026, 1, 1, 0, 0, int(offset), 0, time.UTC)))
	}

	require.Eventually(t, func() bool { return fetcher.commits() == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, h.callCount())
	assert.Equal(t, "healthy", rt.Health(context.Background()).Status)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))
	assert.Equal(t, "stopped", rt.Health(context.Background()).Status)
	require.NoError(t, rt.Shutdown(ctx))
}

func TestSubscriptionValidate(t *testing.T) {
	h := &stubHandler{family: telemetry.FamilyUserExperience}

	assert.Error(t, Subscription{GroupID: "g", Concurrency: 1, Handler: h}.Validate())
	assert.Error(t, Subscription{Topic: "t", Concurrency: 1, Handler: h}.Validate())
	assert.Error(t, Subscription{Topic: "t", GroupID: "g", Handler: h}.Validate())
	assert.Error(t, Subscription{Topic: "t", GroupID: "g", Concurrency: 1}.Validate())
	assert.NoError(t, Subscription{Topic: "t", GroupID: "g", Concurrency: 1, Handler: h}.Validate())
}

func TestRuntimeRequiresAnEnabledSubscription(t *testing.T) {
	fetcher := newFakeFetcher()
	pub := &fakePublisher{}
	clk := clock.NewReal()
	o11y := observability.New()

	_, err := New(Config{
		FetcherFactory: func(string, ...string) (messaging.Fetcher, error) { return fetcher, nil },
		Publisher:      pub,
		UnitOfWork:     storage.NewPassthroughUnitOfWork(),
		Store:          storage.NewMemory(),
		Emitter:        emitter.New(pub, o11y, clk),
		Cache:          idempotency.New(clk),
		Clock:          clk,
	}, Subscription{
		Topic:       testTopic,
		GroupID:     "g",
		Concurrency: 1,
		Family:      telemetry.FamilyUserExperience,
		Handler:     &stubHandler{family: telemetry.FamilyUserExperience},
		Enabled:     false,
	})
	assert.Error(t, err)
}
