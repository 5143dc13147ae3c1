// Package emitter publishes follow-on control events to downstream topics.
// Handlers stage emissions on a transactional outbox; the runtime flushes
// it only after the store transaction commits.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/messaging"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
)

// Derived is one follow-on event. Every emission carries the originating
// entity, a correlation id and a timestamp.
type Derived struct {
	Topic         string
	Type          string
	EntityID      string
	CorrelationID string
	Timestamp     time.Time
	Payload       map[string]any
}

// Emitter serializes and publishes derived events.
type Emitter struct {
	publisher messaging.Publisher
	o11y      observability.Observability
	clock     clock.Clock
}

// New creates an emitter.
func New(publisher messaging.Publisher, o11y observability.Observability, clk clock.Clock) *Emitter {
	return &Emitter{publisher: publisher, o11y: o11y, clock: clk}
}

// Emit publishes one derived event immediately. Scheduler-originated
// emissions use this directly; handler-originated ones go through an Outbox.
func (e *Emitter) Emit(ctx context.Context, d Derived) error {
	if d.Topic == "" {
		return fmt.Errorf("derived event requires a topic")
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = e.clock.Now()
	}

	doc := make(map[string]any, len(d.Payload)+3)
	for k, v := range d.Payload {
		doc[k] = v
	}
	doc["eventType"] = d.Type
	doc["entityId"] = d.EntityID
	doc["correlationId"] = d.CorrelationID
	doc["timestamp"] = d.Timestamp.UTC().Format(time.RFC3339Nano)

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal derived event: %w", err)
	}

	if err := e.publisher.Publish(ctx, d.Topic, d.EntityID, map[string]string{
		"event_type":     d.Type,
		"correlation_id": d.CorrelationID,
	}, body); err != nil {
		return fmt.Errorf("emit %s to %s: %w", d.Type, d.Topic, err)
	}

	e.o11y.Metrics().IncCounter("derived_events_total", "topic", d.Topic, "type", d.Type)
	return nil
}

// Outbox accumulates emissions during one handler invocation and makes them
// visible only when the enclosing transaction commits.
type Outbox struct {
	mu      sync.Mutex
	staged  []Derived
	emitter *Emitter
}

// NewOutbox creates an outbox bound to the emitter.
func (e *Emitter) NewOutbox() *Outbox {
	return &Outbox{emitter: e}
}

// Stage buffers a derived event until Flush.
func (o *Outbox) Stage(d Derived) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.staged = append(o.staged, d)
}

// Len returns the number of staged emissions.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.staged)
}

// Flush publishes all staged emissions in order. On the first failure the
// remaining events stay staged so the caller can retry the flush.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for len(o.staged) > 0 {
		if err := o.emitter.Emit(ctx, o.staged[0]); err != nil {
			return err
		}
		o.staged = o.staged[1:]
	}
	return nil
}

// Discard drops all staged emissions. Called on transaction rollback.
func (o *Outbox) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.staged = nil
}
