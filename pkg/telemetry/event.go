package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMalformed marks a record whose body is not a valid envelope.
	ErrMalformed = errors.New("malformed event")

	// ErrValidation marks an envelope missing required fields.
	ErrValidation = errors.New("event validation failed")
)

// Event is the immutable envelope every producer publishes. Payload stays
// raw; family handlers parse it into their typed variants.
type Event struct {
	Family        Family          `json:"family"`
	Type          string          `json:"eventType"`
	EntityID      string          `json:"entityId"`
	Timestamp     time.Time       `json:"timestamp"`
	Partition     int             `json:"-"`
	Offset        int64           `json:"-"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Key uniquely identifies the event for idempotency purposes.
func (e *Event) Key() string {
	return fmt.Sprintf("%s:%s:%d", e.EntityID, e.Type, e.Timestamp.UnixNano())
}

// envelope is the wire shape. Timestamp accepts both RFC3339 strings and
// epoch milliseconds.
type envelope struct {
	EventType     string          `json:"eventType"`
	EntityID      string          `json:"entityId"`
	Timestamp     json.RawMessage `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

// Parse decodes a raw record from the given topic position into an Event.
// Decode failures wrap ErrMalformed; missing required fields wrap
// ErrValidation.
func Parse(family Family, partition int, offset int64, body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var missing []string
	if env.EntityID == "" {
		missing = append(missing, "entityId")
	}
	if env.EventType == "" {
		missing = append(missing, "eventType")
	}
	if len(env.Timestamp) == 0 {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %v", ErrValidation, missing)
	}

	ts, err := parseTimestamp(env.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrValidation, err)
	}

	evt := &Event{
		Family:        family,
		Type:          env.EventType,
		EntityID:      env.EntityID,
		Timestamp:     ts,
		Partition:     partition,
		Offset:        offset,
		CorrelationID: env.CorrelationID,
		Payload:       env.Payload,
	}
	if evt.CorrelationID == "" {
		evt.CorrelationID = ConsumerCorrelationID(family, env.EntityID, partition, offset)
	}
	return evt, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return t, nil
	}

	var millis int64
	if err := json.Unmarshal(raw, &millis); err != nil {
		return time.Time{}, fmt.Errorf("neither RFC3339 nor epoch millis: %s", raw)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// ParsePayload decodes the event payload into the family-specific variant.
func ParsePayload[T any](e *Event) (T, error) {
	var out T
	if len(e.Payload) == 0 {
		return out, fmt.Errorf("%w: empty payload", ErrValidation)
	}
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: payload: %v", ErrValidation, err)
	}
	return out, nil
}

// ConsumerCorrelationID builds the correlation id for consumer-originated
// effects: <family>-<entityId>-p<partition>-o<offset>.
func ConsumerCorrelationID(family Family, entityID string, partition int, offset int64) string {
	return fmt.Sprintf("%s-%s-p%d-o%d", family, entityID, partition, offset)
}

// SchedulerCorrelationID builds a fresh correlation id for effects that
// originate from a scheduled task rather than a consumed record.
func SchedulerCorrelationID() string {
	return uuid.NewString()
}
