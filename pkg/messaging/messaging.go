// Package messaging defines the broker-facing interfaces the engine
// consumes and publishes through. The kafka subpackage provides the
// production implementation; tests supply in-memory fakes.
package messaging

import (
	"context"
	"time"
)

// Message is a record fetched from or published to the log.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
}

// Publisher writes messages to topics. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, headers map[string]string, body []byte) error
	Close() error
}

// Fetcher reads messages from a consumer-group subscription. Fetch blocks
// until a record is available or the context is cancelled; Commit
// acknowledges the record's offset.
type Fetcher interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

// FetcherFactory opens a group subscription over the given topics. The
// runtime uses it to build one fetcher per subscription, covering the base
// topic and its retry levels.
type FetcherFactory func(groupID string, topics ...string) (Fetcher, error)
