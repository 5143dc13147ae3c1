// Package kafka implements the messaging interfaces on segmentio/kafka-go.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sentinelops/telemetry-engine/pkg/messaging"
)

// Config holds broker connection settings.
type Config struct {
	Brokers  []string
	ClientID string

	// Consumer tuning.
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	// Producer tuning.
	BatchTimeout time.Duration
}

// DefaultConfig returns conservative connection defaults.
func DefaultConfig(brokers []string) Config {
	return Config{
		Brokers:      brokers,
		ClientID:     "telemetry-engine",
		MinBytes:     1,
		MaxBytes:     10 << 20,
		MaxWait:      500 * time.Millisecond,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	return nil
}

type publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a kafka-backed publisher. Topics are addressed per
// message; keys hash to partitions so per-entity ordering holds downstream.
func NewPublisher(cfg Config) (messaging.Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (p *publisher) Publish(ctx context.Context, topic, key string, headers map[string]string, body []byte) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: toKafkaHeaders(headers),
		Time:    time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *publisher) Close() error {
	return p.writer.Close()
}

type fetcher struct {
	reader *kafka.Reader
}

// NewFetcherFactory returns a factory opening one group reader per
// subscription.
func NewFetcherFactory(cfg Config) messaging.FetcherFactory {
	return func(groupID string, topics ...string) (messaging.Fetcher, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if groupID == "" {
			return nil, fmt.Errorf("group id is required")
		}
		if len(topics) == 0 {
			return nil, fmt.Errorf("at least one topic is required")
		}
		return &fetcher{
			reader: kafka.NewReader(kafka.ReaderConfig{
				Brokers:     cfg.Brokers,
				GroupID:     groupID,
				GroupTopics: topics,
				MinBytes:    cfg.MinBytes,
				MaxBytes:    cfg.MaxBytes,
				MaxWait:     cfg.MaxWait,
				StartOffset: kafka.FirstOffset,
			}),
		}, nil
	}
}

func (f *fetcher) Fetch(ctx context.Context) (messaging.Message, error) {
	msg, err := f.reader.FetchMessage(ctx)
	if err != nil {
		return messaging.Message{}, err
	}
	return messaging.Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   fromKafkaHeaders(msg.Headers),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}, nil
}

func (f *fetcher) Commit(ctx context.Context, msg messaging.Message) error {
	return f.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

func (f *fetcher) Close() error {
	return f.reader.Close()
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaHeaders(headers []kafka.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
