// Package observability provides the logging and metrics facade carried by
// every component of the engine. Only this facade is injected into
// application layers; the concrete providers (zap, prometheus) live behind it.
package observability

import "time"

// Observability is the facade handed to every engine component.
type Observability interface {
	Logger() Logger
	Metrics() Metrics
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field.
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Error creates an error field.
func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with any value type.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type observability struct {
	logger  Logger
	metrics Metrics
}

// Option configures the observability facade.
type Option func(*observability)

// WithLogger sets the logger implementation.
func WithLogger(logger Logger) Option {
	return func(o *observability) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics implementation.
func WithMetrics(metrics Metrics) Option {
	return func(o *observability) {
		o.metrics = metrics
	}
}

// New builds an Observability facade. Components left unset fall back to
// no-op implementations so tests can supply only what they assert on.
func New(opts ...Option) Observability {
	o := &observability{
		logger:  NewNoopLogger(),
		metrics: NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *observability) Logger() Logger   { return o.logger }
func (o *observability) Metrics() Metrics { return o.metrics }
