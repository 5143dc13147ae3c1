package observability

import "context"

type noopLogger struct{}

// NewNoopLogger returns a logger that discards everything. Used in tests and
// as the default when no logger is configured.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (noopLogger) Error(ctx context.Context, msg string, fields ...Field) {}
func (n noopLogger) With(fields ...Field) Logger                          { return n }

type noopMetrics struct{}

// NewNoopMetrics returns a metrics registry that discards everything.
func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

func (noopMetrics) IncCounter(name string, labels ...string)                {}
func (noopMetrics) AddCounter(name string, v float64, labels ...string)     {}
func (noopMetrics) SetGauge(name string, v float64, labels ...string)       {}
func (noopMetrics) ObserveSummary(name string, v float64, labels ...string) {}
func (noopMetrics) Timer(name string, labels ...string) func()              { return func() {} }
