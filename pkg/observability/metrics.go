package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxInstruments caps the number of distinct metric instruments to
// protect the registry against label-name typos creating unbounded series.
const DefaultMaxInstruments = 1000

// Metrics is the engine's metrics registry: named counters, gauges, timers
// and distribution summaries with label sets. Summaries estimate the
// 0.5/0.9/0.95/0.99 percentiles.
type Metrics interface {
	IncCounter(name string, labels ...string)
	AddCounter(name string, v float64, labels ...string)
	SetGauge(name string, v float64, labels ...string)
	ObserveSummary(name string, v float64, labels ...string)
	// Timer returns a stop function that observes the elapsed duration in
	// seconds on the named summary.
	Timer(name string, labels ...string) func()
}

type promMetrics struct {
	registry       *prometheus.Registry
	namespace      string
	mu             sync.RWMutex
	counters       map[string]*prometheus.CounterVec
	gauges         map[string]*prometheus.GaugeVec
	summaries      map[string]*prometheus.SummaryVec
	maxInstruments int
}

// MetricsOption configures the prometheus-backed registry.
type MetricsOption func(*promMetrics)

// WithNamespace sets the metric namespace prefix.
func WithNamespace(namespace string) MetricsOption {
	return func(m *promMetrics) {
		m.namespace = namespace
	}
}

// WithMaxInstruments overrides the instrument cap.
func WithMaxInstruments(max int) MetricsOption {
	return func(m *promMetrics) {
		m.maxInstruments = max
	}
}

// NewMetrics creates a prometheus-backed metrics registry. The underlying
// *prometheus.Registry is returned so the admin surface can expose it.
func NewMetrics(opts ...MetricsOption) (Metrics, *prometheus.Registry) {
	m := &promMetrics{
		registry:       prometheus.NewRegistry(),
		counters:       make(map[string]*prometheus.CounterVec),
		gauges:         make(map[string]*prometheus.GaugeVec),
		summaries:      make(map[string]*prometheus.SummaryVec),
		maxInstruments: DefaultMaxInstruments,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, m.registry
}

func (m *promMetrics) IncCounter(name string, labels ...string) {
	m.AddCounter(name, 1, labels...)
}

func (m *promMetrics) AddCounter(name string, v float64, labels ...string) {
	names, values := splitLabels(labels)
	vec := m.counter(name, names)
	if vec == nil {
		return
	}
	c, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return
	}
	c.Add(v)
}

func (m *promMetrics) SetGauge(name string, v float64, labels ...string) {
	names, values := splitLabels(labels)
	vec := m.gauge(name, names)
	if vec == nil {
		return
	}
	g, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return
	}
	g.Set(v)
}

func (m *promMetrics) ObserveSummary(name string, v float64, labels ...string) {
	names, values := splitLabels(labels)
	vec := m.summary(name, names)
	if vec == nil {
		return
	}
	s, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return
	}
	s.Observe(v)
}

func (m *promMetrics) Timer(name string, labels ...string) func() {
	start := time.Now()
	return func() {
		m.ObserveSummary(name, time.Since(start).Seconds(), labels...)
	}
}

func (m *promMetrics) counter(name string, labelNames []string) *prometheus.CounterVec {
	key := instrumentKey(name, labelNames)

	m.mu.RLock()
	vec, ok := m.counters[key]
	m.mu.RUnlock()
	if ok {
		return vec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if vec, ok := m.counters[key]; ok {
		return vec
	}
	if m.instrumentCountLocked() >= m.maxInstruments {
		return nil
	}
	vec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      name,
	}, labelNames)
	if err := m.registry.Register(vec); err != nil {
		return nil
	}
	m.counters[key] = vec
	return vec
}

func (m *promMetrics) gauge(name string, labelNames []string) *prometheus.GaugeVec {
	key := instrumentKey(name, labelNames)

	m.mu.RLock()
	vec, ok := m.gauges[key]
	m.mu.RUnlock()
	if ok {
		return vec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if vec, ok := m.gauges[key]; ok {
		return vec
	}
	if m.instrumentCountLocked() >= m.maxInstruments {
		return nil
	}
	vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      name,
	}, labelNames)
	if err := m.registry.Register(vec); err != nil {
		return nil
	}
	m.gauges[key] = vec
	return vec
}

func (m *promMetrics) summary(name string, labelNames []string) *prometheus.SummaryVec {
	key := instrumentKey(name, labelNames)

	m.mu.RLock()
	vec, ok := m.summaries[key]
	m.mu.RUnlock()
	if ok {
		return vec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if vec, ok := m.summaries[key]; ok {
		return vec
	}
	if m.instrumentCountLocked() >= m.maxInstruments {
		return nil
	}
	vec = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: m.namespace,
		Name:      name,
		Objectives: map[float64]float64{
			0.5:  0.05,
			0.9:  0.01,
			0.95: 0.01,
			0.99: 0.001,
		},
		MaxAge: 10 * time.Minute,
	}, labelNames)
	if err := m.registry.Register(vec); err != nil {
		return nil
	}
	m.summaries[key] = vec
	return vec
}

func (m *promMetrics) instrumentCountLocked() int {
	return len(m.counters) + len(m.gauges) + len(m.summaries)
}

// splitLabels converts alternating key/value pairs into label names and
// values. A trailing key without a value is dropped.
func splitLabels(labels []string) ([]string, []string) {
	n := len(labels) / 2
	names := make([]string, 0, n)
	values := make([]string, 0, n)
	for i := 0; i+1 < len(labels); i += 2 {
		names = append(names, labels[i])
		values = append(values, labels[i+1])
	}
	return names, values
}

func instrumentKey(name string, labelNames []string) string {
	sorted := make([]string, len(labelNames))
	copy(sorted, labelNames)
	sort.Strings(sorted)
	return fmt.Sprintf("%s{%v}", name, sorted)
}
