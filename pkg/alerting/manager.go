package alerting

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/messaging"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
)

const (
	// MirrorTopic receives a copy of every raised or resolved alert for
	// dashboards.
	MirrorTopic = "monitoring.alerts"

	// DefaultCriticalCooldown suppresses re-raises of CRITICAL alerts.
	DefaultCriticalCooldown = 5 * time.Minute

	// DefaultCooldown suppresses re-raises of lower-severity alerts.
	DefaultCooldown = 15 * time.Minute
)

// Notifier delivers an alert on one outbound channel. Implementations wrap
// the external email/SMS/chat/paging services and must not be retried from
// here; a failed channel is logged and skipped to avoid alert loops.
type Notifier interface {
	Notify(ctx context.Context, channel Channel, alert Alert) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, channel Channel, alert Alert) error

func (f NotifierFunc) Notify(ctx context.Context, channel Channel, alert Alert) error {
	return f(ctx, channel, alert)
}

type alertKey struct {
	typ    string
	entity string
}

// Manager owns alert state: active alerts, cooldowns, channel routing and
// the dashboard mirror.
type Manager struct {
	mu         sync.Mutex
	active     map[alertKey]*Alert
	lastRaised map[alertKey]time.Time

	notifier  Notifier
	publisher messaging.Publisher
	o11y      observability.Observability
	clock     clock.Clock

	criticalCooldown time.Duration
	defaultCooldown  time.Duration
}

// Option configures the manager.
type Option func(*Manager)

// WithCooldowns overrides the critical and default cooldown windows.
func WithCooldowns(critical, standard time.Duration) Option {
	return func(m *Manager) {
		m.criticalCooldown = critical
		m.defaultCooldown = standard
	}
}

// New creates an alert manager.
func New(notifier Notifier, publisher messaging.Publisher, o11y observability.Observability, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		active:           make(map[alertKey]*Alert),
		lastRaised:       make(map[alertKey]time.Time),
		notifier:         notifier,
		publisher:        publisher,
		o11y:             o11y,
		clock:            clk,
		criticalCooldown: DefaultCriticalCooldown,
		defaultCooldown:  DefaultCooldown,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) cooldownFor(sev Severity) time.Duration {
	if sev == SeverityCritical {
		return m.criticalCooldown
	}
	return m.defaultCooldown
}

// Raise creates and routes an alert. Returns (nil, false) when suppressed by
// an active alert of the same (type, entity) still in its cooldown window.
func (m *Manager) Raise(ctx context.Context, typ, entity string, sev Severity, message, correlationID string, metadata map[string]string) (*Alert, bool) {
	now := m.clock.Now()
	key := alertKey{typ: typ, entity: entity}

	m.mu.Lock()
	if last, ok := m.lastRaised[key]; ok && now.Sub(last) < m.cooldownFor(sev) {
		m.mu.Unlock()
		m.o11y.Metrics().IncCounter("alerts_suppressed_total", "type", typ)
		return nil, false
	}

	alert := &Alert{
		ID:            newAlertID(),
		Type:          typ,
		Severity:      sev,
		Entity:        entity,
		Message:       message,
		CorrelationID: correlationID,
		RaisedAt:      now,
		CooldownUntil: now.Add(m.cooldownFor(sev)),
		Metadata:      metadata,
	}
	m.active[key] = alert
	m.lastRaised[key] = now
	m.mu.Unlock()

	m.o11y.Metrics().IncCounter("alerts_raised_total", "type", typ, "severity", string(sev))
	m.o11y.Logger().Warn(ctx, "alert raised",
		observability.String("alert_id", alert.ID),
		observability.String("type", typ),
		observability.String("entity", entity),
		observability.String("severity", string(sev)))

	m.deliver(ctx, *alert)
	m.mirror(ctx, *alert, "RAISED")
	return alert, true
}

// Resolve clears the active alert for (type, entity). The cooldown window
// keeps suppressing redundant re-raises. Returns false when no alert was
// active.
func (m *Manager) Resolve(ctx context.Context, typ, entity, message string) bool {
	key := alertKey{typ: typ, entity: entity}
	now := m.clock.Now()

	m.mu.Lock()
	alert, ok := m.active[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.active, key)
	resolved := *alert
	resolved.ResolvedAt = &now
	if message != "" {
		resolved.Message = message
	}
	m.mu.Unlock()

	m.o11y.Metrics().IncCounter("alerts_resolved_total", "type", typ)
	m.o11y.Logger().Info(ctx, "alert resolved",
		observability.String("alert_id", resolved.ID),
		observability.String("type", typ),
		observability.String("entity", entity))

	m.mirror(ctx, resolved, "RESOLVED")
	return true
}

// Active returns a copy of the active alert for (type, entity).
func (m *Manager) Active(typ, entity string) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if alert, ok := m.active[alertKey{typ: typ, entity: entity}]; ok {
		return *alert, true
	}
	return Alert{}, false
}

// ActiveCount returns the number of currently active alerts.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// deliver fans the alert out to the channels its severity selects. Channel
// failures are logged, never retried: alerts raised during error handling
// must not loop.
func (m *Manager) deliver(ctx context.Context, alert Alert) {
	if m.notifier == nil {
		return
	}
	for _, channel := range channelsFor(alert.Severity) {
		if err := m.notifier.Notify(ctx, channel, alert); err != nil {
			m.o11y.Metrics().IncCounter("alert_channel_failures_total", "channel", string(channel))
			m.o11y.Logger().Error(ctx, "alert channel delivery failed",
				observability.String("channel", string(channel)),
				observability.String("alert_id", alert.ID),
				observability.Error(err))
		}
	}
}

func (m *Manager) mirror(ctx context.Context, alert Alert, status string) {
	if m.publisher == nil {
		return
	}
	body, err := json.Marshal(struct {
		Alert
		Status string `json:"status"`
	}{Alert: alert, Status: status})
	if err != nil {
		return
	}
	if err := m.publisher.Publish(ctx, MirrorTopic, alert.Entity, map[string]string{
		"alert_type": alert.Type,
		"severity":   string(alert.Severity),
	}, body); err != nil {
		m.o11y.Logger().Error(ctx, "failed to mirror alert",
			observability.String("alert_id", alert.ID),
			observability.Error(err))
	}
}
