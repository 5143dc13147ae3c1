package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
)

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []delivery
}

type delivery struct {
	channel Channel
	alert   Alert
}

func (n *recordingNotifier) Notify(_ context.Context, channel Channel, alert Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, delivery{channel: channel, alert: alert})
	return nil
}

func (n *recordingNotifier) channels() []Channel {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Channel, len(n.deliveries))
	for i, d := range n.deliveries {
		out[i] = d.channel
	}
	return out
}

func newTestManager(opts ...Option) (*Manager, *recordingNotifier, *clock.Fake) {
	notifier := &recordingNotifier{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New(notifier, nil, observability.New(), clk, opts...)
	return m, notifier, clk
}

func TestRaiseRoutesBySeverity(t *testing.T) {
	m, notifier, _ := newTestManager()
	ctx := context.Background()

	_, raised := m.Raise(ctx, "CAPACITY_EXHAUSTION", "srv-1", SeverityCritical, "disk full in 12h", "c1", nil)
	require.True(t, raised)
	assert.ElementsMatch(t,
		[]Channel{ChannelChat, ChannelEmail, ChannelSMS, ChannelPaging},
		notifier.channels())
}

func TestWarningSkipsPaging(t *testing.T) {
	m, notifier, _ := newTestManager()

	_, raised := m.Raise(context.Background(), "SLOW_PAGE_LOAD", "page-1", SeverityWarning, "", "c1", nil)
	require.True(t, raised)
	assert.ElementsMatch(t, []Channel{ChannelChat, ChannelEmail}, notifier.channels())
}

func TestCooldownSuppressesReRaise(t *testing.T) {
	m, notifier, clk := newTestManager(WithCooldowns(5*time.Minute, 15*time.Minute))
	ctx := context.Background()

	_, raised := m.Raise(ctx, "CPU", "srv-1", SeverityCritical, "", "c1", nil)
	require.True(t, raised)

	clk.Advance(time.Minute)
	_, raised = m.Raise(ctx, "CPU", "srv-1", SeverityCritical, "", "c2", nil)
	assert.False(t, raised)
	assert.Len(t, notifier.channels(), 4)

	clk.Advance(5 * time.Minute)
	_, raised = m.Raise(ctx, "CPU", "srv-1", SeverityCritical, "", "c3", nil)
	assert.True(t, raised)
}

func TestCooldownIsPerTypeAndEntity(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	_, raised := m.Raise(ctx, "CPU", "srv-1", SeverityWarning, "", "c1", nil)
	require.True(t, raised)

	_, raised = m.Raise(ctx, "CPU", "srv-2", SeverityWarning, "", "c2", nil)
	assert.True(t, raised)
	_, raised = m.Raise(ctx, "MEMORY", "srv-1", SeverityWarning, "", "c3", nil)
	assert.True(t, raised)
}

func TestResolve(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	m.Raise(ctx, "CPU", "srv-1", SeverityWarning, "cpu high", "c1", nil)
	require.Equal(t, 1, m.ActiveCount())

	assert.True(t, m.Resolve(ctx, "CPU", "srv-1", "cpu back to normal"))
	assert.Equal(t, 0, m.ActiveCount())

	// Nothing left to resolve.
	assert.False(t, m.Resolve(ctx, "CPU", "srv-1", ""))
}

func TestActiveSnapshot(t *testing.T) {
	m, _, _ := newTestManager()

	raised, ok := m.Raise(context.Background(), "CPU", "srv-1", SeverityHigh, "msg", "c1",
		map[string]string{"region": "eu"})
	require.True(t, ok)
	require.NotNil(t, raised)

	active, found := m.Active("CPU", "srv-1")
	require.True(t, found)
	assert.Equal(t, raised.ID, active.ID)
	assert.Equal(t, SeverityHigh, active.Severity)
	assert.Equal(t, "eu", active.Metadata["region"])
}
