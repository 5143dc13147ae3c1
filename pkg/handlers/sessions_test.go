package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
)

func TestRageClickStreak(t *testing.T) {
	st := NewSessionStore(clock.NewFake(testStart))

	assert.False(t, st.RecordClick("s1", "#buy", testStart))
	assert.False(t, st.RecordClick("s1", "#buy", testStart.Add(400*time.Millisecond)))
	assert.True(t, st.RecordClick("s1", "#buy", testStart.Add(800*time.Millisecond)))

	// The streak resets after firing; the next click starts over.
	assert.False(t, st.RecordClick("s1", "#buy", testStart.Add(900*time.Millisecond)))

	sessions := st.Snapshot()
	require.Len(t, sessions, 1)
	assert.Equal(t, 4, sessions[0].Clicks)
	assert.Equal(t, 1, sessions[0].RageClicks)
	assert.Equal(t, 1, sessions[0].FrustrationSignals)
}

func TestSlowClicksAreNotRage(t *testing.T) {
	st := NewSessionStore(clock.NewFake(testStart))

	assert.False(t, st.RecordClick("s1", "#buy", testStart))
	assert.False(t, st.RecordClick("s1", "#buy", testStart.Add(2*time.Second)))
	assert.False(t, st.RecordClick("s1", "#buy", testStart.Add(4*time.Second)))

	sessions := st.Snapshot()
	require.Len(t, sessions, 1)
	assert.Zero(t, sessions[0].RageClicks)
}

func TestSwitchingElementsResetsStreak(t *testing.T) {
	st := NewSessionStore(clock.NewFake(testStart))

	assert.False(t, st.RecordClick("s1", "#buy", testStart))
	assert.False(t, st.RecordClick("s1", "#cancel", testStart.Add(100*time.Millisecond)))
	assert.False(t, st.RecordClick("s1", "#buy", testStart.Add(200*time.Millisecond)))

	sessions := st.Snapshot()
	require.Len(t, sessions, 1)
	assert.Zero(t, sessions[0].RageClicks)
}

func TestInterestingSessions(t *testing.T) {
	st := NewSessionStore(clock.NewFake(testStart))

	// Heavy clicker: over the replay floor, spaced out to avoid rage.
	for i := 0; i <= ReplayClickFloor; i++ {
		st.RecordClick("heavy", "#item", testStart.Add(time.Duration(2*i)*time.Second))
	}
	// One rage click is enough on its own.
	for i := 0; i < 3; i++ {
		st.RecordClick("angry", "#submit", testStart.Add(time.Duration(i*100)*time.Millisecond))
	}
	st.RecordClick("calm", "#home", testStart)

	interesting := st.Interesting()
	require.Len(t, interesting, 2)
	ids := []string{interesting[0].ID, interesting[1].ID}
	assert.ElementsMatch(t, []string{"heavy", "angry"}, ids)
}

func TestExpireDropsIdleAndAgedSessions(t *testing.T) {
	clk := clock.NewFake(testStart)
	st := NewSessionStore(clk)

	st.Touch("idle", testStart)
	st.Touch("fresh", testStart)

	clk.Advance(25 * time.Hour)
	st.Touch("fresh", clk.Now())

	removed := st.Expire()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, st.Len())

	// Even an active session ages out past the retention window.
	for day := 2; day <= 8; day++ {
		clk.Advance(24 * time.Hour)
		st.Touch("fresh", clk.Now())
	}
	removed = st.Expire()
	assert.Equal(t, 1, removed)
	assert.Zero(t, st.Len())
}

func TestHeatmapCountsPageViews(t *testing.T) {
	st := NewSessionStore(clock.NewFake(testStart))

	st.RecordPageView("s1", "/home", testStart)
	st.RecordPageView("s1", "/checkout", testStart)
	st.RecordPageView("s2", "/home", testStart)

	heatmap := st.Heatmap()
	assert.Equal(t, 2, heatmap["/home"])
	assert.Equal(t, 1, heatmap["/checkout"])
}

func TestSatisfactionWithoutFeedback(t *testing.T) {
	st := NewSessionStore(clock.NewFake(testStart))
	st.Touch("s1", testStart)

	sessions := st.Snapshot()
	require.Len(t, sessions, 1)
	assert.Equal(t, float64(-1), sessions[0].Satisfaction())
}
