package handlers

import (
	"sync"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
)

const (
	// SessionIdleExpiry removes sessions with no activity for this long.
	SessionIdleExpiry = 24 * time.Hour

	// SessionRetention caps how long finished sessions are kept.
	SessionRetention = 7 * 24 * time.Hour

	// rageClickCount within rageClickWindow on one element counts as a rage
	// click.
	rageClickCount  = 3
	rageClickWindow = time.Second

	// ReplayClickFloor marks a session interesting for replay selection.
	ReplayClickFloor = 50
)

// Session aggregates one user session's activity. Raw events are not kept;
// only the counters the analyzers need.
type Session struct {
	ID                 string
	StartedAt          time.Time
	LastSeen           time.Time
	Clicks             int
	PageViews          map[string]int
	Errors             int
	FrustrationSignals int
	RageClicks         int
	FeedbackSum        float64
	FeedbackCount      int

	lastClickElement string
	lastClickAt      time.Time
	lastClickStreak  int
}

// Satisfaction is the mean feedback score, or -1 when none was given.
func (s *Session) Satisfaction() float64 {
	if s.FeedbackCount == 0 {
		return -1
	}
	return s.FeedbackSum / float64(s.FeedbackCount)
}

// Interesting reports whether the session qualifies for replay selection.
func (s *Session) Interesting() bool {
	return s.Clicks > ReplayClickFloor || s.RageClicks > 0
}

// SessionStore tracks live user sessions and the page heatmap.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	heatmap  map[string]int
	clock    clock.Clock
}

// NewSessionStore creates a session store.
func NewSessionStore(clk clock.Clock) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		heatmap:  make(map[string]int),
		clock:    clk,
	}
}

func (st *SessionStore) sessionLocked(id string, at time.Time) *Session {
	s, ok := st.sessions[id]
	if !ok {
		s = &Session{ID: id, StartedAt: at, PageViews: make(map[string]int)}
		st.sessions[id] = s
	}
	s.LastSeen = at
	return s
}

// RecordPageView counts a page load for the session and the heatmap.
func (st *SessionStore) RecordPageView(sessionID, page string, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessionLocked(sessionID, at)
	s.PageViews[page]++
	st.heatmap[page]++
}

// RecordClick counts a click and returns true when it completes a rage
// click: the same element clicked rageClickCount times within the window.
func (st *SessionStore) RecordClick(sessionID, element string, at time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessionLocked(sessionID, at)
	s.Clicks++

	if element != "" && element == s.lastClickElement && at.Sub(s.lastClickAt) <= rageClickWindow {
		s.lastClickStreak++
	} else {
		s.lastClickStreak = 1
	}
	s.lastClickElement = element
	s.lastClickAt = at

	if s.lastClickStreak >= rageClickCount {
		s.RageClicks++
		s.FrustrationSignals++
		s.lastClickStreak = 0
		return true
	}
	return false
}

// RecordError counts a client error against the session.
func (st *SessionStore) RecordError(sessionID string, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessionLocked(sessionID, at).Errors++
}

// RecordFrustration counts an explicit frustration signal.
func (st *SessionStore) RecordFrustration(sessionID string, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessionLocked(sessionID, at).FrustrationSignals++
}

// RecordFeedback folds a user feedback score into the session.
func (st *SessionStore) RecordFeedback(sessionID string, score float64, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessionLocked(sessionID, at)
	s.FeedbackSum += score
	s.FeedbackCount++
}

// Touch records bare activity for the session.
func (st *SessionStore) Touch(sessionID string, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessionLocked(sessionID, at)
}

// Snapshot returns copies of all tracked sessions.
func (st *SessionStore) Snapshot() []Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		cp := *s
		cp.PageViews = make(map[string]int, len(s.PageViews))
		for page, n := range s.PageViews {
			cp.PageViews[page] = n
		}
		out = append(out, cp)
	}
	return out
}

// Interesting returns copies of the sessions qualifying for replay.
func (st *SessionStore) Interesting() []Session {
	var out []Session
	for _, s := range st.Snapshot() {
		if s.Interesting() {
			out = append(out, s)
		}
	}
	return out
}

// Heatmap returns a copy of the per-page view counts.
func (st *SessionStore) Heatmap() map[string]int {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]int, len(st.heatmap))
	for page, n := range st.heatmap {
		out[page] = n
	}
	return out
}

// Expire drops idle sessions (no activity for SessionIdleExpiry) and any
// session older than the retention window. Returns the number removed.
func (st *SessionStore) Expire() int {
	now := st.clock.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		if now.Sub(s.LastSeen) > SessionIdleExpiry || now.Sub(s.StartedAt) > SessionRetention {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
