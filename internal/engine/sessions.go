package engine

import (
	"sync"
	"time"

	"github.com/ubaguard/ubaguard/internal/metrics"
	"github.com/ubaguard/ubaguard/internal/models"
)

// SessionTracker maintains rolling per-user session state. Updates happen
// only on the batch-consumer goroutine; snapshot accessors copy so that
// stats and API readers never share live state.
type SessionTracker struct {
	mu       sync.RWMutex
	sessions map[string]*models.UserSession
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]*models.UserSession),
	}
}

// Update folds an event into the user's session, creating it on first
// sighting.
func (t *SessionTracker) Update(ev *models.Event) {
	if ev == nil || ev.UserID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[ev.UserID]
	if !ok {
		s = models.NewUserSession(ev.UserID, ev.Timestamp)
		t.sessions[ev.UserID] = s
		metrics.ActiveSessions.Set(float64(len(t.sessions)))
	}
	s.Observe(ev)
}

// Snapshot returns a copy of the user's session, or nil if none exists.
func (t *SessionTracker) Snapshot(userID string) *models.SessionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[userID]
	if !ok {
		return nil
	}
	return s.Snapshot()
}

// Snapshots returns copies of every tracked session.
func (t *SessionTracker) Snapshots() []*models.SessionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*models.SessionSnapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// ActiveCount returns the number of tracked sessions.
func (t *SessionTracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// EvictIdle removes sessions whose last activity is older than timeout.
// It returns the number of sessions removed.
func (t *SessionTracker) EvictIdle(timeout time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, s := range t.sessions {
		if now.Sub(s.LastActivity) > timeout {
			delete(t.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.ActiveSessions.Set(float64(len(t.sessions)))
	}
	return evicted
}
