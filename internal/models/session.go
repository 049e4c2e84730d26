package models

import "time"

// UserSession is the rolling per-user behavioral aggregate. It is owned
// exclusively by the pipeline's batch-consumer goroutine; all other readers
// receive a SessionSnapshot copy.
type UserSession struct {
	UserID       string
	StartTime    time.Time
	LastActivity time.Time
	EventCount   int64
	Duration     time.Duration
	MaxRiskScore float64
	EventTypes   map[EventType]struct{}
}

// NewUserSession creates a session starting at the given time.
func NewUserSession(userID string, at time.Time) *UserSession {
	return &UserSession{
		UserID:       userID,
		StartTime:    at,
		LastActivity: at,
		EventTypes:   make(map[EventType]struct{}),
	}
}

// Observe folds one event into the session. Duration stays >= 0 and
// MaxRiskScore is non-decreasing over the session's lifetime.
func (s *UserSession) Observe(ev *Event) {
	if ev.Timestamp.After(s.LastActivity) {
		s.LastActivity = ev.Timestamp
	}
	s.EventCount++
	s.Duration = s.LastActivity.Sub(s.StartTime)
	if s.Duration < 0 {
		s.Duration = 0
	}
	if ev.RiskScore > s.MaxRiskScore {
		s.MaxRiskScore = ev.RiskScore
	}
	if ev.EventType != "" {
		s.EventTypes[ev.EventType] = struct{}{}
	}
}

// Snapshot returns an immutable copy safe to hand to other goroutines.
func (s *UserSession) Snapshot() *SessionSnapshot {
	types := make([]EventType, 0, len(s.EventTypes))
	for t := range s.EventTypes {
		types = append(types, t)
	}
	return &SessionSnapshot{
		UserID:       s.UserID,
		StartTime:    s.StartTime,
		LastActivity: s.LastActivity,
		EventCount:   s.EventCount,
		Duration:     s.Duration,
		MaxRiskScore: s.MaxRiskScore,
		EventTypes:   types,
	}
}

// SessionSnapshot is a point-in-time copy of a UserSession.
type SessionSnapshot struct {
	UserID       string        `json:"user_id"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	EventCount   int64         `json:"event_count"`
	Duration     time.Duration `json:"duration"`
	MaxRiskScore float64       `json:"max_risk_score"`
	EventTypes   []EventType   `json:"event_types"`
}
