package detect

import (
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

// Feature vector layout. Every detector trains and scores against this
// fixed column order.
const (
	FeatHour = iota
	FeatDayOfWeek
	FeatWeekend
	FeatOffHours
	FeatRiskScore
	FeatSessionEvents
	FeatSessionSeconds
	FeatSessionMaxRisk

	NumFeatures
)

// Working hours run 07:00-19:00; anything outside is off-hours.
const (
	workdayStartHour = 7
	workdayEndHour   = 19
)

// SessionLookup resolves the session snapshot to enrich an event with.
type SessionLookup func(userID string) *models.SessionSnapshot

// Vector derives the feature row for a single event.
func Vector(ev *models.Event, sess *models.SessionSnapshot) []float64 {
	v := make([]float64, NumFeatures)

	ts := ev.Timestamp
	v[FeatHour] = float64(ts.Hour())
	v[FeatDayOfWeek] = float64(ts.Weekday())
	if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
		v[FeatWeekend] = 1
	}
	if ts.Hour() < workdayStartHour || ts.Hour() > workdayEndHour {
		v[FeatOffHours] = 1
	}
	v[FeatRiskScore] = ev.RiskScore

	if sess != nil {
		v[FeatSessionEvents] = float64(sess.EventCount)
		v[FeatSessionSeconds] = sess.Duration.Seconds()
		v[FeatSessionMaxRisk] = sess.MaxRiskScore
	}
	return v
}

// Matrix derives the feature matrix for one batch, one row per event in
// batch order.
func Matrix(events []*models.Event, lookup SessionLookup) [][]float64 {
	m := make([][]float64, len(events))
	for i, ev := range events {
		var sess *models.SessionSnapshot
		if lookup != nil {
			sess = lookup(ev.UserID)
		}
		m[i] = Vector(ev, sess)
	}
	return m
}
