package models

import "time"

// Severity represents alert urgency derived from the combined anomaly score.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// AlertStatus tracks an alert through its lifecycle. Transitions are
// monotonic: open -> acknowledged -> closed. Closed is terminal.
type AlertStatus string

const (
	StatusOpen         AlertStatus = "open"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusClosed       AlertStatus = "closed"
)

// DetectorContribution records one detector's normalized signal for the
// event that produced an alert.
type DetectorContribution struct {
	Detector string  `json:"detector"`
	Weight   float64 `json:"weight"`
	Score    float64 `json:"score"`
}

// DetectionDetails describes how the ensemble arrived at an alert.
type DetectionDetails struct {
	Detectors     []DetectorContribution `json:"detectors"`
	CombinedScore float64                `json:"combined_score"`
	Threshold     float64                `json:"threshold"`
}

// UserContext is the per-user state attached to an alert at creation time.
type UserContext struct {
	UserID  string           `json:"user_id"`
	Session *SessionSnapshot `json:"session,omitempty"`
}

// Alert is a persisted anomaly finding. It is created once by the scoring
// pipeline and mutated only through acknowledge/close.
type Alert struct {
	ID                 string           `json:"id"`
	Timestamp          time.Time        `json:"timestamp"`
	Severity           Severity         `json:"severity"`
	Status             AlertStatus      `json:"status"`
	AnomalyScore       float64          `json:"anomaly_score"`
	Event              *Event           `json:"event"`
	DetectionDetails   DetectionDetails `json:"detection_details"`
	UserContext        UserContext      `json:"user_context"`
	RecommendedActions []string         `json:"recommended_actions"`
	AcknowledgedBy     string           `json:"acknowledged_by,omitempty"`
	AcknowledgedAt     *time.Time       `json:"acknowledged_at,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// UserID returns the subject user of the alert.
func (a *Alert) UserID() string {
	if a.Event != nil {
		return a.Event.UserID
	}
	return a.UserContext.UserID
}

// TriggeringEventType returns the event type of the triggering event, or ""
// when the event is absent.
func (a *Alert) TriggeringEventType() EventType {
	if a.Event != nil {
		return a.Event.EventType
	}
	return ""
}

// NotificationStatus is the outcome of one notification attempt.
type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// NotificationRecord is one row of the append-only notification audit trail.
type NotificationRecord struct {
	ID           int64              `json:"id"`
	AlertID      string             `json:"alert_id"`
	Channel      string             `json:"notification_type"`
	Recipient    string             `json:"recipient"`
	SentAt       time.Time          `json:"sent_at"`
	Status       NotificationStatus `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// AlertFilter narrows GetAlerts results. Zero values mean "no filter".
type AlertFilter struct {
	Severity Severity
	Status   AlertStatus
	UserID   string
	Limit    int
	Offset   int
}

// AlertStatistics summarizes the alert store.
type AlertStatistics struct {
	Total               int64   `json:"total_alerts"`
	Active              int64   `json:"active_count"`
	HighSeverityCount   int64   `json:"high_severity_count"`
	MediumSeverityCount int64   `json:"medium_severity_count"`
	LowSeverityCount    int64   `json:"low_severity_count"`
	OpenCount           int64   `json:"open_count"`
	AcknowledgedCount   int64   `json:"acknowledged_count"`
	ClosedCount         int64   `json:"closed_count"`
	Last24h             int64   `json:"alerts_last_24h"`
	AvgAckMinutes       float64 `json:"avg_response_time_minutes"`
}

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "LOW", "low":
		return SeverityLow
	case "MEDIUM", "medium":
		return SeverityMedium
	case "HIGH", "high":
		return SeverityHigh
	default:
		return ""
	}
}

// ParseStatus converts a string to AlertStatus.
func ParseStatus(s string) AlertStatus {
	switch s {
	case "open":
		return StatusOpen
	case "acknowledged":
		return StatusAcknowledged
	case "closed":
		return StatusClosed
	default:
		return ""
	}
}
