// Package models defines domain models for ubaguard.
package models

import "time"

// EventType classifies a behavioral event by its origin.
type EventType string

const (
	EventTypeLogin      EventType = "login"
	EventTypeLogout     EventType = "logout"
	EventTypeFileAccess EventType = "file_access"
	EventTypeFileWrite  EventType = "file_write"
	EventTypeFileDelete EventType = "file_delete"
	EventTypeCommand    EventType = "command"
	EventTypeProcess    EventType = "process"
	EventTypeAppUsage   EventType = "app_usage"
)

// Event is one timestamped observation of user or system activity.
// Events are immutable once created: collectors produce them and the
// pipeline consumes each exactly once.
type Event struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	EventType   EventType              `json:"event_type"`
	Timestamp   time.Time              `json:"timestamp"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	MachineName string                 `json:"machine_name,omitempty"`
	Collector   string                 `json:"collector,omitempty"`
	RiskScore   float64                `json:"risk_score"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Batch is an ordered group of events flushed together for one scoring pass.
type Batch struct {
	Events    []*Event
	FlushedAt time.Time
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}
