package models

import "time"

// UserBaseline is the per-user behavioral profile refreshed periodically
// from the event history and used to retrain detectors.
type UserBaseline struct {
	UserID        string    `json:"user_id"`
	EventCount    int64     `json:"event_count"`
	MeanRiskScore float64   `json:"mean_risk_score"`
	MaxRiskScore  float64   `json:"max_risk_score"`
	OffHoursRatio float64   `json:"off_hours_ratio"`
	UpdatedAt     time.Time `json:"updated_at"`
}
