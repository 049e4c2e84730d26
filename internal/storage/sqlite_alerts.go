package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `
	id, timestamp, severity, status, user_id, event_type, anomaly_score,
	event_data, detection_details, user_context, recommended_actions,
	acknowledged_by, acknowledged_at, notes, created_at, updated_at
`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	eventJSON, err := json.Marshal(alert.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	detailsJSON, err := json.Marshal(alert.DetectionDetails)
	if err != nil {
		return fmt.Errorf("marshal detection details: %w", err)
	}
	contextJSON, err := json.Marshal(alert.UserContext)
	if err != nil {
		return fmt.Errorf("marshal user context: %w", err)
	}
	actionsJSON, err := json.Marshal(alert.RecommendedActions)
	if err != nil {
		return fmt.Errorf("marshal recommended actions: %w", err)
	}

	var userID, eventType string
	if alert.Event != nil {
		userID = alert.Event.UserID
		eventType = string(alert.Event.EventType)
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.Timestamp, string(alert.Severity), string(alert.Status),
		nullString(userID), nullString(eventType), alert.AnomalyScore,
		string(eventJSON), string(detailsJSON), string(contextJSON), string(actionsJSON),
		nullString(alert.AcknowledgedBy), nullTime(alert.AcknowledgedAt),
		nullString(alert.Notes), alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		// modernc.org/sqlite surfaces constraint violations in the message.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateAlert, alert.ID)
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (r *sqliteAlertRepo) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []interface{}

	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// Acknowledge transitions an alert to acknowledged. It succeeds only for
// alerts that are open or already acknowledged (last write wins); closed or
// missing alerts are untouched and reported as false.
func (r *sqliteAlertRepo) Acknowledge(ctx context.Context, id, by, notes string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alerts
		SET status = 'acknowledged', acknowledged_by = ?, acknowledged_at = ?,
			notes = ?, updated_at = ?
		WHERE id = ? AND status IN ('open', 'acknowledged')
	`, by, at, notes, at, id)
	if err != nil {
		return false, fmt.Errorf("acknowledge alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Close transitions an alert to closed, terminal. Valid from open or
// acknowledged only.
func (r *sqliteAlertRepo) Close(ctx context.Context, id, by, notes string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alerts
		SET status = 'closed', acknowledged_by = ?, acknowledged_at = ?,
			notes = ?, updated_at = ?
		WHERE id = ? AND status IN ('open', 'acknowledged')
	`, by, at, notes, at, id)
	if err != nil {
		return false, fmt.Errorf("close alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteAlertRepo) Statistics(ctx context.Context) (*models.AlertStatistics, error) {
	stats := &models.AlertStatistics{}

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&stats.Total)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts WHERE status IN ('open', 'acknowledged')",
	).Scan(&stats.Active)
	if err != nil {
		return nil, fmt.Errorf("count active alerts: %w", err)
	}

	// Severity counts cover active alerts only.
	rows, err := r.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM alerts
		WHERE status IN ('open', 'acknowledged')
		GROUP BY severity
	`)
	if err != nil {
		return nil, fmt.Errorf("count by severity: %w", err)
	}
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		switch models.Severity(severity) {
		case models.SeverityHigh:
			stats.HighSeverityCount = count
		case models.SeverityMedium:
			stats.MediumSeverityCount = count
		case models.SeverityLow:
			stats.LowSeverityCount = count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Status counts cover all alerts.
	rows, err = r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM alerts GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		switch models.AlertStatus(status) {
		case models.StatusOpen:
			stats.OpenCount = count
		case models.StatusAcknowledged:
			stats.AcknowledgedCount = count
		case models.StatusClosed:
			stats.ClosedCount = count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE datetime(timestamp) > datetime('now', '-24 hours')
	`).Scan(&stats.Last24h)
	if err != nil {
		return nil, fmt.Errorf("count recent alerts: %w", err)
	}

	var avg sql.NullFloat64
	err = r.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(acknowledged_at) - julianday(timestamp)) * 24 * 60)
		FROM alerts WHERE acknowledged_at IS NOT NULL
	`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("average ack latency: %w", err)
	}
	if avg.Valid {
		stats.AvgAckMinutes = avg.Float64
	}

	return stats, nil
}

// DeleteClosedBefore removes closed alerts whose last update is older than
// cutoff, along with their notification rows. Open and acknowledged alerts
// are never touched. The cutoff comparison happens in Go because SQLite's
// datetime() truncates to whole seconds, which would spare alerts closed in
// the same second as the cutoff.
func (r *sqliteAlertRepo) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, updated_at FROM alerts WHERE status = 'closed'
	`)
	if err != nil {
		return 0, fmt.Errorf("query closed alerts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var updatedAt time.Time
		if err := rows.Scan(&id, &updatedAt); err != nil {
			return 0, fmt.Errorf("scan closed alert: %w", err)
		}
		if updatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate closed alerts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM alert_notifications WHERE alert_id IN (`+placeholders+`)`, args...)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("delete notifications: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM alerts WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("delete alerts: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return deleted, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var severity, status string
	var userID, eventType, ackBy, notes sql.NullString
	var eventJSON, detailsJSON, contextJSON, actionsJSON sql.NullString
	var ackAt sql.NullTime

	err := row.Scan(
		&alert.ID, &alert.Timestamp, &severity, &status, &userID, &eventType,
		&alert.AnomalyScore, &eventJSON, &detailsJSON, &contextJSON, &actionsJSON,
		&ackBy, &ackAt, &notes, &alert.CreatedAt, &alert.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.Severity = models.Severity(severity)
	alert.Status = models.AlertStatus(status)
	alert.AcknowledgedBy = ackBy.String
	alert.Notes = notes.String
	if ackAt.Valid {
		t := ackAt.Time
		alert.AcknowledgedAt = &t
	}

	if eventJSON.Valid && eventJSON.String != "" {
		if err := json.Unmarshal([]byte(eventJSON.String), &alert.Event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
	}
	if detailsJSON.Valid && detailsJSON.String != "" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &alert.DetectionDetails); err != nil {
			return nil, fmt.Errorf("unmarshal detection details: %w", err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &alert.UserContext); err != nil {
			return nil, fmt.Errorf("unmarshal user context: %w", err)
		}
	}
	if actionsJSON.Valid && actionsJSON.String != "" {
		if err := json.Unmarshal([]byte(actionsJSON.String), &alert.RecommendedActions); err != nil {
			return nil, fmt.Errorf("unmarshal recommended actions: %w", err)
		}
	}

	return alert, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
