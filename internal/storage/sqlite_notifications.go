package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ubaguard/ubaguard/internal/models"
)

type sqliteNotificationRepo struct {
	db *sql.DB
}

func (r *sqliteNotificationRepo) Create(ctx context.Context, rec *models.NotificationRecord) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_notifications
			(alert_id, notification_type, recipient, sent_at, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.AlertID, rec.Channel, rec.Recipient, rec.SentAt,
		string(rec.Status), nullString(rec.ErrorMessage))
	if err != nil {
		return fmt.Errorf("insert notification record: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (r *sqliteNotificationRepo) ListByAlert(ctx context.Context, alertID string) ([]*models.NotificationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alert_id, notification_type, recipient, sent_at, status, error_message
		FROM alert_notifications
		WHERE alert_id = ?
		ORDER BY sent_at DESC, id DESC
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var records []*models.NotificationRecord
	for rows.Next() {
		rec := &models.NotificationRecord{}
		var status string
		var errMsg sql.NullString
		err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Channel, &rec.Recipient,
			&rec.SentAt, &status, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		rec.Status = models.NotificationStatus(status)
		rec.ErrorMessage = errMsg.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
