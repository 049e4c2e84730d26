package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

type sqliteEventRepo struct {
	db *sql.DB
}

func (r *sqliteEventRepo) InsertBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events
			(id, user_id, event_type, timestamp, source_ip, machine_name, collector, risk_score, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var payload []byte
		if len(ev.Payload) > 0 {
			payload, err = json.Marshal(ev.Payload)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("marshal payload: %w", err)
			}
		}
		_, err = stmt.ExecContext(ctx,
			ev.ID, nullString(ev.UserID), string(ev.EventType), ev.Timestamp,
			nullString(ev.SourceIP), nullString(ev.MachineName),
			nullString(ev.Collector), ev.RiskScore, nullString(string(payload)),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (r *sqliteEventRepo) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, timestamp, source_ip, machine_name, collector, risk_score, payload
		FROM events
		WHERE datetime(timestamp) >= datetime(?)
		ORDER BY timestamp ASC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		ev := &models.Event{}
		var eventType string
		var userID, sourceIP, machine, collector, payload sql.NullString
		err := rows.Scan(&ev.ID, &userID, &eventType, &ev.Timestamp,
			&sourceIP, &machine, &collector, &ev.RiskScore, &payload)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.UserID = userID.String
		ev.EventType = models.EventType(eventType)
		ev.SourceIP = sourceIP.String
		ev.MachineName = machine.String
		ev.Collector = collector.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *sqliteEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM events WHERE datetime(timestamp) < datetime(?)", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}
