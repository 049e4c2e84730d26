package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "alerts_schema",
		Up: `
			-- Alerts table
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				timestamp DATETIME NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'open',
				user_id TEXT,
				event_type TEXT,
				anomaly_score REAL NOT NULL,
				event_data TEXT,
				detection_details TEXT,
				user_context TEXT,
				recommended_actions TEXT,
				acknowledged_by TEXT,
				acknowledged_at DATETIME,
				notes TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Notification audit trail
			CREATE TABLE IF NOT EXISTS alert_notifications (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				alert_id TEXT NOT NULL,
				notification_type TEXT NOT NULL,
				recipient TEXT NOT NULL,
				sent_at DATETIME NOT NULL,
				status TEXT NOT NULL DEFAULT 'sent',
				error_message TEXT,
				FOREIGN KEY (alert_id) REFERENCES alerts(id)
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
			CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
			CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
			CREATE INDEX IF NOT EXISTS idx_alerts_user_id ON alerts(user_id);
			CREATE INDEX IF NOT EXISTS idx_notifications_alert ON alert_notifications(alert_id);
		`,
	},
	{
		Version: 2,
		Name:    "events_and_baselines",
		Up: `
			-- Collector event trail
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				user_id TEXT,
				event_type TEXT NOT NULL,
				timestamp DATETIME NOT NULL,
				source_ip TEXT,
				machine_name TEXT,
				collector TEXT,
				risk_score REAL NOT NULL DEFAULT 0,
				payload TEXT
			);

			-- Per-user behavioral baselines
			CREATE TABLE IF NOT EXISTS user_baselines (
				user_id TEXT PRIMARY KEY,
				event_count INTEGER NOT NULL DEFAULT 0,
				mean_risk_score REAL NOT NULL DEFAULT 0,
				max_risk_score REAL NOT NULL DEFAULT 0,
				off_hours_ratio REAL NOT NULL DEFAULT 0,
				updated_at DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
			CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
