// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

// ErrDuplicateAlert is returned when creating an alert whose id already
// exists. Alert ids are globally unique; creation never overwrites.
var ErrDuplicateAlert = errors.New("alert id already exists")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Alerts() AlertRepository
	Notifications() NotificationRepository
	Events() EventRepository
	Baselines() BaselineRepository

	// DB returns the underlying connection for health checks.
	DB() *sql.DB
}

// AlertRepository defines operations on persisted alerts. State transitions
// are enforced in SQL so that concurrent actors cannot move an alert
// backward: acknowledge and close match only non-closed rows.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
	Acknowledge(ctx context.Context, id, by, notes string, at time.Time) (bool, error)
	Close(ctx context.Context, id, by, notes string, at time.Time) (bool, error)
	Statistics(ctx context.Context) (*models.AlertStatistics, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationRepository records notification attempts, one row per
// (alert, channel, recipient) attempt. Append-only.
type NotificationRepository interface {
	Create(ctx context.Context, rec *models.NotificationRecord) error
	ListByAlert(ctx context.Context, alertID string) ([]*models.NotificationRecord, error)
}

// EventRepository stores the collector event trail used for baseline
// refresh. Best-effort: the pipeline tolerates insert failures.
type EventRepository interface {
	InsertBatch(ctx context.Context, events []*models.Event) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]*models.Event, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BaselineRepository stores per-user behavioral baselines.
type BaselineRepository interface {
	Upsert(ctx context.Context, b *models.UserBaseline) error
	Get(ctx context.Context, userID string) (*models.UserBaseline, error)
	List(ctx context.Context) ([]*models.UserBaseline, error)
}
