// Package alerts manages the alert lifecycle: creation, triage transitions,
// statistics, retention, and notification fan-out.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ubaguard/ubaguard/internal/metrics"
	"github.com/ubaguard/ubaguard/internal/models"
	"github.com/ubaguard/ubaguard/internal/notifier"
	"github.com/ubaguard/ubaguard/internal/storage"
)

// Observer receives every successfully persisted alert, synchronously, in
// registration order. Observers must be fast; slow work belongs in a
// notification channel.
type Observer func(*models.Alert)

// Manager owns alert persistence and everything downstream of it.
type Manager struct {
	store      storage.Storage
	dispatcher *notifier.Dispatcher
	log        *logrus.Entry

	mu        sync.RWMutex
	observers []Observer
}

// NewManager creates an alert manager. dispatcher may be nil when no
// notification channels are configured.
func NewManager(store storage.Storage, dispatcher *notifier.Dispatcher, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.WithField("component", "alerts")
	}
	return &Manager{
		store:      store,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Subscribe registers an observer for newly created alerts.
func (m *Manager) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// CreateAlert persists a new alert and triggers downstream delivery. It
// returns false without error when an alert with the same id already exists;
// persistence failures are returned to the caller, in which case nothing is
// delivered.
func (m *Manager) CreateAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = models.StatusOpen
	}
	now := time.Now().UTC()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = now

	if err := m.store.Alerts().Create(ctx, alert); err != nil {
		if errors.Is(err, storage.ErrDuplicateAlert) {
			m.log.WithField("alert_id", alert.ID).Debug("duplicate alert id, skipping")
			return false, nil
		}
		metrics.AlertPersistErrorsTotal.Inc()
		return false, fmt.Errorf("failed to persist alert: %w", err)
	}
	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity)).Inc()

	m.log.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"user_id":  alert.UserID(),
		"severity": alert.Severity,
		"score":    alert.AnomalyScore,
	}).Warn("anomaly alert created")

	m.notifyObservers(alert)

	// Only actionable severities reach external channels.
	if m.dispatcher != nil && (alert.Severity == models.SeverityHigh || alert.Severity == models.SeverityMedium) {
		m.dispatcher.Enqueue(alert)
	}
	return true, nil
}

// notifyObservers runs subscribers synchronously, isolating panics so one
// bad observer cannot take down the pipeline.
func (m *Manager) notifyObservers(alert *models.Alert) {
	m.mu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.WithField("panic", r).Error("alert observer panicked")
				}
			}()
			obs(alert)
		}()
	}
}

// Acknowledge moves an open or acknowledged alert to acknowledged. It
// returns false when the alert does not exist or is already closed.
func (m *Manager) Acknowledge(ctx context.Context, id, by, notes string) (bool, error) {
	ok, err := m.store.Alerts().Acknowledge(ctx, id, by, notes, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	if ok {
		m.log.WithFields(logrus.Fields{"alert_id": id, "by": by}).Info("alert acknowledged")
	}
	return ok, nil
}

// CloseAlert moves an alert to closed. Closed is terminal; closing a closed
// alert returns false.
func (m *Manager) CloseAlert(ctx context.Context, id, by, notes string) (bool, error) {
	ok, err := m.store.Alerts().Close(ctx, id, by, notes, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to close alert %s: %w", id, err)
	}
	if ok {
		m.log.WithFields(logrus.Fields{"alert_id": id, "by": by}).Info("alert closed")
	}
	return ok, nil
}

// GetAlert returns one alert by id, or nil when not found.
func (m *Manager) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return m.store.Alerts().GetByID(ctx, id)
}

// GetAlerts returns alerts matching the filter, newest first.
func (m *Manager) GetAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	return m.store.Alerts().List(ctx, filter)
}

// Notifications returns the audit trail for one alert.
func (m *Manager) Notifications(ctx context.Context, alertID string) ([]*models.NotificationRecord, error) {
	return m.store.Notifications().ListByAlert(ctx, alertID)
}

// Statistics summarizes the alert store.
func (m *Manager) Statistics(ctx context.Context) (*models.AlertStatistics, error) {
	return m.store.Alerts().Statistics(ctx)
}

// CleanupOldAlerts deletes closed alerts older than the retention window,
// together with their notification records. days == 0 removes every closed
// alert. Open and acknowledged alerts are never removed.
func (m *Manager) CleanupOldAlerts(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("retention days must be >= 0, got %d", days)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	removed, err := m.store.Alerts().DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up alerts: %w", err)
	}
	if removed > 0 {
		m.log.WithFields(logrus.Fields{"removed": removed, "retention_days": days}).Info("old alerts removed")
	}
	return removed, nil
}

// Close shuts down notification delivery, draining pending jobs.
func (m *Manager) Close() error {
	if m.dispatcher != nil {
		return m.dispatcher.Close()
	}
	return nil
}
