// Package notifier provides asynchronous notification fan-out for alerts.
package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ubaguard/ubaguard/internal/metrics"
	"github.com/ubaguard/ubaguard/internal/models"
)

// Notifier is the interface for all notification channels. The core decides
// whether and to whom to send; transport mechanics live behind Send.
type Notifier interface {
	// Name returns the channel name (e.g., "email", "webhook").
	Name() string
	// Recipients returns the delivery targets recorded in the audit trail
	// for the given alert.
	Recipients(alert *models.Alert) []string
	// Send delivers an alert notification.
	Send(ctx context.Context, alert *models.Alert) error
	// Close releases any resources.
	Close() error
}

// Recorder persists one NotificationRecord per (alert, channel, recipient)
// attempt.
type Recorder interface {
	Create(ctx context.Context, rec *models.NotificationRecord) error
}

// Options configures the dispatcher.
type Options struct {
	Workers     int             // worker pool size (default: 2)
	QueueSize   int             // pending job buffer (default: 100)
	RateLimit   RateLimitConfig // per-dispatcher sliding window limit
	SendTimeout time.Duration   // per-channel send timeout (default: 30s)
}

// DefaultOptions returns default dispatcher options.
func DefaultOptions() Options {
	return Options{
		Workers:     2,
		QueueSize:   100,
		RateLimit:   DefaultRateLimitConfig(),
		SendTimeout: 30 * time.Second,
	}
}

// Dispatcher fans alerts out to registered channels through a job queue
// consumed by a small worker pool, so alert persistence never waits on
// transport I/O. Jobs accepted before Close are allowed to finish; they are
// not cancelled mid-flight.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier

	recorder    Recorder
	rateLimiter *RateLimiter
	sendTimeout time.Duration
	log         *logrus.Entry

	jobs    chan *models.Alert
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher and starts its worker pool.
func NewDispatcher(recorder Recorder, opts Options, log *logrus.Entry) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.WithField("component", "notifier")
	}

	d := &Dispatcher{
		notifiers:   make(map[string]Notifier),
		recorder:    recorder,
		rateLimiter: NewRateLimiter(opts.RateLimit),
		sendTimeout: opts.SendTimeout,
		log:         log,
		jobs:        make(chan *models.Alert, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Register adds a notification channel to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Channels returns the names of registered channels.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	return names
}

// Enqueue schedules asynchronous fan-out of an alert to every registered
// channel. It never blocks the caller; when the job buffer is full the send
// is skipped, counted, and recorded as failed on every channel so the alert
// still leaves an audit trail.
func (d *Dispatcher) Enqueue(alert *models.Alert) {
	// The read lock orders the channel send before Close, which holds the
	// write lock while closing the channel.
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.jobs <- alert:
	default:
		dropped := d.dropped.Add(1)
		d.log.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"dropped":  dropped,
		}).Warn("notification queue full, dropping alert notifications")
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.recordDrop(alert)
		}()
	}
}

// Dropped returns the number of alerts whose notifications were dropped
// because the job buffer was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for alert := range d.jobs {
		d.dispatch(alert)
	}
}

// dispatch sends one alert through every channel, isolating failures per
// channel and recording every attempt in the audit trail.
func (d *Dispatcher) dispatch(alert *models.Alert) {
	d.mu.RLock()
	notifiers := make([]Notifier, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		notifiers = append(notifiers, n)
	}
	d.mu.RUnlock()

	for _, n := range notifiers {
		if !d.rateLimiter.Allow() {
			d.record(alert, n, "notification rate limited")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := n.Send(ctx, alert)
		cancel()

		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"alert_id": alert.ID,
				"channel":  n.Name(),
			}).Error("notification send failed")
			d.record(alert, n, err.Error())
			continue
		}
		d.record(alert, n, "")
	}
}

// recordDrop writes a failed audit row on every registered channel for an
// alert whose job never made it into the queue.
func (d *Dispatcher) recordDrop(alert *models.Alert) {
	d.mu.RLock()
	notifiers := make([]Notifier, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		notifiers = append(notifiers, n)
	}
	d.mu.RUnlock()

	for _, n := range notifiers {
		d.record(alert, n, "notification queue full")
	}
}

// record writes one audit row per recipient. An empty errMsg means the
// attempt succeeded.
func (d *Dispatcher) record(alert *models.Alert, n Notifier, errMsg string) {
	status := models.NotificationSent
	if errMsg != "" {
		status = models.NotificationFailed
	}
	metrics.NotificationsTotal.WithLabelValues(n.Name(), string(status)).Inc()

	if d.recorder == nil {
		return
	}
	for _, recipient := range n.Recipients(alert) {
		rec := &models.NotificationRecord{
			AlertID:      alert.ID,
			Channel:      n.Name(),
			Recipient:    recipient,
			SentAt:       time.Now(),
			Status:       status,
			ErrorMessage: errMsg,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.recorder.Create(ctx, rec); err != nil {
			d.log.WithError(err).WithField("alert_id", alert.ID).
				Error("failed to record notification attempt")
		}
		cancel()
	}
}

// Close stops accepting jobs, drains the queue, and closes every channel.
func (d *Dispatcher) Close() error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.closeMu.Unlock()
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for _, n := range d.notifiers {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.notifiers = make(map[string]Notifier)
	return firstErr
}
