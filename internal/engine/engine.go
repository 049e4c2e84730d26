package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ubaguard/ubaguard/internal/alerts"
	"github.com/ubaguard/ubaguard/internal/detect"
	"github.com/ubaguard/ubaguard/internal/metrics"
	"github.com/ubaguard/ubaguard/internal/models"
	"github.com/ubaguard/ubaguard/internal/storage"
)

// Config holds pipeline tuning knobs.
type Config struct {
	QueueCapacity int           // bounded queue size (default: 1000)
	BatchSize     int           // flush when this many events are pending (default: 10)
	BatchTimeout  time.Duration // flush a non-empty batch after this long (default: 30s)
	PollInterval  time.Duration // consumer wakeup interval (default: 1s)
	PersistEvents bool          // keep the scored event trail in storage
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 1000,
		BatchSize:     10,
		BatchTimeout:  30 * time.Second,
		PollInterval:  time.Second,
		PersistEvents: true,
	}
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// Stats is a point-in-time view of pipeline counters for the performance API.
type Stats struct {
	Running          bool      `json:"running"`
	QueueLen         int       `json:"queue_len"`
	QueueCap         int       `json:"queue_cap"`
	EventsEnqueued   int64     `json:"events_enqueued"`
	EventsDropped    int64     `json:"events_dropped"`
	EventsProcessed  int64     `json:"events_processed"`
	BatchesProcessed int64     `json:"batches_processed"`
	AlertsRaised     int64     `json:"alerts_raised"`
	ActiveSessions   int       `json:"active_sessions"`
	DetectorsReady   int       `json:"detectors_ready"`
	LastFlush        time.Time `json:"last_flush,omitempty"`
}

// Engine is the real-time scoring pipeline. Collectors feed events through
// the bounded queue; a single consumer goroutine accumulates them into
// batches, folds them into sessions, scores each batch through the detector
// ensemble, and hands anomalies to the alert manager.
type Engine struct {
	cfg      Config
	queue    *EventQueue
	sessions *SessionTracker
	ensemble *detect.Ensemble
	alertMgr *alerts.Manager
	store    storage.Storage
	log      *logrus.Entry

	running  atomic.Bool
	stopping atomic.Bool
	wg       sync.WaitGroup

	eventsProcessed  atomic.Int64
	batchesProcessed atomic.Int64
	alertsRaised     atomic.Int64

	flushMu   sync.Mutex
	lastFlush time.Time
}

// New creates a pipeline. store may be nil when event persistence is off.
func New(cfg Config, ensemble *detect.Ensemble, alertMgr *alerts.Manager, store storage.Storage, log *logrus.Entry) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.WithField("component", "engine")
	}
	return &Engine{
		cfg:      cfg,
		queue:    NewEventQueue(cfg.QueueCapacity),
		sessions: NewSessionTracker(),
		ensemble: ensemble,
		alertMgr: alertMgr,
		store:    store,
		log:      log,
	}
}

// Start launches the batch consumer. Starting a running engine is a no-op.
func (e *Engine) Start() {
	if e.running.Swap(true) {
		return
	}
	e.stopping.Store(false)
	e.wg.Add(1)
	go e.consumeLoop()
	e.log.WithFields(logrus.Fields{
		"queue_capacity": e.cfg.QueueCapacity,
		"batch_size":     e.cfg.BatchSize,
		"batch_timeout":  e.cfg.BatchTimeout,
	}).Info("pipeline started")
}

// Stop shuts the pipeline down: the queue stops accepting events, the
// consumer drains what is buffered, flushes the final partial batch, and
// exits. Safe to call more than once.
func (e *Engine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	e.stopping.Store(true)
	e.queue.Close()
	e.wg.Wait()
	e.log.WithFields(logrus.Fields{
		"events_processed": e.eventsProcessed.Load(),
		"events_dropped":   e.queue.Dropped(),
		"alerts_raised":    e.alertsRaised.Load(),
	}).Info("pipeline stopped")
}

// AddEvent offers an event to the pipeline without blocking. Missing ids and
// timestamps are stamped on accept. Returns false when the pipeline is not
// running or the queue is full; the event is dropped and counted.
func (e *Engine) AddEvent(ev *models.Event) bool {
	if ev == nil || !e.running.Load() {
		return false
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return e.queue.Enqueue(ev)
}

// Sessions exposes the tracker for maintenance eviction and API reads.
func (e *Engine) Sessions() *SessionTracker {
	return e.sessions
}

// Queue exposes the bounded queue for stats.
func (e *Engine) Queue() *EventQueue {
	return e.queue
}

// Stats returns current pipeline counters.
func (e *Engine) Stats() Stats {
	e.flushMu.Lock()
	lastFlush := e.lastFlush
	e.flushMu.Unlock()

	ready := 0
	if e.ensemble != nil {
		ready = e.ensemble.Registry().ReadyCount()
	}
	return Stats{
		Running:          e.running.Load(),
		QueueLen:         e.queue.Len(),
		QueueCap:         e.queue.Cap(),
		EventsEnqueued:   e.queue.Enqueued(),
		EventsDropped:    e.queue.Dropped(),
		EventsProcessed:  e.eventsProcessed.Load(),
		BatchesProcessed: e.batchesProcessed.Load(),
		AlertsRaised:     e.alertsRaised.Load(),
		ActiveSessions:   e.sessions.ActiveCount(),
		DetectorsReady:   ready,
		LastFlush:        lastFlush,
	}
}

// consumeLoop is the single consumer. It accumulates events until either the
// batch size is reached or the oldest pending event has waited out the batch
// timeout, then flushes. The timeout clock starts at the first pending event.
func (e *Engine) consumeLoop() {
	defer e.wg.Done()

	pending := make([]*models.Event, 0, e.cfg.BatchSize)
	var windowStart time.Time

	for {
		if e.stopping.Load() {
			// Drain whatever the queue still holds, then final flush.
			for {
				ev, ok := e.queue.TryDequeue()
				if !ok {
					break
				}
				pending = append(pending, ev)
				if len(pending) >= e.cfg.BatchSize {
					e.flush(pending)
					pending = make([]*models.Event, 0, e.cfg.BatchSize)
				}
			}
			if len(pending) > 0 {
				e.flush(pending)
			}
			return
		}

		if ev, ok := e.queue.Dequeue(e.cfg.PollInterval); ok {
			if len(pending) == 0 {
				windowStart = time.Now()
			}
			pending = append(pending, ev)
		}

		if len(pending) == 0 {
			continue
		}
		if len(pending) >= e.cfg.BatchSize || time.Since(windowStart) >= e.cfg.BatchTimeout {
			e.flush(pending)
			pending = make([]*models.Event, 0, e.cfg.BatchSize)
		}
	}
}

// flush scores one batch end to end. It never returns an error: detector and
// persistence failures degrade the batch, they do not stop the pipeline.
func (e *Engine) flush(events []*models.Event) {
	started := time.Now()

	// Sessions absorb the batch before feature extraction so each event is
	// scored against a session that includes it.
	for _, ev := range events {
		e.sessions.Update(ev)
	}

	m := detect.Matrix(events, e.sessions.Snapshot)
	res := e.ensemble.ScoreBatch(m)

	raised := 0
	for i, ev := range events {
		score := res.Combined[i]
		severity := e.ensemble.Classify(score)
		if severity == "" {
			continue
		}
		if e.raiseAlert(ev, score, severity, res.Contributions[i]) {
			raised++
		}
	}

	if e.cfg.PersistEvents && e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.store.Events().InsertBatch(ctx, events); err != nil {
			e.log.WithError(err).Warn("failed to persist event batch")
		}
		cancel()
	}

	e.batchesProcessed.Add(1)
	e.eventsProcessed.Add(int64(len(events)))
	e.alertsRaised.Add(int64(raised))
	metrics.BatchesProcessedTotal.Inc()
	metrics.BatchSize.Observe(float64(len(events)))

	e.flushMu.Lock()
	e.lastFlush = time.Now()
	e.flushMu.Unlock()

	e.log.WithFields(logrus.Fields{
		"events":    len(events),
		"alerts":    raised,
		"detectors": res.DetectorsUsed,
		"took":      time.Since(started),
	}).Debug("batch flushed")
}

// raiseAlert assembles and persists one alert for an anomalous event.
func (e *Engine) raiseAlert(ev *models.Event, score float64, severity models.Severity, contribs []models.DetectorContribution) bool {
	alert := &models.Alert{
		ID:           uuid.NewString(),
		Timestamp:    ev.Timestamp,
		Severity:     severity,
		Status:       models.StatusOpen,
		AnomalyScore: score,
		Event:        ev,
		DetectionDetails: models.DetectionDetails{
			Detectors:     contribs,
			CombinedScore: score,
			Threshold:     e.ensemble.AlertThreshold(),
		},
		UserContext: models.UserContext{
			UserID:  ev.UserID,
			Session: e.sessions.Snapshot(ev.UserID),
		},
		RecommendedActions: alerts.RecommendedActions(severity, ev.EventType),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created, err := e.alertMgr.CreateAlert(ctx, alert)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"user_id": ev.UserID,
			"score":   score,
		}).Error("failed to create alert")
		return false
	}
	return created
}
