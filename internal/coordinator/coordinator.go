// Package coordinator runs the collection loops and periodic maintenance
// that keep the detection pipeline fed and healthy.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ubaguard/ubaguard/internal/alerts"
	"github.com/ubaguard/ubaguard/internal/collector"
	"github.com/ubaguard/ubaguard/internal/detect"
	"github.com/ubaguard/ubaguard/internal/engine"
	"github.com/ubaguard/ubaguard/internal/metrics"
	"github.com/ubaguard/ubaguard/internal/models"
	"github.com/ubaguard/ubaguard/internal/storage"
)

// ErrUnknownCollector is returned by ForceCollection when the named
// collector is not registered.
var ErrUnknownCollector = errors.New("unknown collector")

// Config holds coordinator timing knobs.
type Config struct {
	CollectTimeout    time.Duration // per-run collection deadline (default: 30s)
	ErrorBackoff      time.Duration // extra wait after a failed run (default: 5s)
	SessionTimeout    time.Duration // idle session lifetime (default: 1h)
	EvictionInterval  time.Duration // session sweep period (default: 5m)
	BaselineInterval  time.Duration // detector retrain period (default: 15m)
	BaselineLookback  time.Duration // training window over stored events (default: 7d)
	StatsInterval     time.Duration // stats log period (default: 1h)
	RetentionInterval time.Duration // retention sweep period (default: 24h)
	RetentionDays     int           // closed alert retention (default: 90)
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		CollectTimeout:    30 * time.Second,
		ErrorBackoff:      5 * time.Second,
		SessionTimeout:    time.Hour,
		EvictionInterval:  5 * time.Minute,
		BaselineInterval:  15 * time.Minute,
		BaselineLookback:  7 * 24 * time.Hour,
		StatsInterval:     time.Hour,
		RetentionInterval: 24 * time.Hour,
		RetentionDays:     90,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = def.CollectTimeout
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = def.ErrorBackoff
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = def.EvictionInterval
	}
	if c.BaselineInterval <= 0 {
		c.BaselineInterval = def.BaselineInterval
	}
	if c.BaselineLookback <= 0 {
		c.BaselineLookback = def.BaselineLookback
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = def.StatsInterval
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = def.RetentionInterval
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = def.RetentionDays
	}
}

// CollectorStatus is one collector's health as reported by the status API.
type CollectorStatus struct {
	Name            string     `json:"name"`
	Interval        string     `json:"interval"`
	Running         bool       `json:"running"`
	Runs            int64      `json:"runs"`
	Errors          int64      `json:"errors"`
	EventsCollected int64      `json:"events_collected"`
	EventsDropped   int64      `json:"events_dropped"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// PerformanceStats aggregates pipeline and collector counters.
type PerformanceStats struct {
	Pipeline   engine.Stats      `json:"pipeline"`
	Collectors []CollectorStatus `json:"collectors"`
}

type registration struct {
	collector collector.Collector
	interval  time.Duration

	mu              sync.Mutex
	runs            int64
	errors          int64
	eventsCollected int64
	eventsDropped   int64
	lastRun         *time.Time
	lastError       string
}

// Coordinator drives registered collectors on their own goroutines and runs
// the maintenance scheduler.
type Coordinator struct {
	cfg       Config
	pipeline  *engine.Engine
	alertMgr  *alerts.Manager
	store     storage.Storage
	registry  *detect.Registry
	scheduler *Scheduler
	log       *logrus.Entry

	mu         sync.RWMutex
	collectors []*registration
	running    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a coordinator. store may be nil when persistence is disabled;
// the maintenance tasks that need it are skipped.
func New(cfg Config, pipeline *engine.Engine, alertMgr *alerts.Manager, store storage.Storage, registry *detect.Registry, log *logrus.Entry) *Coordinator {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.WithField("component", "coordinator")
	}
	return &Coordinator{
		cfg:       cfg,
		pipeline:  pipeline,
		alertMgr:  alertMgr,
		store:     store,
		registry:  registry,
		scheduler: NewScheduler(log.WithField("component", "scheduler")),
		log:       log,
	}
}

// Register adds a collector with its polling interval. Registration after
// Start has no effect on the running set.
func (c *Coordinator) Register(col collector.Collector, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectors = append(c.collectors, &registration{collector: col, interval: interval})
}

// Start launches the pipeline, one goroutine per collector, and the
// maintenance scheduler.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	collectors := make([]*registration, len(c.collectors))
	copy(collectors, c.collectors)
	c.mu.Unlock()

	c.pipeline.Start()

	for _, reg := range collectors {
		if r, ok := reg.collector.(collector.Runner); ok {
			if err := r.Start(); err != nil {
				c.log.WithError(err).WithField("collector", reg.collector.Name()).
					Error("collector failed to start, skipping")
				continue
			}
		}
		c.wg.Add(1)
		go c.collectLoop(reg)
	}

	c.registerMaintenance()
	c.scheduler.Start()

	c.log.WithField("collectors", len(collectors)).Info("coordinator started")
	return nil
}

// Stop shuts everything down in dependency order: collectors first so no new
// events arrive, then the pipeline (final flush), then maintenance and
// notifications.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	c.mu.RLock()
	for _, reg := range c.collectors {
		if r, ok := reg.collector.(collector.Runner); ok {
			if err := r.Stop(); err != nil {
				c.log.WithError(err).WithField("collector", reg.collector.Name()).
					Warn("collector stop failed")
			}
		}
	}
	c.mu.RUnlock()

	c.scheduler.Stop()
	c.pipeline.Stop()
	err := c.alertMgr.Close()

	c.log.Info("coordinator stopped")
	return err
}

// collectLoop polls one collector at its interval, backing off after errors.
func (c *Coordinator) collectLoop(reg *registration) {
	defer c.wg.Done()

	name := reg.collector.Name()
	timer := time.NewTimer(reg.interval)
	defer timer.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-timer.C:
		}

		wait := reg.interval
		if err := c.runCollection(reg); err != nil {
			c.log.WithError(err).WithField("collector", name).Warn("collection failed")
			wait += c.cfg.ErrorBackoff
		}
		timer.Reset(wait)
	}
}

// runCollection performs one collection pass and feeds the pipeline.
func (c *Coordinator) runCollection(reg *registration) error {
	name := reg.collector.Name()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CollectTimeout)
	events, err := reg.collector.Collect(ctx)
	cancel()

	now := time.Now().UTC()
	reg.mu.Lock()
	reg.runs++
	reg.lastRun = &now
	if err != nil {
		reg.errors++
		reg.lastError = err.Error()
	} else {
		reg.lastError = ""
	}
	reg.mu.Unlock()

	if err != nil {
		metrics.CollectorRunsTotal.WithLabelValues(name, "error").Inc()
		return err
	}
	metrics.CollectorRunsTotal.WithLabelValues(name, "ok").Inc()

	accepted, dropped := 0, 0
	for _, ev := range events {
		if ev.Collector == "" {
			ev.Collector = name
		}
		if c.pipeline.AddEvent(ev) {
			accepted++
		} else {
			dropped++
		}
	}
	metrics.CollectorEventsTotal.WithLabelValues(name).Add(float64(accepted))

	reg.mu.Lock()
	reg.eventsCollected += int64(accepted)
	reg.eventsDropped += int64(dropped)
	reg.mu.Unlock()

	if dropped > 0 {
		c.log.WithFields(logrus.Fields{
			"collector": name,
			"dropped":   dropped,
		}).Warn("queue rejected events")
	}
	return nil
}

// ForceCollection runs collectors immediately, outside their schedules.
// An empty name runs every collector; results aggregate across them. The
// per-collector counters update exactly as scheduled runs do.
func (c *Coordinator) ForceCollection(ctx context.Context, name string) (int, error) {
	c.mu.RLock()
	var targets []*registration
	for _, reg := range c.collectors {
		if name == "" || reg.collector.Name() == name {
			targets = append(targets, reg)
		}
	}
	c.mu.RUnlock()

	if len(targets) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCollector, name)
	}

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	total := 0

	for _, reg := range targets {
		reg := reg
		g.Go(func() error {
			before := reg.eventsTotal()
			if err := c.runCollection(reg); err != nil {
				return fmt.Errorf("%s: %w", reg.collector.Name(), err)
			}
			mu.Lock()
			total += int(reg.eventsTotal() - before)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *registration) eventsTotal() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eventsCollected
}

// Status returns per-collector health.
func (c *Coordinator) Status() []CollectorStatus {
	c.mu.RLock()
	running := c.running
	collectors := make([]*registration, len(c.collectors))
	copy(collectors, c.collectors)
	c.mu.RUnlock()

	out := make([]CollectorStatus, 0, len(collectors))
	for _, reg := range collectors {
		reg.mu.Lock()
		out = append(out, CollectorStatus{
			Name:            reg.collector.Name(),
			Interval:        reg.interval.String(),
			Running:         running,
			Runs:            reg.runs,
			Errors:          reg.errors,
			EventsCollected: reg.eventsCollected,
			EventsDropped:   reg.eventsDropped,
			LastRun:         reg.lastRun,
			LastError:       reg.lastError,
		})
		reg.mu.Unlock()
	}
	return out
}

// Performance aggregates pipeline and collector counters for the API.
func (c *Coordinator) Performance() PerformanceStats {
	return PerformanceStats{
		Pipeline:   c.pipeline.Stats(),
		Collectors: c.Status(),
	}
}

// registerMaintenance wires the periodic housekeeping tasks.
func (c *Coordinator) registerMaintenance() {
	c.scheduler.Add("session_eviction", c.cfg.EvictionInterval, func(ctx context.Context) error {
		evicted := c.pipeline.Sessions().EvictIdle(c.cfg.SessionTimeout, time.Now().UTC())
		if evicted > 0 {
			c.log.WithField("evicted", evicted).Info("idle sessions evicted")
		}
		return nil
	})

	if c.store != nil && c.registry != nil {
		c.scheduler.Add("baseline_refresh", c.cfg.BaselineInterval, c.refreshBaselines)
	}

	c.scheduler.Add("stats", c.cfg.StatsInterval, func(ctx context.Context) error {
		stats, err := c.alertMgr.Statistics(ctx)
		if err != nil {
			return err
		}
		p := c.pipeline.Stats()
		c.log.WithFields(logrus.Fields{
			"total_alerts":     stats.Total,
			"active_alerts":    stats.Active,
			"events_processed": p.EventsProcessed,
			"events_dropped":   p.EventsDropped,
			"active_sessions":  p.ActiveSessions,
		}).Info("hourly statistics")
		return nil
	})

	if c.store != nil {
		c.scheduler.Add("retention", c.cfg.RetentionInterval, func(ctx context.Context) error {
			if _, err := c.alertMgr.CleanupOldAlerts(ctx, c.cfg.RetentionDays); err != nil {
				return err
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -c.cfg.RetentionDays)
			_, err := c.store.Events().DeleteBefore(ctx, cutoff)
			return err
		})
	}
}

// refreshBaselines retrains the detectors over the recent event trail and
// refreshes per-user baseline aggregates.
func (c *Coordinator) refreshBaselines(ctx context.Context) error {
	since := time.Now().UTC().Add(-c.cfg.BaselineLookback)
	events, err := c.store.Events().ListSince(ctx, since, 0)
	if err != nil {
		return fmt.Errorf("failed to load training events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	m := detect.Matrix(events, nil)
	trained := 0
	for _, reg := range c.registry.All() {
		t, ok := reg.Detector.(detect.Trainable)
		if !ok {
			continue
		}
		if err := t.Fit(m); err != nil {
			c.log.WithError(err).WithField("detector", reg.Detector.Name()).
				Warn("detector training failed")
			continue
		}
		trained++
	}

	if err := c.upsertBaselines(ctx, events); err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{
		"events":    len(events),
		"detectors": trained,
	}).Info("baselines refreshed")
	return nil
}

// upsertBaselines recomputes per-user behavioral aggregates.
func (c *Coordinator) upsertBaselines(ctx context.Context, events []*models.Event) error {
	type agg struct {
		count    int64
		riskSum  float64
		riskMax  float64
		offHours int64
	}
	byUser := make(map[string]*agg)
	for _, ev := range events {
		a, ok := byUser[ev.UserID]
		if !ok {
			a = &agg{}
			byUser[ev.UserID] = a
		}
		a.count++
		a.riskSum += ev.RiskScore
		a.riskMax = math.Max(a.riskMax, ev.RiskScore)
		if h := ev.Timestamp.Hour(); h < 7 || h > 19 {
			a.offHours++
		}
	}

	now := time.Now().UTC()
	for userID, a := range byUser {
		b := &models.UserBaseline{
			UserID:        userID,
			EventCount:    a.count,
			MeanRiskScore: a.riskSum / float64(a.count),
			MaxRiskScore:  a.riskMax,
			OffHoursRatio: float64(a.offHours) / float64(a.count),
			UpdatedAt:     now,
		}
		if err := c.store.Baselines().Upsert(ctx, b); err != nil {
			return fmt.Errorf("failed to upsert baseline for %s: %w", userID, err)
		}
	}
	return nil
}
