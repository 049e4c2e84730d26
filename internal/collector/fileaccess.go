package collector

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ubaguard/ubaguard/internal/models"
)

// FileAccessConfig configures filesystem monitoring.
type FileAccessConfig struct {
	Paths      []string // directories to watch
	BufferSize int      // internal event buffer (default: 1024)
	UserID     string   // attributed user; defaults to the process owner
}

// FileAccessCollector watches directories for file activity. A background
// goroutine translates filesystem notifications into events; Collect drains
// whatever accumulated since the previous poll.
type FileAccessCollector struct {
	cfg     FileAccessConfig
	watcher *fsnotify.Watcher
	buf     chan *models.Event
	log     *logrus.Entry
	machine string

	wg      sync.WaitGroup
	stopped chan struct{}
	started bool
	mu      sync.Mutex
}

// NewFileAccessCollector creates a filesystem collector. The watcher starts
// on Start, not here.
func NewFileAccessCollector(cfg FileAccessConfig, log *logrus.Entry) (*FileAccessCollector, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("at least one watch path is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.UserID == "" {
		if u, err := user.Current(); err == nil {
			cfg.UserID = u.Username
		} else {
			cfg.UserID = "unknown"
		}
	}
	if log == nil {
		log = logrus.WithField("component", "collector.file_access")
	}
	hostname, _ := os.Hostname()

	return &FileAccessCollector{
		cfg:     cfg,
		buf:     make(chan *models.Event, cfg.BufferSize),
		log:     log,
		machine: hostname,
		stopped: make(chan struct{}),
	}, nil
}

// Name returns "file_access".
func (c *FileAccessCollector) Name() string {
	return "file_access"
}

// Start opens the watcher and begins buffering notifications.
func (c *FileAccessCollector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, p := range c.cfg.Paths {
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}
	c.watcher = watcher
	c.started = true

	c.wg.Add(1)
	go c.run()

	c.log.WithField("paths", c.cfg.Paths).Info("file access monitoring started")
	return nil
}

// Stop closes the watcher and stops the background goroutine.
func (c *FileAccessCollector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	close(c.stopped)
	err := c.watcher.Close()
	c.wg.Wait()
	return err
}

// Collect drains the buffered events. It never blocks.
func (c *FileAccessCollector) Collect(_ context.Context) ([]*models.Event, error) {
	var events []*models.Event
	for {
		select {
		case ev := <-c.buf:
			events = append(events, ev)
		default:
			return events, nil
		}
	}
}

func (c *FileAccessCollector) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopped:
			return
		case fsEv, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev := c.translate(fsEv); ev != nil {
				select {
				case c.buf <- ev:
				default:
					// Buffer full; the burst is lost rather than blocking
					// the watcher.
				}
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.WithError(err).Warn("watcher error")
		}
	}
}

// translate maps one filesystem notification to a pipeline event, or nil for
// operations that carry no signal.
func (c *FileAccessCollector) translate(fsEv fsnotify.Event) *models.Event {
	var eventType models.EventType
	switch {
	case fsEv.Op.Has(fsnotify.Create), fsEv.Op.Has(fsnotify.Write):
		eventType = models.EventTypeFileWrite
	case fsEv.Op.Has(fsnotify.Remove), fsEv.Op.Has(fsnotify.Rename):
		eventType = models.EventTypeFileDelete
	case fsEv.Op.Has(fsnotify.Chmod):
		eventType = models.EventTypeFileAccess
	default:
		return nil
	}

	var size int64
	if info, err := os.Stat(fsEv.Name); err == nil {
		size = info.Size()
	}

	return &models.Event{
		ID:          uuid.NewString(),
		UserID:      c.cfg.UserID,
		EventType:   eventType,
		Timestamp:   time.Now().UTC(),
		MachineName: c.machine,
		Collector:   c.Name(),
		RiskScore:   FileRisk(fsEv.Name, size),
		Payload: map[string]interface{}{
			"path":      fsEv.Name,
			"operation": fsEv.Op.String(),
			"size":      size,
		},
	}
}
