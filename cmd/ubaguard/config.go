// Package main provides the ubaguard daemon CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Log           LogConfig           `yaml:"log"`
	Server        HTTPConfig          `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Detection     DetectionConfig     `yaml:"detection"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Collectors    CollectorsConfig    `yaml:"collectors"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Retention     RetentionConfig     `yaml:"retention"`
	Baseline      BaselineConfig      `yaml:"baseline"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error (default: info)
	Format string `yaml:"format"` // text|json (default: text)
}

// HTTPConfig controls the management API.
type HTTPConfig struct {
	Addr        string  `yaml:"addr"`         // default: :8080
	IngestRate  float64 `yaml:"ingest_rate"`  // events endpoint requests/sec
	IngestBurst int     `yaml:"ingest_burst"` // burst allowance
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Path string `yaml:"path"` // default: data/ubaguard.db
}

// PipelineConfig controls queueing and batching.
type PipelineConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"` // default: 1000
	BatchSize     int           `yaml:"batch_size"`     // default: 10
	BatchTimeout  time.Duration `yaml:"batch_timeout"`  // default: 30s
	PollInterval  time.Duration `yaml:"poll_interval"`  // default: 1s
	PersistEvents *bool         `yaml:"persist_events"` // default: true
}

// DetectionConfig controls the detector ensemble.
type DetectionConfig struct {
	AlertThreshold     float64            `yaml:"alert_threshold"`      // default: 0.7
	HighAlertThreshold float64            `yaml:"high_alert_threshold"` // default: 0.9
	Weights            map[string]float64 `yaml:"weights"`              // default: isolation_forest 0.6, autoencoder 0.4
	IsolationForest    IsoForestConfig    `yaml:"isolation_forest"`
	Contamination      float64            `yaml:"contamination"` // shared anomaly fraction (default: 0.1)
}

// IsoForestConfig tunes the tree-ensemble detector.
type IsoForestConfig struct {
	Trees         int   `yaml:"trees"`          // default: 64
	SubsampleSize int   `yaml:"subsample_size"` // default: 256
	Seed          int64 `yaml:"seed"`
}

// SessionsConfig controls session tracking.
type SessionsConfig struct {
	Timeout          time.Duration `yaml:"timeout"`           // idle lifetime (default: 1h)
	EvictionInterval time.Duration `yaml:"eviction_interval"` // sweep period (default: 5m)
}

// CollectorsConfig enables and tunes event sources.
type CollectorsConfig struct {
	Synthetic  SyntheticCollectorConfig  `yaml:"synthetic"`
	FileAccess FileAccessCollectorConfig `yaml:"file_access"`
}

// SyntheticCollectorConfig tunes the synthetic source.
type SyntheticCollectorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`       // default: 30s
	UserCount    int           `yaml:"user_count"`     // default: 10
	EventsPerRun int           `yaml:"events_per_run"` // default: 20
	AnomalyRate  float64       `yaml:"anomaly_rate"`   // default: 0.05
	Seed         uint64        `yaml:"seed"`
}

// FileAccessCollectorConfig tunes filesystem monitoring.
type FileAccessCollectorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"` // default: 60s
	Paths    []string      `yaml:"paths"`
	UserID   string        `yaml:"user_id"`
}

// NotificationsConfig controls alert delivery.
type NotificationsConfig struct {
	Workers      int            `yaml:"workers"`        // default: 2
	QueueSize    int            `yaml:"queue_size"`     // default: 100
	MaxPerMinute int            `yaml:"max_per_minute"` // default: 10
	RateLimited  *bool          `yaml:"rate_limited"`   // default: true
	Email        EmailChannel   `yaml:"email"`
	Webhook      WebhookChannel `yaml:"webhook"`
}

// EmailChannel configures the SMTP channel.
type EmailChannel struct {
	Enabled                bool     `yaml:"enabled"`
	Host                   string   `yaml:"host"`
	Port                   int      `yaml:"port"`
	Username               string   `yaml:"username"`
	Password               string   `yaml:"password"`
	From                   string   `yaml:"from"`
	Recipients             []string `yaml:"recipients"`
	HighPriorityRecipients []string `yaml:"high_priority_recipients"`
}

// WebhookChannel configures the webhook channel.
type WebhookChannel struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// RetentionConfig controls the retention sweep.
type RetentionConfig struct {
	Days     int           `yaml:"days"`     // closed alert lifetime (default: 90)
	Interval time.Duration `yaml:"interval"` // sweep period (default: 24h)
}

// BaselineConfig controls detector retraining.
type BaselineConfig struct {
	Interval time.Duration `yaml:"interval"` // retrain period (default: 15m)
	Lookback time.Duration `yaml:"lookback"` // training window (default: 168h)
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.IngestRate <= 0 {
		c.Server.IngestRate = 50
	}
	if c.Server.IngestBurst <= 0 {
		c.Server.IngestBurst = 100
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/ubaguard.db"
	}
	if c.Pipeline.QueueCapacity <= 0 {
		c.Pipeline.QueueCapacity = 1000
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 10
	}
	if c.Pipeline.BatchTimeout <= 0 {
		c.Pipeline.BatchTimeout = 30 * time.Second
	}
	if c.Pipeline.PollInterval <= 0 {
		c.Pipeline.PollInterval = time.Second
	}
	if c.Pipeline.PersistEvents == nil {
		t := true
		c.Pipeline.PersistEvents = &t
	}
	if c.Detection.AlertThreshold <= 0 {
		c.Detection.AlertThreshold = 0.7
	}
	if c.Detection.HighAlertThreshold <= 0 {
		c.Detection.HighAlertThreshold = 0.9
	}
	if len(c.Detection.Weights) == 0 {
		c.Detection.Weights = map[string]float64{
			"isolation_forest": 0.6,
			"autoencoder":      0.4,
		}
	}
	if c.Detection.Contamination <= 0 {
		c.Detection.Contamination = 0.1
	}
	if c.Detection.IsolationForest.Trees <= 0 {
		c.Detection.IsolationForest.Trees = 64
	}
	if c.Detection.IsolationForest.SubsampleSize <= 0 {
		c.Detection.IsolationForest.SubsampleSize = 256
	}
	if c.Sessions.Timeout <= 0 {
		c.Sessions.Timeout = time.Hour
	}
	if c.Sessions.EvictionInterval <= 0 {
		c.Sessions.EvictionInterval = 5 * time.Minute
	}
	if c.Collectors.Synthetic.Interval <= 0 {
		c.Collectors.Synthetic.Interval = 30 * time.Second
	}
	if c.Collectors.FileAccess.Interval <= 0 {
		c.Collectors.FileAccess.Interval = 60 * time.Second
	}
	if c.Notifications.Workers <= 0 {
		c.Notifications.Workers = 2
	}
	if c.Notifications.QueueSize <= 0 {
		c.Notifications.QueueSize = 100
	}
	if c.Notifications.MaxPerMinute <= 0 {
		c.Notifications.MaxPerMinute = 10
	}
	if c.Notifications.RateLimited == nil {
		t := true
		c.Notifications.RateLimited = &t
	}
	if c.Retention.Days <= 0 {
		c.Retention.Days = 90
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = 24 * time.Hour
	}
	if c.Baseline.Interval <= 0 {
		c.Baseline.Interval = 15 * time.Minute
	}
	if c.Baseline.Lookback <= 0 {
		c.Baseline.Lookback = 7 * 24 * time.Hour
	}
}

// Validate checks the configuration for errors. An unusable persistence
// path is fatal at startup rather than a degraded-mode surprise later.
func (c *Config) Validate() error {
	if c.Detection.AlertThreshold <= 0 || c.Detection.AlertThreshold > 1 {
		return fmt.Errorf("detection.alert_threshold must be in (0, 1], got %v", c.Detection.AlertThreshold)
	}
	if c.Detection.HighAlertThreshold <= 0 || c.Detection.HighAlertThreshold > 1 {
		return fmt.Errorf("detection.high_alert_threshold must be in (0, 1], got %v", c.Detection.HighAlertThreshold)
	}
	if c.Detection.HighAlertThreshold < c.Detection.AlertThreshold {
		return fmt.Errorf("detection.high_alert_threshold (%v) must be >= alert_threshold (%v)",
			c.Detection.HighAlertThreshold, c.Detection.AlertThreshold)
	}
	for name, w := range c.Detection.Weights {
		if w <= 0 {
			return fmt.Errorf("detection.weights.%s must be positive, got %v", name, w)
		}
	}
	if c.Collectors.FileAccess.Enabled && len(c.Collectors.FileAccess.Paths) == 0 {
		return fmt.Errorf("collectors.file_access.paths is required when file_access is enabled")
	}
	if c.Notifications.Email.Enabled {
		e := c.Notifications.Email
		if e.Host == "" || e.From == "" || len(e.Recipients) == 0 {
			return fmt.Errorf("notifications.email requires host, from, and recipients when enabled")
		}
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when webhook is enabled")
	}

	if err := checkWritableDir(filepath.Dir(c.Database.Path)); err != nil {
		return fmt.Errorf("database.path is not usable: %w", err)
	}
	return nil
}

// checkWritableDir verifies that the directory exists (creating it if
// needed) and is writable by this process.
func checkWritableDir(dir string) error {
	if dir == "" || dir == "." {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".ubaguard-probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
