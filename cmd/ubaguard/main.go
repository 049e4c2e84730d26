package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ubaguard/ubaguard/internal/alerts"
	"github.com/ubaguard/ubaguard/internal/api"
	"github.com/ubaguard/ubaguard/internal/collector"
	"github.com/ubaguard/ubaguard/internal/coordinator"
	"github.com/ubaguard/ubaguard/internal/detect"
	"github.com/ubaguard/ubaguard/internal/engine"
	"github.com/ubaguard/ubaguard/internal/notifier"
	"github.com/ubaguard/ubaguard/internal/storage"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var (
	configFile string
	listenAddr string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ubaguard",
	Short: "UBAGuard - behavioral anomaly detection for insider threats",
	Long: `UBAGuard collects user activity events, scores them in real time
through an ensemble of anomaly detectors, and manages the resulting
alerts through triage, notification, and retention.`,
	RunE:          runDaemon,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ubaguard %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "address", "a", "", "http listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("ubaguard failed")
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	log.WithField("version", version).Info("starting ubaguard")

	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.WithField("path", cfg.Database.Path).Info("database ready")

	registry := buildRegistry(cfg)
	ensemble := detect.NewEnsemble(registry, detect.EnsembleConfig{
		AlertThreshold:     cfg.Detection.AlertThreshold,
		HighAlertThreshold: cfg.Detection.HighAlertThreshold,
	}, log.WithField("component", "ensemble"))

	dispatcher, err := buildDispatcher(cfg, store, log)
	if err != nil {
		return err
	}

	alertMgr := alerts.NewManager(store, dispatcher, log.WithField("component", "alerts"))

	pipeline := engine.New(engine.Config{
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		BatchSize:     cfg.Pipeline.BatchSize,
		BatchTimeout:  cfg.Pipeline.BatchTimeout,
		PollInterval:  cfg.Pipeline.PollInterval,
		PersistEvents: *cfg.Pipeline.PersistEvents,
	}, ensemble, alertMgr, store, log.WithField("component", "engine"))

	coord := coordinator.New(coordinator.Config{
		SessionTimeout:    cfg.Sessions.Timeout,
		EvictionInterval:  cfg.Sessions.EvictionInterval,
		BaselineInterval:  cfg.Baseline.Interval,
		BaselineLookback:  cfg.Baseline.Lookback,
		RetentionInterval: cfg.Retention.Interval,
		RetentionDays:     cfg.Retention.Days,
	}, pipeline, alertMgr, store, registry, log.WithField("component", "coordinator"))

	if err := registerCollectors(cfg, coord, log); err != nil {
		return err
	}

	if err := coord.Start(); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	server := api.NewServer(api.Config{
		Addr:        cfg.Server.Addr,
		IngestRate:  cfg.Server.IngestRate,
		IngestBurst: cfg.Server.IngestBurst,
	}, pipeline, alertMgr, coord, store, log.WithField("component", "api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		if err := server.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("http shutdown failed")
		}
		return coord.Stop()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("ubaguard stopped")
	return nil
}

func loadDaemonConfig() (*Config, error) {
	var cfg *Config
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	return cfg, nil
}

func setupLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	if cfg.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// buildRegistry wires the detector ensemble from config weights.
func buildRegistry(cfg *Config) *detect.Registry {
	registry := detect.NewRegistry()

	isoWeight, ok := cfg.Detection.Weights["isolation_forest"]
	if !ok {
		isoWeight = 0.6
	}
	registry.Register(isoWeight, detect.NewIsolationForest(detect.IsolationForestConfig{
		Trees:         cfg.Detection.IsolationForest.Trees,
		SubsampleSize: cfg.Detection.IsolationForest.SubsampleSize,
		Contamination: cfg.Detection.Contamination,
		Seed:          cfg.Detection.IsolationForest.Seed,
	}))

	aeWeight, ok := cfg.Detection.Weights["autoencoder"]
	if !ok {
		aeWeight = 0.4
	}
	registry.Register(aeWeight, detect.NewReconstructionDetector(detect.ReconstructionConfig{
		Contamination: cfg.Detection.Contamination,
	}))

	return registry
}

// buildDispatcher wires enabled notification channels. A config with no
// channels yields a nil dispatcher and alerting stays local.
func buildDispatcher(cfg *Config, store storage.Storage, log *logrus.Logger) (*notifier.Dispatcher, error) {
	n := cfg.Notifications
	if !n.Email.Enabled && !n.Webhook.Enabled {
		return nil, nil
	}

	dispatcher := notifier.NewDispatcher(store.Notifications(), notifier.Options{
		Workers:   n.Workers,
		QueueSize: n.QueueSize,
		RateLimit: notifier.RateLimitConfig{
			MaxPerWindow: n.MaxPerMinute,
			Enabled:      *n.RateLimited,
		},
	}, log.WithField("component", "notifier"))

	if n.Email.Enabled {
		email, err := notifier.NewEmailNotifier(notifier.EmailConfig{
			Host:                   n.Email.Host,
			Port:                   n.Email.Port,
			Username:               n.Email.Username,
			Password:               n.Email.Password,
			From:                   n.Email.From,
			Recipients:             n.Email.Recipients,
			HighPriorityRecipients: n.Email.HighPriorityRecipients,
		})
		if err != nil {
			return nil, fmt.Errorf("configure email channel: %w", err)
		}
		dispatcher.Register(email)
	}

	if n.Webhook.Enabled {
		webhook, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{
			URL:     n.Webhook.URL,
			Headers: n.Webhook.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("configure webhook channel: %w", err)
		}
		dispatcher.Register(webhook)
	}
	return dispatcher, nil
}

// registerCollectors wires enabled event sources into the coordinator.
func registerCollectors(cfg *Config, coord *coordinator.Coordinator, log *logrus.Logger) error {
	if cfg.Collectors.Synthetic.Enabled {
		s := cfg.Collectors.Synthetic
		coord.Register(collector.NewSyntheticCollector(collector.SyntheticConfig{
			UserCount:    s.UserCount,
			EventsPerRun: s.EventsPerRun,
			AnomalyRate:  s.AnomalyRate,
			Seed:         s.Seed,
		}, log.WithField("component", "collector.synthetic")), s.Interval)
	}

	if cfg.Collectors.FileAccess.Enabled {
		f := cfg.Collectors.FileAccess
		fa, err := collector.NewFileAccessCollector(collector.FileAccessConfig{
			Paths:  f.Paths,
			UserID: f.UserID,
		}, log.WithField("component", "collector.file_access"))
		if err != nil {
			return fmt.Errorf("configure file access collector: %w", err)
		}
		coord.Register(fa, f.Interval)
	}

	if len(coord.Status()) == 0 {
		log.Warn("no collectors enabled; events arrive only via the API")
	}
	return nil
}
