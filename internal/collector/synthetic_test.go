package collector

import (
	"context"
	"testing"
)

func TestSyntheticCollectorProducesConfiguredCount(t *testing.T) {
	c := NewSyntheticCollector(SyntheticConfig{
		UserCount:    5,
		EventsPerRun: 25,
		AnomalyRate:  0.05,
		Seed:         42,
	}, nil)

	events, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 25 {
		t.Fatalf("events = %d, want 25", len(events))
	}

	users := map[string]struct{}{}
	for i, ev := range events {
		if ev.ID == "" {
			t.Errorf("event %d has no id", i)
		}
		if ev.UserID == "" {
			t.Errorf("event %d has no user", i)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %d has no timestamp", i)
		}
		if ev.Collector != "synthetic" {
			t.Errorf("event %d collector = %q", i, ev.Collector)
		}
		if ev.RiskScore < 0 || ev.RiskScore > 1 {
			t.Errorf("event %d risk = %v, want in [0, 1]", i, ev.RiskScore)
		}
		users[ev.UserID] = struct{}{}
	}
	if len(users) > 5 {
		t.Errorf("distinct users = %d, want at most 5", len(users))
	}
}

func TestSyntheticCollectorDeterministicWithSeed(t *testing.T) {
	a := NewSyntheticCollector(SyntheticConfig{Seed: 7}, nil)
	b := NewSyntheticCollector(SyntheticConfig{Seed: 7}, nil)

	ea, err := a.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect a: %v", err)
	}
	eb, err := b.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect b: %v", err)
	}

	if len(ea) != len(eb) {
		t.Fatalf("lengths differ: %d vs %d", len(ea), len(eb))
	}
	for i := range ea {
		if ea[i].UserID != eb[i].UserID || ea[i].EventType != eb[i].EventType || ea[i].RiskScore != eb[i].RiskScore {
			t.Errorf("event %d differs: %+v vs %+v", i, ea[i], eb[i])
		}
	}
}

func TestSyntheticCollectorAllAnomalous(t *testing.T) {
	c := NewSyntheticCollector(SyntheticConfig{
		EventsPerRun: 40,
		AnomalyRate:  1.0,
		Seed:         13,
	}, nil)

	events, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	// Every anomalous variant carries elevated risk.
	for i, ev := range events {
		if ev.RiskScore < 0.5 {
			t.Errorf("event %d (%s) risk = %v, want >= 0.5 when everything is anomalous", i, ev.EventType, ev.RiskScore)
		}
	}
}

func TestSyntheticCollectorDefaults(t *testing.T) {
	c := NewSyntheticCollector(SyntheticConfig{}, nil)
	if c.cfg.UserCount != 10 {
		t.Errorf("user count = %d, want 10", c.cfg.UserCount)
	}
	if c.cfg.EventsPerRun != 20 {
		t.Errorf("events per run = %d, want 20", c.cfg.EventsPerRun)
	}
	if c.cfg.AnomalyRate != 0.05 {
		t.Errorf("anomaly rate = %v, want 0.05", c.cfg.AnomalyRate)
	}
}
