package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ubaguard/ubaguard/internal/models"
)

func TestFileAccessCollectorRequiresPaths(t *testing.T) {
	if _, err := NewFileAccessCollector(FileAccessConfig{}, nil); err == nil {
		t.Error("no paths should be rejected")
	}
}

func TestFileAccessCollectorObservesWrites(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileAccessCollector(FileAccessConfig{
		Paths:  []string{dir},
		UserID: "alice",
	}, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if err := os.WriteFile(filepath.Join(dir, "report.txt"), []byte("q3 numbers"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	var events []*models.Event
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(events) == 0 {
		got, err := c.Collect(context.Background())
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		events = append(events, got...)
		time.Sleep(20 * time.Millisecond)
	}
	if len(events) == 0 {
		t.Fatal("no events observed for a file write")
	}

	ev := events[0]
	if ev.EventType != models.EventTypeFileWrite {
		t.Errorf("event type = %s, want %s", ev.EventType, models.EventTypeFileWrite)
	}
	if ev.UserID != "alice" {
		t.Errorf("user = %q, want alice", ev.UserID)
	}
	if ev.Collector != "file_access" {
		t.Errorf("collector = %q", ev.Collector)
	}
	if ev.Payload["path"] == "" {
		t.Error("payload missing path")
	}
}

func TestFileAccessCollectorStartStopIdempotent(t *testing.T) {
	c, err := NewFileAccessCollector(FileAccessConfig{Paths: []string{t.TempDir()}}, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Errorf("second start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestTranslate(t *testing.T) {
	c, err := NewFileAccessCollector(FileAccessConfig{Paths: []string{t.TempDir()}, UserID: "alice"}, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	tests := []struct {
		op   fsnotify.Op
		want models.EventType
	}{
		{fsnotify.Create, models.EventTypeFileWrite},
		{fsnotify.Write, models.EventTypeFileWrite},
		{fsnotify.Remove, models.EventTypeFileDelete},
		{fsnotify.Rename, models.EventTypeFileDelete},
		{fsnotify.Chmod, models.EventTypeFileAccess},
	}
	for _, tt := range tests {
		ev := c.translate(fsnotify.Event{Name: "/tmp/secret/dump.sql", Op: tt.op})
		if ev == nil {
			t.Fatalf("%s: no event", tt.op)
		}
		if ev.EventType != tt.want {
			t.Errorf("%s: event type = %s, want %s", tt.op, ev.EventType, tt.want)
		}
		if ev.RiskScore <= 0.1 {
			t.Errorf("%s: risk = %v, want elevated for a sensitive sql path", tt.op, ev.RiskScore)
		}
	}
}
