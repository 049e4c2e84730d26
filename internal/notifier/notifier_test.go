package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

// slowNotifier blocks in Send until released, to hold a dispatcher worker
// busy during queue-overflow tests.
type slowNotifier struct {
	release chan struct{}
	started atomic.Bool
}

func (s *slowNotifier) Name() string                      { return "slow" }
func (s *slowNotifier) Recipients(*models.Alert) []string { return []string{"ops@example.com"} }
func (s *slowNotifier) Close() error                      { return nil }
func (s *slowNotifier) Send(context.Context, *models.Alert) error {
	s.started.Store(true)
	<-s.release
	return nil
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type fakeNotifier struct {
	mu         sync.Mutex
	name       string
	recipients []string
	sendErr    error
	sent       []*models.Alert
	closed     bool
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Recipients(*models.Alert) []string { return f.recipients }

func (f *fakeNotifier) Send(_ context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, alert)
	return f.sendErr
}

func (f *fakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*models.NotificationRecord
}

func (r *fakeRecorder) Create(_ context.Context, rec *models.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) all() []*models.NotificationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.NotificationRecord, len(r.records))
	copy(out, r.records)
	return out
}

func dispatchAlert(id string) *models.Alert {
	return &models.Alert{
		ID:       id,
		Severity: models.SeverityHigh,
		Event: &models.Event{
			UserID:    "alice",
			EventType: models.EventTypeLogin,
			Timestamp: time.Now().UTC(),
		},
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RateLimit = RateLimitConfig{Enabled: false}
	return opts
}

func TestDispatcherDeliversAndRecords(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDispatcher(rec, testOptions(), nil)

	ch := &fakeNotifier{name: "email", recipients: []string{"a@example.com", "b@example.com"}}
	d.Register(ch)

	d.Enqueue(dispatchAlert("a-1"))
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := ch.sentCount(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}

	records := rec.all()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (one per recipient)", len(records))
	}
	for _, r := range records {
		if r.AlertID != "a-1" || r.Channel != "email" {
			t.Errorf("record = %+v", r)
		}
		if r.Status != models.NotificationSent {
			t.Errorf("status = %s, want %s", r.Status, models.NotificationSent)
		}
		if r.ErrorMessage != "" {
			t.Errorf("unexpected error message %q", r.ErrorMessage)
		}
	}

	if !ch.closed {
		t.Error("channel not closed on dispatcher close")
	}
}

func TestDispatcherRecordsFailures(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDispatcher(rec, testOptions(), nil)
	d.Register(&fakeNotifier{
		name:       "webhook",
		recipients: []string{"https://hooks.example.com/uba"},
		sendErr:    errors.New("connection refused"),
	})

	d.Enqueue(dispatchAlert("a-1"))
	d.Close()

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Status != models.NotificationFailed {
		t.Errorf("status = %s, want %s", records[0].Status, models.NotificationFailed)
	}
	if records[0].ErrorMessage != "connection refused" {
		t.Errorf("error message = %q", records[0].ErrorMessage)
	}
}

func TestDispatcherFailureIsolatedPerChannel(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDispatcher(rec, testOptions(), nil)

	bad := &fakeNotifier{name: "email", recipients: []string{"a@example.com"}, sendErr: errors.New("smtp down")}
	good := &fakeNotifier{name: "webhook", recipients: []string{"https://hooks.example.com/uba"}}
	d.Register(bad)
	d.Register(good)

	d.Enqueue(dispatchAlert("a-1"))
	d.Close()

	if got := good.sentCount(); got != 1 {
		t.Errorf("healthy channel sends = %d, want 1", got)
	}

	byStatus := map[models.NotificationStatus]int{}
	for _, r := range rec.all() {
		byStatus[r.Status]++
	}
	if byStatus[models.NotificationSent] != 1 || byStatus[models.NotificationFailed] != 1 {
		t.Errorf("status counts = %v", byStatus)
	}
}

func TestDispatcherRateLimitedRecordedAsFailed(t *testing.T) {
	rec := &fakeRecorder{}
	opts := testOptions()
	opts.Workers = 1
	opts.RateLimit = RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: true}
	d := NewDispatcher(rec, opts, nil)

	ch := &fakeNotifier{name: "email", recipients: []string{"a@example.com"}}
	d.Register(ch)

	d.Enqueue(dispatchAlert("a-1"))
	d.Enqueue(dispatchAlert("a-2"))
	d.Close()

	if got := ch.sentCount(); got != 1 {
		t.Errorf("sends = %d, want 1", got)
	}

	records := rec.all()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	failed := 0
	for _, r := range records {
		if r.Status == models.NotificationFailed {
			failed++
			if r.ErrorMessage != "notification rate limited" {
				t.Errorf("error message = %q", r.ErrorMessage)
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed records = %d, want 1", failed)
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	// No workers would deadlock Close, so use a tiny queue with a slow
	// channel instead: first job occupies the worker, the rest fill the
	// buffer of one and overflow.
	release := make(chan struct{})
	slow := &slowNotifier{release: release}
	rec := &fakeRecorder{}

	opts := testOptions()
	opts.Workers = 1
	opts.QueueSize = 1
	d := NewDispatcher(rec, opts, nil)
	d.Register(slow)

	d.Enqueue(dispatchAlert("a-1")) // taken by the worker
	waitUntil(t, func() bool { return slow.started.Load() })
	d.Enqueue(dispatchAlert("a-2")) // fills the buffer
	d.Enqueue(dispatchAlert("a-3")) // dropped

	close(release)
	d.Close()

	if got := d.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	// The dropped alert still leaves a failed attempt in the audit trail.
	var droppedRecs []*models.NotificationRecord
	for _, r := range rec.all() {
		if r.AlertID == "a-3" {
			droppedRecs = append(droppedRecs, r)
		}
	}
	if len(droppedRecs) != 1 {
		t.Fatalf("records for a-3 = %d, want 1", len(droppedRecs))
	}
	if droppedRecs[0].Status != models.NotificationFailed {
		t.Errorf("status = %s, want %s", droppedRecs[0].Status, models.NotificationFailed)
	}
	if droppedRecs[0].ErrorMessage != "notification queue full" {
		t.Errorf("error = %q, want %q", droppedRecs[0].ErrorMessage, "notification queue full")
	}
}

func TestDispatcherEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(nil, testOptions(), nil)
	d.Close()
	d.Enqueue(dispatchAlert("a-1")) // must not panic on the closed channel
	d.Close()                       // idempotent
}

func TestDispatcherConcurrentEnqueueClose(t *testing.T) {
	d := NewDispatcher(nil, testOptions(), nil)
	d.Register(&fakeNotifier{name: "email", recipients: []string{"a@example.com"}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				d.Enqueue(dispatchAlert("a-race")) // must not panic on a racing Close
			}
		}()
	}
	d.Close()
	wg.Wait()
}
