package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, counter *atomic.Int64, want int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter = %d, want at least %d", counter.Load(), want)
}

func TestSchedulerRunsTaskRepeatedly(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var runs atomic.Int64
	s.Add("tick", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start()

	waitForCount(t, &runs, 3, 3*time.Second)
}

func TestSchedulerAddAfterStart(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()
	s.Start()

	var runs atomic.Int64
	s.Add("late", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	waitForCount(t, &runs, 1, 3*time.Second)
}

func TestSchedulerSurvivesErrorsAndPanics(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var failing, panicking, healthy atomic.Int64
	s.Add("failing", 15*time.Millisecond, func(ctx context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	})
	s.Add("panicking", 15*time.Millisecond, func(ctx context.Context) error {
		panicking.Add(1)
		panic("boom")
	})
	s.Add("healthy", 15*time.Millisecond, func(ctx context.Context) error {
		healthy.Add(1)
		return nil
	})
	s.Start()

	// All three keep getting rescheduled.
	waitForCount(t, &failing, 2, 3*time.Second)
	waitForCount(t, &panicking, 2, 3*time.Second)
	waitForCount(t, &healthy, 2, 3*time.Second)
}

func TestSchedulerStopHaltsExecution(t *testing.T) {
	s := NewScheduler(nil)

	var runs atomic.Int64
	s.Add("tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start()
	waitForCount(t, &runs, 1, 3*time.Second)
	s.Stop()

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != after {
		t.Errorf("task ran %d more times after Stop", got-after)
	}

	// Stop is idempotent.
	s.Stop()
}

func TestSchedulerStartIdempotent(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()
	s.Start()
	s.Start()
}
