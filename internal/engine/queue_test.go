package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

func queueEvent(i int) *models.Event {
	return &models.Event{
		ID:        fmt.Sprintf("ev-%d", i),
		UserID:    "alice",
		EventType: models.EventTypeLogin,
		Timestamp: time.Now().UTC(),
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewEventQueue(3)
	for i := 0; i < 3; i++ {
		if !q.Enqueue(queueEvent(i)) {
			t.Fatalf("enqueue %d refused below capacity", i)
		}
	}
	if q.Enqueue(queueEvent(3)) {
		t.Error("enqueue at capacity should be refused")
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	if got := q.Enqueued(); got != 3 {
		t.Errorf("enqueued = %d, want 3", got)
	}
	if q.Len() != 3 || q.Cap() != 3 {
		t.Errorf("len/cap = %d/%d, want 3/3", q.Len(), q.Cap())
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewEventQueue(10)
	for i := 0; i < 4; i++ {
		q.Enqueue(queueEvent(i))
	}
	for i := 0; i < 4; i++ {
		ev, ok := q.Dequeue(time.Second)
		if !ok {
			t.Fatalf("dequeue %d timed out", i)
		}
		if want := fmt.Sprintf("ev-%d", i); ev.ID != want {
			t.Errorf("dequeue %d = %s, want %s", i, ev.ID, want)
		}
	}
}

func TestQueueDequeueTimeout(t *testing.T) {
	q := NewEventQueue(1)
	start := time.Now()
	if _, ok := q.Dequeue(20 * time.Millisecond); ok {
		t.Error("dequeue on empty queue should time out")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("dequeue returned after %v, want at least 20ms", elapsed)
	}
}

func TestQueueTryDequeueEmpty(t *testing.T) {
	q := NewEventQueue(1)
	if _, ok := q.TryDequeue(); ok {
		t.Error("try-dequeue on empty queue should report no event")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewEventQueue(5)
	q.Enqueue(queueEvent(0))
	q.Enqueue(queueEvent(1))
	q.Close()

	if q.Enqueue(queueEvent(2)) {
		t.Error("enqueue after close should be refused")
	}

	// Buffered events stay readable after close.
	for i := 0; i < 2; i++ {
		if _, ok := q.TryDequeue(); !ok {
			t.Fatalf("buffered event %d lost on close", i)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Error("drained closed queue should report no event")
	}

	// Close is idempotent.
	q.Close()
}

func TestQueueConcurrentEnqueueClose(t *testing.T) {
	q := NewEventQueue(8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				q.Enqueue(queueEvent(n*500 + j)) // must not panic on a racing Close
			}
		}(i)
	}
	q.Close()
	wg.Wait()

	if q.Enqueue(queueEvent(0)) {
		t.Error("enqueue after close should be refused")
	}
}
