// Package engine implements the real-time scoring pipeline: a bounded
// event queue, a windowed batch consumer, per-user session tracking, and
// alert generation through the detector ensemble.
package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ubaguard/ubaguard/internal/metrics"
	"github.com/ubaguard/ubaguard/internal/models"
)

var (
	// ErrQueueFull is returned when the queue is at capacity. The event is
	// dropped and counted; producers are never blocked.
	ErrQueueFull = errors.New("event queue is full")

	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("event queue is closed")
)

// EventQueue is the bounded buffer between collector goroutines and the
// single batch consumer. It is the pipeline's only backpressure point.
type EventQueue struct {
	ch      chan *models.Event
	closeMu sync.RWMutex
	closed  bool

	enqueued atomic.Int64
	dropped  atomic.Int64
}

// NewEventQueue creates a queue with the given capacity.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &EventQueue{
		ch: make(chan *models.Event, capacity),
	}
}

// Enqueue offers an event without blocking. It returns false when the queue
// is full or closed; the caller is expected to drop the event.
func (q *EventQueue) Enqueue(ev *models.Event) bool {
	// The read lock orders the channel send before Close, which holds the
	// write lock while closing the channel.
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- ev:
		q.enqueued.Add(1)
		metrics.EventsEnqueuedTotal.Inc()
		metrics.QueueOccupancy.Set(float64(len(q.ch)))
		return true
	default:
		q.dropped.Add(1)
		metrics.EventsDroppedTotal.Inc()
		return false
	}
}

// Dequeue waits up to timeout for the next event. The second return value is
// false when the wait timed out or the queue was closed and drained.
func (q *EventQueue) Dequeue(timeout time.Duration) (*models.Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-q.ch:
		if !ok {
			return nil, false
		}
		metrics.QueueOccupancy.Set(float64(len(q.ch)))
		return ev, true
	case <-timer.C:
		return nil, false
	}
}

// TryDequeue returns the next event without waiting.
func (q *EventQueue) TryDequeue() (*models.Event, bool) {
	select {
	case ev, ok := <-q.ch:
		if !ok {
			return nil, false
		}
		metrics.QueueOccupancy.Set(float64(len(q.ch)))
		return ev, true
	default:
		return nil, false
	}
}

// Len returns the current occupancy.
func (q *EventQueue) Len() int {
	return len(q.ch)
}

// Cap returns the configured capacity.
func (q *EventQueue) Cap() int {
	return cap(q.ch)
}

// Enqueued returns the total number of accepted events.
func (q *EventQueue) Enqueued() int64 {
	return q.enqueued.Load()
}

// Dropped returns the total number of rejected events.
func (q *EventQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops the queue. Later enqueues return false; buffered events remain
// readable until drained. Safe to call more than once.
func (q *EventQueue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
