package coordinator

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ubaguard/ubaguard/internal/metrics"
)

// TaskFunc is one maintenance action. Errors are logged and counted; they
// never stop the scheduler or unschedule the task.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	due      time.Time
	index    int
}

// taskHeap orders tasks by due time.
type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) { t := x.(*task); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler runs periodic maintenance tasks from a single goroutine,
// always sleeping until the earliest due task. A task that runs long delays
// later tasks rather than overlapping them.
type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	log   *logrus.Entry

	wake    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.WithField("component", "scheduler")
	}
	return &Scheduler{
		log:     log,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Add registers a periodic task. The first run happens one interval from
// now. Add may be called before or after Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	heap.Push(&s.tasks, &task{
		name:     name,
		interval: interval,
		fn:       fn,
		due:      time.Now().Add(interval),
	})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the scheduler goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Stop halts the scheduler. A task in flight finishes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopped)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.tasks) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.tasks[0].due)
		}
		s.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.stopped:
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		} else {
			select {
			case <-s.stopped:
				return
			default:
			}
		}

		s.mu.Lock()
		if len(s.tasks) == 0 || s.tasks[0].due.After(time.Now()) {
			s.mu.Unlock()
			continue
		}
		next := s.tasks[0]
		s.mu.Unlock()

		s.execute(next)

		s.mu.Lock()
		next.due = time.Now().Add(next.interval)
		heap.Fix(&s.tasks, next.index)
		s.mu.Unlock()
	}
}

// execute runs one task with panic isolation.
func (s *Scheduler) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.MaintenanceRunsTotal.WithLabelValues(t.name, "panic").Inc()
			s.log.WithFields(logrus.Fields{"task": t.name, "panic": r}).Error("maintenance task panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	started := time.Now()
	if err := t.fn(ctx); err != nil {
		metrics.MaintenanceRunsTotal.WithLabelValues(t.name, "error").Inc()
		s.log.WithError(err).WithField("task", t.name).Warn("maintenance task failed")
		return
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(t.name, "ok").Inc()
	s.log.WithFields(logrus.Fields{
		"task": t.name,
		"took": time.Since(started),
	}).Debug("maintenance task completed")
}
