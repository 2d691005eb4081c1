package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler errors
var (
	// ErrNotRunning is returned when a task is submitted before Start or
	// after Stop. This is a caller bug and is never retried internally.
	ErrNotRunning = errors.New("scheduler is not running")
	// ErrQueueFull is the backpressure signal: the bounded queue is at
	// capacity and the caller must decide to retry, degrade, or reject.
	ErrQueueFull = errors.New("scheduler queue is full")
	// ErrCanceled resolves handles of tasks that were still queued when a
	// shutdown was forced.
	ErrCanceled = errors.New("task canceled: scheduler stopped")
)

const (
	// DefaultQueueSize bounds the ready queue when Config.QueueSize is unset.
	DefaultQueueSize = 1000

	// forcedExitGrace is how long Stop waits for the worker after forcing
	// cancellation before abandoning it. An action that ignores its context
	// cannot be killed, only orphaned.
	forcedExitGrace = time.Second
)

// Config holds scheduler tunables.
type Config struct {
	// QueueSize bounds the ready queue. Submissions beyond it fail with
	// ErrQueueFull.
	QueueSize int
}

// Stats is a point-in-time snapshot of scheduler counters. It is built from
// atomics and never touches the queue lock, so it is safe to read from any
// goroutine at any frequency.
type Stats struct {
	Queued    int64 // tasks currently in the ready queue
	Submitted int64 // total accepted submissions
	Completed int64 // tasks resolved successfully
	Failed    int64 // tasks resolved with an error (including cancellation)
	Running   int64 // tasks executing right now (0 or 1)
	IsRunning bool  // worker lifetime state
}

// Scheduler executes submitted tasks one at a time in (priority, arrival)
// order. See the package documentation for the ordering and failure
// guarantees.
type Scheduler struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	queue    taskQueue
	seq      uint64
	running  bool
	stopping bool

	wake         chan struct{}
	drain        chan struct{}
	workerDone   chan struct{}
	workerCancel context.CancelFunc

	queued    atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	executing atomic.Int64
}

// New creates a scheduler. The logger may be nil.
func New(cfg Config, log *slog.Logger) *Scheduler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg, log: log}
}

// Start launches the worker goroutine. Calling Start while the scheduler is
// already running is a no-op. A stopped scheduler can be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.wake = make(chan struct{}, 1)
	s.drain = make(chan struct{})
	s.workerDone = make(chan struct{})
	s.workerCancel = cancel
	s.running = true
	s.stopping = false

	go s.worker(ctx, s.wake, s.drain, s.workerDone)
	s.log.Info("scheduler started", "queue_size", s.cfg.QueueSize)
}

// Stop drains queued work and shuts the worker down. It waits up to timeout
// for a graceful drain; past that it cancels the worker context and resolves
// every task still queued with ErrCanceled. No handle is ever left pending.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	drain := s.drain
	done := s.workerDone
	cancel := s.workerCancel
	s.mu.Unlock()

	close(drain)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.log.Warn("scheduler did not drain in time, forcing cancellation")
		cancel()
		grace := time.NewTimer(forcedExitGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			s.log.Error("scheduler worker did not exit after cancellation; abandoning it")
		}
	}
	cancel()

	s.mu.Lock()
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*task)
		s.queued.Add(-1)
		s.failed.Add(1)
		t.handle.resolve(nil, ErrCanceled)
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("scheduler stopped")
}

// Submit enqueues a task and blocks until it resolves or ctx is done. A ctx
// error abandons the wait; the task itself still runs.
func (s *Scheduler) Submit(ctx context.Context, priority Priority, action Action) (any, error) {
	h, err := s.SubmitNoWait(priority, action)
	if err != nil {
		return nil, err
	}
	return h.Result(ctx)
}

// SubmitNoWait enqueues a task and returns its handle immediately. The
// caller may await the handle or discard it. ErrNotRunning and ErrQueueFull
// are raised synchronously at submission time.
func (s *Scheduler) SubmitNoWait(priority Priority, action Action) (*Handle, error) {
	if action == nil {
		return nil, fmt.Errorf("action must not be nil")
	}

	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	if s.queue.Len() >= s.cfg.QueueSize {
		s.mu.Unlock()
		return nil, ErrQueueFull
	}

	s.seq++
	t := &task{
		priority: priority,
		seq:      s.seq,
		action:   action,
		handle:   newHandle(),
	}
	heap.Push(&s.queue, t)
	wake := s.wake
	s.mu.Unlock()

	s.queued.Add(1)
	s.submitted.Add(1)

	select {
	case wake <- struct{}{}:
	default:
	}
	return t.handle, nil
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return Stats{
		Queued:    s.queued.Load(),
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Running:   s.executing.Load(),
		IsRunning: running,
	}
}

// worker drains the ready queue until a graceful drain completes or the
// context is force-canceled.
func (s *Scheduler) worker(ctx context.Context, wake <-chan struct{}, drain <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		s.mu.Lock()
		var t *task
		if s.queue.Len() > 0 {
			t = heap.Pop(&s.queue).(*task)
		}
		s.mu.Unlock()

		if t == nil {
			select {
			case <-wake:
				continue
			case <-drain:
				// Graceful stop: the queue was empty on the last look,
				// and submissions are refused while stopping.
				return
			case <-ctx.Done():
				return
			}
		}

		s.queued.Add(-1)
		if ctx.Err() != nil {
			s.failed.Add(1)
			t.handle.resolve(nil, ErrCanceled)
			return
		}
		s.execute(ctx, t)
	}
}

// execute runs one task to completion. Action failures and panics resolve
// the handle and never escape to the worker loop.
func (s *Scheduler) execute(ctx context.Context, t *task) {
	s.executing.Store(1)
	defer s.executing.Store(0)

	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.log.Error("task panicked", "priority", t.priority.String(), "panic", r)
			t.handle.resolve(nil, fmt.Errorf("task panicked: %v", r))
		}
	}()

	value, err := t.action(ctx)
	if err != nil {
		s.failed.Add(1)
		s.log.Debug("task failed", "priority", t.priority.String(), "error", err)
		t.handle.resolve(nil, err)
		return
	}
	s.completed.Add(1)
	t.handle.resolve(value, nil)
}
