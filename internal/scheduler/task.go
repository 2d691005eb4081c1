package scheduler

import (
	"container/heap"
	"context"
	"sync"
)

// Priority orders tasks in the ready queue. Lower values are served first.
type Priority int

const (
	PriorityInteractive Priority = 1
	PriorityStatus      Priority = 5
	PriorityMaintenance Priority = 10
	PriorityBackground  Priority = 20
)

// String returns the priority name used in logs and stats output.
func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityStatus:
		return "status"
	case PriorityMaintenance:
		return "maintenance"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Action is a unit of work executed by the scheduler worker. The context is
// the worker's context and is canceled on forced shutdown; long actions
// should check it between steps.
type Action func(ctx context.Context) (any, error)

// Handle is the single-assignment result of a submitted task. It resolves
// exactly once, either to the action's return value or to an error.
type Handle struct {
	done chan struct{}

	mu    sync.Mutex
	value any
	err   error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// resolve assigns the result. Second and later calls are no-ops: once
// resolved, a handle cannot be resolved again.
func (h *Handle) resolve(value any, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.value = value
	h.err = err
	close(h.done)
}

// Done returns a channel closed when the task has resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the resolved value and error. It blocks until the task
// resolves or ctx is done; a ctx error abandons the wait, not the task.
func (h *Handle) Result(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.value, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// task is a queued unit of work. Immutable after creation except for the
// handle's resolution.
type task struct {
	priority Priority
	seq      uint64 // arrival order, tie-break within a priority tier
	action   Action
	handle   *Handle
}

// taskQueue is a binary heap ordered by (priority, seq) ascending.
type taskQueue []*task

var _ heap.Interface = (*taskQueue)(nil)

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
