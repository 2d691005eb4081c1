// Package scheduler serializes all index operations through a single worker
// with priority ordering, so interactive searches are never stuck behind
// bulk background work.
//
// The storage engine underneath requires single-writer discipline, so every
// read and write issued by the server process funnels through one Scheduler.
// "Concurrent" callers are serialized by the queue, not run in parallel.
//
// # Priorities
//
// Tasks execute in strict (priority, submission order) order:
//
//	PriorityInteractive  user-facing search and read queries
//	PriorityStatus       health and statistics reads
//	PriorityMaintenance  explicit file updates, foreground embedding runs
//	PriorityBackground   periodic scan-driven updates
//
// A newly submitted interactive task overtakes any number of queued
// background tasks, but never an already-executing one: the worker runs
// each task to completion before selecting the next. Worst-case interactive
// latency is therefore bounded by the duration of a single in-flight task,
// which is why background producers must keep their batches small.
//
// # Usage
//
//	s := scheduler.New(scheduler.Config{QueueSize: 1000}, logger)
//	s.Start()
//	defer s.Stop(30 * time.Second)
//
//	out, err := s.Submit(ctx, scheduler.PriorityInteractive,
//	    func(ctx context.Context) (any, error) {
//	        return store.SearchText(ctx, query, limit)
//	    })
//
// Submit blocks until the task resolves. SubmitNoWait returns a *Handle the
// caller can await later or ignore entirely (fire-and-forget).
//
// # Failure semantics
//
// An action that returns an error resolves its handle with that error and
// nothing else: the worker loop continues, other queued tasks are
// unaffected, and the scheduler never retries. Retry policy belongs to the
// caller. A full queue surfaces as ErrQueueFull at submission time so the
// caller can degrade instead of blocking unbounded.
package scheduler
