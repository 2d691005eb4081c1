package scanner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/semdex/semdex/internal/scheduler"
	"github.com/semdex/semdex/pkg/types"
)

// Default cadence values, overridable through Config.
const (
	DefaultInterval      = 5 * time.Minute
	DefaultBatchSize     = 10
	DefaultYieldInterval = 100 * time.Millisecond
	DefaultRetryDelay    = 5 * time.Second
)

// passKind distinguishes the unconditional startup pass from the periodic
// passes that follow it.
type passKind string

const (
	passStartup  passKind = "startup"
	passPeriodic passKind = "periodic"
)

// FileProcessor is the contract the scanner drives for every file. It is
// expected to be cheap when nothing changed: compare a content fingerprint
// first and only re-extract when the file is new or modified. Background
// passes request skipEmbeddings so embedding generation stays a foreground
// decision.
type FileProcessor interface {
	ProcessFile(ctx context.Context, path string, skipEmbeddings bool) (types.FileResult, error)
	RemoveMissing(ctx context.Context, present []string) (int, error)
}

// Enumerate produces the deterministically ordered file list for one pass.
type Enumerate func(root string) ([]string, error)

// Config holds scanner tunables.
type Config struct {
	Root          string
	Interval      time.Duration // wait between passes
	BatchSize     int           // files per scheduler submission
	YieldInterval time.Duration // cooperative sleep between batches
	RetryDelay    time.Duration // delay after an enumeration failure
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.YieldInterval <= 0 {
		c.YieldInterval = DefaultYieldInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// Stats is a snapshot of the scanner's monotonic counters. Safe to read
// from any goroutine.
type Stats struct {
	PassesCompleted  int64
	FilesProcessed   int64
	FilesUpdated     int64
	FilesSkipped     int64
	FilesErrored     int64
	LastPassDuration time.Duration
	Position         int
	Running          bool
}

// Scanner runs the incremental background reconciliation loop.
type Scanner struct {
	cfg       Config
	sched     *scheduler.Scheduler
	processor FileProcessor
	enumerate Enumerate
	log       *slog.Logger

	mu       sync.Mutex
	running  bool
	paused   bool
	position int // scan cursor, survives Stop/Start within the process
	stop     chan struct{}
	loopDone chan struct{}
	cancel   context.CancelFunc

	passes       atomic.Int64
	processed    atomic.Int64
	updated      atomic.Int64
	skipped      atomic.Int64
	errored      atomic.Int64
	lastDuration atomic.Int64 // nanoseconds
}

// New creates a scanner. The logger may be nil.
func New(cfg Config, sched *scheduler.Scheduler, processor FileProcessor, enumerate Enumerate, log *slog.Logger) *Scanner {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{
		cfg:       cfg,
		sched:     sched,
		processor: processor,
		enumerate: enumerate,
		log:       log,
	}
}

// Start transitions STOPPED -> SCANNING and immediately schedules the
// unconditional startup pass. Calling Start while running is a no-op.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.cancel = cancel
	s.running = true

	go s.loop(ctx, s.stop, s.loopDone)
	s.log.Info("scanner started",
		"root", s.cfg.Root,
		"interval", s.cfg.Interval,
		"batch_size", s.cfg.BatchSize)
}

// Stop requests graceful termination and waits up to timeout for the
// current batch to finish, then forces cancellation. The cursor position is
// preserved so a later Start resumes periodic passes where this one left off.
func (s *Scanner) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop := s.stop
	done := s.loopDone
	cancel := s.cancel
	s.mu.Unlock()

	close(stop)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.log.Warn("scanner did not stop gracefully, forcing cancellation")
		cancel()
		<-done
	}
	cancel()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.log.Info("scanner stopped")
}

// Pause stops the scanner from submitting new background work while keeping
// the loop alive. Used during a cross-process database handoff.
func (s *Scanner) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.log.Info("scanner paused")
}

// Resume re-enables background submissions after a Pause.
func (s *Scanner) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.log.Info("scanner resumed")
}

func (s *Scanner) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stats returns a snapshot of the scanner counters.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	position := s.position
	running := s.running
	s.mu.Unlock()
	return Stats{
		PassesCompleted:  s.passes.Load(),
		FilesProcessed:   s.processed.Load(),
		FilesUpdated:     s.updated.Load(),
		FilesSkipped:     s.skipped.Load(),
		FilesErrored:     s.errored.Load(),
		LastPassDuration: time.Duration(s.lastDuration.Load()),
		Position:         position,
		Running:          running,
	}
}

// loop runs the startup pass, then periodic passes at the configured
// interval until stop is closed.
func (s *Scanner) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if err := s.runPass(ctx, passStartup, stop); err != nil {
		s.log.Warn("startup scan pass failed", "error", err)
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Interval):
		}

		if s.isPaused() {
			continue
		}
		if err := s.runPass(ctx, passPeriodic, stop); err != nil {
			s.log.Warn("scan pass failed", "error", err)
			// Enumeration failures abort only this pass; back off briefly
			// and keep the loop alive.
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}
}

// runPass executes one traversal pass. The enumeration is fixed for the
// duration of the pass; the cursor advances batch by batch and wraps to
// zero when it reaches the end of the list.
func (s *Scanner) runPass(ctx context.Context, kind passKind, stop <-chan struct{}) error {
	if s.isPaused() {
		return nil
	}

	started := time.Now()

	files, err := s.enumerate(s.cfg.Root)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if kind == passStartup {
		s.position = 0
	}
	if s.position > len(files) {
		// The tree shrank since the cursor was set.
		s.position = 0
	}
	s.mu.Unlock()

	if kind == passStartup {
		s.reconcileDeleted(ctx, files)
	}

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.isPaused() {
			return nil
		}

		s.mu.Lock()
		start := s.position
		if start >= len(files) {
			s.position = 0
			s.mu.Unlock()
			break
		}
		end := start + s.cfg.BatchSize
		if end > len(files) {
			end = len(files)
		}
		s.position = end
		s.mu.Unlock()

		batch := files[start:end]
		if err := s.submitBatch(ctx, batch); err != nil {
			return err
		}

		// Cooperative yield between batches: this, not priority ordering
		// alone, bounds the latency a long scan adds to interactive tasks.
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.YieldInterval):
		}
	}

	s.passes.Add(1)
	s.lastDuration.Store(int64(time.Since(started)))
	s.log.Debug("scan pass completed",
		"kind", string(kind),
		"files", len(files),
		"duration", time.Since(started))
	return nil
}

// submitBatch runs one batch through the scheduler at background priority
// and waits for it to finish before the caller yields.
func (s *Scanner) submitBatch(ctx context.Context, batch []string) error {
	_, err := s.sched.Submit(ctx, scheduler.PriorityBackground, func(taskCtx context.Context) (any, error) {
		s.processBatch(taskCtx, batch)
		return nil, nil
	})
	return err
}

// processBatch runs inside a scheduler task. Per-file errors are logged and
// skipped; they never abort the batch.
func (s *Scanner) processBatch(ctx context.Context, batch []string) {
	for _, path := range batch {
		if ctx.Err() != nil {
			return
		}
		result, err := s.processor.ProcessFile(ctx, path, true)
		s.processed.Add(1)
		if err != nil {
			s.errored.Add(1)
			s.log.Debug("background file processing failed", "path", path, "error", err)
			continue
		}
		switch result.Status {
		case types.FileUpdated:
			s.updated.Add(1)
		case types.FileUpToDate:
			s.skipped.Add(1)
		}
	}
}

// reconcileDeleted removes index entries for files that no longer exist on
// disk. Runs only on startup passes, mirroring the offline catch-up the
// foreground indexer performs.
func (s *Scanner) reconcileDeleted(ctx context.Context, present []string) {
	_, err := s.sched.Submit(ctx, scheduler.PriorityBackground, func(taskCtx context.Context) (any, error) {
		return s.processor.RemoveMissing(taskCtx, present)
	})
	if err != nil {
		s.log.Warn("orphan cleanup failed", "error", err)
	}
}
