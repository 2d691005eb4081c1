package arbiter

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Guard defaults. The grace period is deliberately conservative: long
// enough to ride out a requester that is briefly unschedulable, short
// enough that a crashed run does not park the server for minutes.
const (
	DefaultGuardPoll   = 250 * time.Millisecond
	DefaultStaleGrace  = 5 * time.Second
	DefaultPauseWindow = 30 * time.Second
)

// GuardConfig holds server-side arbitration tunables.
type GuardConfig struct {
	Poll        time.Duration // marker poll cadence
	StaleGrace  time.Duration // how long a dead holder keeps access before implicit release
	PauseWindow time.Duration // bound on the pause/resume callbacks
}

func (c *GuardConfig) applyDefaults() {
	if c.Poll <= 0 {
		c.Poll = DefaultGuardPoll
	}
	if c.StaleGrace <= 0 {
		c.StaleGrace = DefaultStaleGrace
	}
	if c.PauseWindow <= 0 {
		c.PauseWindow = DefaultPauseWindow
	}
}

// Guard is the server-side half of the arbitration protocol. The pause
// callback must stop new write submissions, drain in-flight writes, and
// release the storage handle; resume reverses it. The Guard only
// acknowledges a request after pause succeeds, so a requester never sees a
// ready marker while the server still holds the file.
type Guard struct {
	transport Transport
	cfg       GuardConfig
	pause     func(ctx context.Context) error
	resume    func(ctx context.Context) error
	log       *slog.Logger

	mu         sync.Mutex
	running    bool
	yielded    bool
	holder     Request
	staleSince time.Time
	stop       chan struct{}
	done       chan struct{}
}

// NewGuard creates a guard. The logger may be nil.
func NewGuard(transport Transport, cfg GuardConfig, pause, resume func(ctx context.Context) error, log *slog.Logger) *Guard {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		transport: transport,
		cfg:       cfg,
		pause:     pause,
		resume:    resume,
		log:       log,
	}
}

// Start registers this process as the database owner and begins watching
// for access requests.
func (g *Guard) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}

	if err := g.transport.RegisterServer(os.Getpid()); err != nil {
		return err
	}

	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	g.running = true

	kick := make(chan struct{}, 1)
	notifyNudges(kick, g.stop)
	go g.watch(g.stop, g.done, kick)

	g.log.Info("access guard started", "pid", os.Getpid())
	return nil
}

// Stop ends the watch loop and removes this server's registration. If a
// handoff is in progress the markers are left for the requester to finish
// against; they are cleaned up lazily by the next process that finds them
// stale.
func (g *Guard) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	stop := g.stop
	done := g.done
	yielded := g.yielded
	g.running = false
	g.mu.Unlock()

	close(stop)
	<-done

	if !yielded {
		if err := g.transport.UnregisterServer(); err != nil {
			g.log.Warn("failed to remove server registration", "error", err)
		}
	}
	g.log.Info("access guard stopped")
}

// Yielded reports whether an external requester currently holds access.
func (g *Guard) Yielded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.yielded
}

func (g *Guard) watch(stop <-chan struct{}, done chan<- struct{}, kick <-chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		case <-kick:
		}
		g.step()
	}
}

// step advances the arbitration state machine by one observation.
func (g *Guard) step() {
	g.mu.Lock()
	yielded := g.yielded
	holder := g.holder
	staleSince := g.staleSince
	g.mu.Unlock()

	if !yielded {
		req, ok, err := g.transport.PendingRequest()
		if err != nil {
			g.log.Warn("failed to read access request", "error", err)
			return
		}
		if !ok {
			return
		}
		g.handleRequest(req)
		return
	}

	released, err := g.transport.DonePosted()
	if err != nil {
		g.log.Warn("failed to read done marker", "error", err)
		return
	}
	if released {
		g.reacquire("requester finished", holder)
		return
	}

	if g.transport.HolderAlive(holder.PID) {
		if !staleSince.IsZero() {
			g.mu.Lock()
			g.staleSince = time.Time{}
			g.mu.Unlock()
		}
		return
	}

	// The holder is gone without posting done. Give it a bounded grace
	// period (PID reuse, slow exit paths) before treating the access as
	// implicitly released.
	now := time.Now()
	if staleSince.IsZero() {
		g.mu.Lock()
		g.staleSince = now
		g.mu.Unlock()
		return
	}
	if now.Sub(staleSince) >= g.cfg.StaleGrace {
		g.log.Warn("stale access holder: requester process is gone, reclaiming database",
			"holder_pid", holder.PID, "run_id", holder.RunID)
		g.reacquire("stale holder", holder)
	}
}

// handleRequest pauses the server's writers and acknowledges the release.
// If pausing fails the request is NOT acknowledged; the requester times out
// with an actionable error instead of racing a half-paused server.
func (g *Guard) handleRequest(req Request) {
	if !g.transport.HolderAlive(req.PID) {
		g.log.Warn("access request from dead process, discarding", "pid", req.PID)
		_ = g.transport.ClearHandoff()
		return
	}

	g.log.Info("access requested, pausing writers", "requester_pid", req.PID, "run_id", req.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PauseWindow)
	defer cancel()
	if err := g.pause(ctx); err != nil {
		g.log.Error("failed to pause writers, request not acknowledged", "error", err)
		return
	}

	if err := g.transport.PostReady(req.RunID); err != nil {
		g.log.Error("failed to acknowledge release", "error", err)
		// Undo the pause so the server is not parked on a failed handshake.
		resumeCtx, resumeCancel := context.WithTimeout(context.Background(), g.cfg.PauseWindow)
		defer resumeCancel()
		if err := g.resume(resumeCtx); err != nil {
			g.log.Error("failed to resume after acknowledgment failure", "error", err)
		}
		return
	}

	g.mu.Lock()
	g.yielded = true
	g.holder = req
	g.staleSince = time.Time{}
	g.mu.Unlock()
	g.log.Info("database access released to requester", "requester_pid", req.PID)
}

// reacquire resumes normal operation and clears the handoff markers.
func (g *Guard) reacquire(reason string, holder Request) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PauseWindow)
	defer cancel()
	if err := g.resume(ctx); err != nil {
		g.log.Error("failed to resume writers", "error", err, "reason", reason)
		// Stay yielded; the next tick retries.
		return
	}
	if err := g.transport.ClearHandoff(); err != nil {
		g.log.Warn("failed to clear handoff markers", "error", err)
	}

	g.mu.Lock()
	g.yielded = false
	g.holder = Request{}
	g.staleSince = time.Time{}
	g.mu.Unlock()
	g.log.Info("database access reacquired", "reason", reason, "holder_pid", holder.PID)
}
