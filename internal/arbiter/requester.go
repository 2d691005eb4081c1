package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Requester defaults.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRequesterPoll  = 100 * time.Millisecond
)

// ErrAccessRequestTimeout means a live server never acknowledged the access
// request before the deadline. The run must fail rather than open the
// database alongside a writer that did not stand down.
var ErrAccessRequestTimeout = errors.New("timed out waiting for the server to release the database")

// RequesterConfig holds command-line-side arbitration tunables.
type RequesterConfig struct {
	Timeout time.Duration // bounded wait for acknowledgment
	Poll    time.Duration // ready-marker poll cadence
}

func (c *RequesterConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultRequestTimeout
	}
	if c.Poll <= 0 {
		c.Poll = DefaultRequesterPoll
	}
}

// Requester is the command-line half of the arbitration protocol.
type Requester struct {
	transport Transport
	cfg       RequesterConfig
	log       *slog.Logger

	mu        sync.Mutex
	active    bool
	serverPID int
}

// NewRequester creates a requester. The logger may be nil.
func NewRequester(transport Transport, cfg RequesterConfig, log *slog.Logger) *Requester {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Requester{transport: transport, cfg: cfg, log: log}
}

// Acquire obtains exclusive database access. With no live server registered
// it returns immediately; otherwise it posts a request and waits up to the
// configured deadline for the server's acknowledgment. A pending request
// from another live run is waited out, never overwritten, so two runs can
// never hold the database off the same handoff. On timeout the request is
// withdrawn and ErrAccessRequestTimeout is returned.
func (r *Requester) Acquire(ctx context.Context) error {
	pid, found, err := r.transport.ServerPID()
	if err != nil {
		return fmt.Errorf("detect running server: %w", err)
	}
	if !found {
		r.log.Debug("no running server, proceeding without coordination")
		return nil
	}

	req := Request{PID: os.Getpid(), RunID: uuid.NewString(), At: time.Now()}
	deadline := time.Now().Add(r.cfg.Timeout)
	ticker := time.NewTicker(r.cfg.Poll)
	defer ticker.Stop()

	posted := false
	for {
		if posted {
			granted, err := r.ackReceived(req)
			if err != nil {
				r.withdraw(req)
				return fmt.Errorf("poll for acknowledgment: %w", err)
			}
			if granted {
				r.mu.Lock()
				r.active = true
				r.serverPID = pid
				r.mu.Unlock()
				r.log.Info("database access granted", "server_pid", pid, "run_id", req.RunID)
				return nil
			}
			// The guard sweeps all markers when it finishes the previous
			// handoff; a vanished request just means post again.
			if stillPending, err := r.requestPending(req); err == nil && !stillPending {
				posted = false
			}
		}
		if !posted {
			posted, err = r.claim(req, pid)
			if err != nil {
				return fmt.Errorf("post access request: %w", err)
			}
		}

		// A server that died mid-handshake must not strand the run.
		if !r.transport.HolderAlive(pid) {
			r.log.Warn("server exited during handshake, proceeding without coordination", "server_pid", pid)
			_ = r.transport.ClearHandoff()
			return nil
		}

		if time.Now().After(deadline) {
			r.withdraw(req)
			return fmt.Errorf("%w (server pid %d, waited %s): stop the server or use a different database path",
				ErrAccessRequestTimeout, pid, r.cfg.Timeout)
		}

		select {
		case <-ctx.Done():
			r.withdraw(req)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// claim posts the request unless another live run already occupies the
// pending slot. A request left behind by a dead process is swept first.
func (r *Requester) claim(req Request, serverPID int) (bool, error) {
	pending, ok, err := r.transport.PendingRequest()
	if err != nil {
		return false, err
	}
	if ok && pending.RunID != req.RunID {
		if r.transport.HolderAlive(pending.PID) {
			return false, nil
		}
		_ = r.transport.ClearRequest()
	}
	if err := r.transport.PostRequest(req); err != nil {
		return false, err
	}
	nudgeRequest(serverPID)
	r.log.Info("requesting database access from server", "server_pid", serverPID, "run_id", req.RunID)
	return true, nil
}

// ackReceived reports whether the server acknowledged this run. An
// acknowledgment naming a different run belongs to someone else's handoff
// and grants nothing.
func (r *Requester) ackReceived(req Request) (bool, error) {
	runID, ok, err := r.transport.ReadyPosted()
	if err != nil || !ok {
		return false, err
	}
	return runID == req.RunID, nil
}

func (r *Requester) requestPending(req Request) (bool, error) {
	pending, ok, err := r.transport.PendingRequest()
	if err != nil {
		return false, err
	}
	return ok && pending.RunID == req.RunID, nil
}

// withdraw removes the posted request only if it still belongs to this run.
func (r *Requester) withdraw(req Request) {
	pending, ok, err := r.transport.PendingRequest()
	if err != nil || !ok || pending.RunID != req.RunID {
		return
	}
	_ = r.transport.ClearRequest()
}

// Release hands access back to the server. It is safe to call when no
// coordination happened, and safe to call more than once, so callers defer
// it unconditionally.
func (r *Requester) Release() {
	r.mu.Lock()
	active := r.active
	pid := r.serverPID
	r.active = false
	r.serverPID = 0
	r.mu.Unlock()

	if !active {
		return
	}

	if err := r.transport.PostDone(); err != nil {
		r.log.Error("failed to post completion marker", "error", err)
	}
	nudgeRelease(pid)
	r.log.Info("database access released back to server", "server_pid", pid)
}

// Active reports whether this requester currently holds borrowed access.
func (r *Requester) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Run executes fn with exclusive database access and guarantees release on
// every exit path: success, error, and panic.
func Run(ctx context.Context, transport Transport, cfg RequesterConfig, log *slog.Logger, fn func(ctx context.Context) error) error {
	r := NewRequester(transport, cfg, log)
	if err := r.Acquire(ctx); err != nil {
		return err
	}
	defer r.Release()
	return fn(ctx)
}
