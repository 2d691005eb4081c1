package arbiter

import (
	"crypto/md5"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Marker file names inside the coordination directory.
const (
	serverPIDFile = "server.pid"
	requestFlag   = "request.flag"
	readyFlag     = "ready.flag"
	doneFlag      = "done.flag"
)

// Request identifies one external access request.
type Request struct {
	PID   int
	RunID string
	At    time.Time
}

// Transport carries the handshake state between processes for one database
// path. The file-marker implementation below is the default; the interface
// exists so the arbitration state machine never depends on a specific
// platform mechanism.
type Transport interface {
	// ServerPID reports the registered server process, if one is recorded
	// and still alive. A recorded but dead server is cleaned up and
	// reported as absent.
	ServerPID() (int, bool, error)

	// RegisterServer records pid as the owning server.
	RegisterServer(pid int) error
	// UnregisterServer removes the server record and any handoff markers.
	UnregisterServer() error

	// PostRequest publishes an access request for the server to observe.
	PostRequest(req Request) error
	// PendingRequest returns the currently posted request, if any.
	PendingRequest() (Request, bool, error)
	// ClearRequest withdraws a posted request.
	ClearRequest() error

	// PostReady acknowledges that the server has released its handle to
	// the identified run.
	PostReady(runID string) error
	// ReadyPosted reports which run the server has acknowledged, if any.
	ReadyPosted() (string, bool, error)

	// PostDone signals that the requester has finished with the database.
	PostDone() error
	// DonePosted reports whether the requester has signaled completion.
	DonePosted() (bool, error)

	// ClearHandoff removes request, ready, and done markers after a
	// completed or abandoned handoff.
	ClearHandoff() error

	// HolderAlive reports whether the process identified by pid exists.
	HolderAlive(pid int) bool
}

// CoordinationDir returns the marker directory for a database path. The
// directory name embeds a digest of the absolute path so distinct databases
// never share handshake state.
func CoordinationDir(dbPath string) (string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	digest := md5.Sum([]byte(abs))
	return filepath.Join(os.TempDir(), fmt.Sprintf("semdex-%x", digest[:4])), nil
}

// FileTransport implements Transport with marker files polled by both sides.
type FileTransport struct {
	dir string
}

var _ Transport = (*FileTransport)(nil)

// NewFileTransport creates the coordination directory for dbPath and
// returns a transport bound to it.
func NewFileTransport(dbPath string) (*FileTransport, error) {
	dir, err := CoordinationDir(dbPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create coordination directory %s: %w", dir, err)
	}
	return &FileTransport{dir: dir}, nil
}

// Dir returns the coordination directory path.
func (t *FileTransport) Dir() string { return t.dir }

func (t *FileTransport) path(name string) string {
	return filepath.Join(t.dir, name)
}

func (t *FileTransport) ServerPID() (int, bool, error) {
	raw, err := os.ReadFile(t.path(serverPIDFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		// Unreadable PID file: treat as stale and remove it.
		_ = os.Remove(t.path(serverPIDFile))
		return 0, false, nil
	}
	if !t.HolderAlive(pid) {
		_ = os.Remove(t.path(serverPIDFile))
		_ = t.ClearHandoff()
		return 0, false, nil
	}
	return pid, true, nil
}

func (t *FileTransport) RegisterServer(pid int) error {
	return writeFileAtomic(t.path(serverPIDFile), strconv.Itoa(pid))
}

func (t *FileTransport) UnregisterServer() error {
	if err := t.ClearHandoff(); err != nil {
		return err
	}
	return removeIfExists(t.path(serverPIDFile))
}

func (t *FileTransport) PostRequest(req Request) error {
	content := fmt.Sprintf("%d %s %d", req.PID, req.RunID, req.At.UnixNano())
	return writeFileAtomic(t.path(requestFlag), content)
}

func (t *FileTransport) PendingRequest() (Request, bool, error) {
	raw, err := os.ReadFile(t.path(requestFlag))
	if errors.Is(err, os.ErrNotExist) {
		return Request{}, false, nil
	}
	if err != nil {
		return Request{}, false, err
	}
	fields := strings.Fields(strings.TrimSpace(string(raw)))
	if len(fields) < 2 {
		_ = os.Remove(t.path(requestFlag))
		return Request{}, false, nil
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		_ = os.Remove(t.path(requestFlag))
		return Request{}, false, nil
	}
	req := Request{PID: pid, RunID: fields[1]}
	if len(fields) >= 3 {
		if ns, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			req.At = time.Unix(0, ns)
		}
	}
	return req, true, nil
}

func (t *FileTransport) ClearRequest() error {
	return removeIfExists(t.path(requestFlag))
}

// PostReady names the acknowledged run in the marker so a concurrent
// requester can never mistake another run's handoff for its own.
func (t *FileTransport) PostReady(runID string) error {
	return writeFileAtomic(t.path(readyFlag), runID)
}

func (t *FileTransport) ReadyPosted() (string, bool, error) {
	raw, err := os.ReadFile(t.path(readyFlag))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(raw)), true, nil
}

func (t *FileTransport) PostDone() error {
	return writeFileAtomic(t.path(doneFlag), strconv.FormatInt(time.Now().UnixNano(), 10))
}

func (t *FileTransport) DonePosted() (bool, error) {
	return fileExists(t.path(doneFlag))
}

func (t *FileTransport) ClearHandoff() error {
	for _, name := range []string{requestFlag, readyFlag, doneFlag} {
		if err := removeIfExists(t.path(name)); err != nil {
			return err
		}
	}
	return nil
}

func (t *FileTransport) HolderAlive(pid int) bool {
	return processAlive(pid)
}

// writeFileAtomic writes through a temp file and rename, so a concurrent
// reader never observes a half-written marker.
func writeFileAtomic(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
