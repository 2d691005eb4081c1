package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semdex/semdex/internal/scheduler"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/internal/walk"
	"github.com/semdex/semdex/pkg/types"
)

type recordingProcessor struct {
	mu    sync.Mutex
	paths []string
}

func (p *recordingProcessor) ProcessFile(_ context.Context, path string, _ bool) (types.FileResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	return types.FileResult{Path: filepath.Base(path), Status: types.FileUpdated, Units: 1}, nil
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

func (p *recordingProcessor) count() int { return len(p.processed()) }

// recordingStore stubs only what the watcher touches. Any other Store
// method would panic through the embedded nil interface.
type recordingStore struct {
	storage.Store
	mu      sync.Mutex
	deleted []string
}

func (s *recordingStore) DeleteFile(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *recordingStore) deletedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestWatcher(t *testing.T, opts walk.Options) (*Watcher, *recordingProcessor, *recordingStore, string) {
	t.Helper()
	root := t.TempDir()

	sched := scheduler.New(scheduler.Config{}, testLogger())
	sched.Start()
	t.Cleanup(func() { sched.Stop(time.Second) })

	proc := &recordingProcessor{}
	store := &recordingStore{}

	w, err := New(Config{Root: root, Walk: opts, Debounce: 50 * time.Millisecond},
		sched, proc, store, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		_ = w.Stop()
		cancel()
	})
	return w, proc, store, root
}

func TestCreatedFileIsReindexed(t *testing.T) {
	_, proc, _, root := newTestWatcher(t, walk.Options{})

	path := filepath.Join(root, "new.go")
	require.NoError(t, os.WriteFile(path, []byte("package x\n"), 0o644))

	require.Eventually(t, func() bool { return proc.count() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, proc.processed(), path)
}

func TestWriteBurstIsDebounced(t *testing.T) {
	_, proc, _, root := newTestWatcher(t, walk.Options{})

	path := filepath.Join(root, "busy.go")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package x\n// rev\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return proc.count() >= 1 }, 3*time.Second, 20*time.Millisecond)
	// Let any stray timers fire, then confirm the burst collapsed.
	time.Sleep(200 * time.Millisecond)
	assert.LessOrEqual(t, proc.count(), 2)
}

func TestRemovedFileIsDeletedFromIndex(t *testing.T) {
	_, _, store, root := newTestWatcher(t, walk.Options{})

	path := filepath.Join(root, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("package x\n"), 0o644))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		for _, p := range store.deletedPaths() {
			if p == "gone.go" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestExcludedPathsAreIgnored(t *testing.T) {
	_, proc, _, root := newTestWatcher(t, walk.Options{ExcludeGlobs: []string{"*.log"}})

	require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "code.go"), []byte("package x\n"), 0o644))

	require.Eventually(t, func() bool { return proc.count() >= 1 }, 3*time.Second, 20*time.Millisecond)
	for _, p := range proc.processed() {
		assert.NotEqual(t, "debug.log", filepath.Base(p))
	}
}

func TestNewDirectoryIsWatched(t *testing.T) {
	_, proc, _, root := newTestWatcher(t, walk.Options{})

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(150 * time.Millisecond)
	path := filepath.Join(sub, "inner.go")
	require.NoError(t, os.WriteFile(path, []byte("package sub\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, p := range proc.processed() {
			if p == path {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPauseDropsEvents(t *testing.T) {
	w, proc, _, root := newTestWatcher(t, walk.Options{})

	w.Pause()
	require.NoError(t, os.WriteFile(filepath.Join(root, "while-paused.go"), []byte("package x\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, proc.count())

	w.Resume()
	path := filepath.Join(root, "after-resume.go")
	require.NoError(t, os.WriteFile(path, []byte("package x\n"), 0o644))
	require.Eventually(t, func() bool {
		for _, p := range proc.processed() {
			if p == path {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	w, _, _, _ := newTestWatcher(t, walk.Options{})
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
