package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/semdex/semdex/internal/scheduler"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/internal/walk"
	"github.com/semdex/semdex/pkg/types"
)

// DefaultDebounce is how long a path must stay quiet before it is
// reindexed.
const DefaultDebounce = 500 * time.Millisecond

// Processor reindexes a single file. Satisfied by the indexer.
type Processor interface {
	ProcessFile(ctx context.Context, path string, skipEmbeddings bool) (types.FileResult, error)
}

// Config tunes the watcher.
type Config struct {
	Root     string        // directory to watch (absolute)
	Walk     walk.Options  // which paths count as indexable
	Debounce time.Duration // quiet period per path (default: DefaultDebounce)
}

// Watcher feeds filesystem changes into the scheduler.
type Watcher struct {
	cfg       Config
	sched     *scheduler.Scheduler
	processor Processor
	store     storage.Store
	filter    *walk.Filter
	log       *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	paused  bool
	closed  bool
	done    chan struct{}
}

// New builds a watcher rooted at cfg.Root. Start must be called before
// any events flow.
func New(cfg Config, sched *scheduler.Scheduler, processor Processor, store storage.Store, log *slog.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	filter, err := walk.NewFilter(cfg.Root, cfg.Walk)
	if err != nil {
		return nil, fmt.Errorf("failed to build watch filter: %w", err)
	}
	return &Watcher{
		cfg:       cfg,
		sched:     sched,
		processor: processor,
		store:     store,
		filter:    filter,
		log:       log,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// Start registers watches on the root and every indexable subdirectory
// and begins dispatching events. ctx cancels the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.watchTree(w.cfg.Root); err != nil {
		_ = fsw.Close()
		return err
	}

	go w.loop(ctx)
	w.log.Info("watcher started", "root", w.cfg.Root)
	return nil
}

// Pause stops dispatching new reindex tasks. Events received while
// paused are dropped; the next periodic scan reconciles them.
func (w *Watcher) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// Resume re-enables dispatch after Pause.
func (w *Watcher) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = false
}

// Stop tears down the watches and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if w.fsw == nil {
		return nil
	}
	err := w.fsw.Close()
	<-w.done
	return err
}

// watchTree adds watches on root and every non-skipped directory under
// it. fsnotify is not recursive on its own.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !w.filter.Match(path, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		// New directories need their own watch before events inside
		// them can arrive.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.filter.Match(ev.Name, true) {
				if err := w.watchTree(ev.Name); err != nil {
					w.log.Warn("failed to watch new directory", "path", ev.Name, "error", err)
				}
			}
			return
		}
		w.schedule(ctx, ev.Name, false)
	case ev.Op.Has(fsnotify.Write):
		w.schedule(ctx, ev.Name, false)
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.schedule(ctx, ev.Name, true)
	}
}

// schedule arms (or re-arms) the debounce timer for one path.
func (w *Watcher) schedule(ctx context.Context, path string, removed bool) {
	if !w.filter.Match(path, false) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused || w.closed {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.fire(ctx, path, removed)
	})
}

// fire runs after the debounce period and hands the path to the
// scheduler at maintenance priority.
func (w *Watcher) fire(ctx context.Context, path string, removed bool) {
	w.mu.Lock()
	delete(w.pending, path)
	if w.paused || w.closed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	_, err := w.sched.SubmitNoWait(scheduler.PriorityMaintenance, func(taskCtx context.Context) (any, error) {
		return nil, w.apply(taskCtx, path, removed)
	})
	if err != nil {
		w.log.Warn("failed to submit watch update", "path", path, "error", err)
	}
}

func (w *Watcher) apply(ctx context.Context, path string, removed bool) error {
	// The debounce window may have outlived the file, or a remove may
	// have been followed by a recreate. Trust the disk, not the event.
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		removed = true
	} else {
		removed = false
	}

	if removed {
		rel, err := filepath.Rel(w.cfg.Root, path)
		if err != nil {
			return err
		}
		err = w.store.DeleteFile(ctx, filepath.ToSlash(rel))
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err == nil {
			w.log.Debug("removed from index", "path", rel)
		}
		return err
	}

	result, err := w.processor.ProcessFile(ctx, path, false)
	if err != nil {
		w.log.Warn("failed to reindex changed file", "path", path, "error", err)
		return err
	}
	if result.Status == types.FileUpdated {
		w.log.Debug("reindexed changed file", "path", result.Path, "units", result.Units)
	}
	return nil
}
