package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/semdex/semdex/internal/arbiter"
	"github.com/semdex/semdex/internal/config"
	"github.com/semdex/semdex/internal/embedder"
	"github.com/semdex/semdex/internal/indexer"
	"github.com/semdex/semdex/internal/scanner"
	"github.com/semdex/semdex/internal/scheduler"
	"github.com/semdex/semdex/internal/searcher"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/internal/walk"
	"github.com/semdex/semdex/internal/watcher"
)

const (
	ServerName    = "semdex"
	ServerVersion = "1.0.0"

	// stopTimeout bounds each stage of the shutdown sequence.
	stopTimeout = 10 * time.Second
)

// Server owns every long-lived component and serves MCP over stdio.
type Server struct {
	cfg  *config.Config
	root string
	log  *slog.Logger

	mcp    *server.MCPServer
	store  *storage.Handle
	embed  embedder.Embedder
	idx    *indexer.Indexer
	sched  *scheduler.Scheduler
	scan   *scanner.Scanner
	watch  *watcher.Watcher // nil when disabled
	guard  *arbiter.Guard
	search *searcher.Searcher

	// yielding is raised before the storage handle is released and
	// lowered after it is reopened. It keeps background write tasks
	// from being submitted during a handoff.
	yielding atomic.Bool
}

// NewServer wires the component stack for one indexed root. Nothing
// starts running until Serve.
func NewServer(root string, cfg *config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := storage.OpenHandle(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	embed, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	walkOpts := walk.Options{
		IncludeGlobs:  cfg.Walk.IncludeGlobs,
		ExcludeGlobs:  cfg.Walk.ExcludeGlobs,
		IncludeHidden: cfg.Walk.IncludeHidden,
		MaxFileSize:   cfg.Walk.MaxFileSize,
	}
	idx := indexer.New(indexer.Config{Root: root, Walk: walkOpts}, store, embed, log)
	sched := scheduler.New(scheduler.Config{QueueSize: cfg.Scheduler.QueueSize}, log)
	scan := scanner.New(scanner.Config{
		Root:          root,
		Interval:      cfg.Scanner.Interval.Std(),
		BatchSize:     cfg.Scanner.BatchSize,
		YieldInterval: cfg.Scanner.YieldInterval.Std(),
	}, sched, idx, idx.Enumerate, log)

	s := &Server{
		cfg:    cfg,
		root:   root,
		log:    log,
		store:  store,
		embed:  embed,
		idx:    idx,
		sched:  sched,
		scan:   scan,
		search: searcher.New(store, embed),
	}

	if cfg.Watcher.Enabled {
		s.watch, err = watcher.New(watcher.Config{
			Root:     root,
			Walk:     walkOpts,
			Debounce: cfg.Watcher.Debounce.Std(),
		}, sched, idx, store, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	transport, err := arbiter.NewFileTransport(cfg.DBPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to prepare access coordination: %w", err)
	}
	s.guard = arbiter.NewGuard(transport, arbiter.GuardConfig{
		StaleGrace: cfg.Arbiter.StaleGrace.Std(),
	}, s.pauseForHandoff, s.resumeAfterHandoff, log)

	s.mcp = server.NewMCPServer(ServerName, ServerVersion)
	s.registerTools()
	return s, nil
}

// Serve starts every component, serves MCP over stdio until the client
// disconnects or ctx is canceled, then shuts down in reverse dependency
// order.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.guard.Start(); err != nil {
		_ = s.store.Close()
		return fmt.Errorf("failed to register as database holder: %w", err)
	}
	s.sched.Start()
	s.scan.Start()
	if s.watch != nil {
		if err := s.watch.Start(ctx); err != nil {
			s.log.Warn("watcher unavailable, relying on periodic scans", "error", err)
			s.watch = nil
		}
	}

	embedCtx, stopEmbed := context.WithCancel(ctx)
	defer stopEmbed()
	go s.embedLoop(embedCtx)

	s.log.Info("serving MCP on stdio", "root", s.root, "db", s.cfg.DBPath)
	serveErr := server.ServeStdio(s.mcp)

	s.Shutdown()
	return serveErr
}

// Shutdown stops components in reverse dependency order: event sources
// first, then the task queue, then the cross-process guard, then the
// database.
func (s *Server) Shutdown() {
	if s.watch != nil {
		_ = s.watch.Stop()
	}
	s.scan.Stop(stopTimeout)
	s.sched.Stop(stopTimeout)
	s.guard.Stop()
	if err := s.store.Close(); err != nil {
		s.log.Warn("failed to close index database", "error", err)
	}
	_ = s.embed.Close()
	s.log.Info("shutdown complete")
}

// pauseForHandoff quiesces everything that touches the database so
// another process can take it over. New work blocks rather than fails;
// it drains once the database comes back.
func (s *Server) pauseForHandoff(ctx context.Context) error {
	s.yielding.Store(true)
	if s.watch != nil {
		s.watch.Pause()
	}
	s.scan.Pause()
	if err := s.store.Suspend(); err != nil {
		s.scan.Resume()
		if s.watch != nil {
			s.watch.Resume()
		}
		s.yielding.Store(false)
		return fmt.Errorf("failed to release database file: %w", err)
	}
	s.log.Info("database yielded to requesting process")
	return nil
}

// resumeAfterHandoff reopens the database and restarts paused work. The
// searcher cache is dropped because the other process may have changed
// index contents.
func (s *Server) resumeAfterHandoff(ctx context.Context) error {
	if err := s.store.Resume(); err != nil {
		return fmt.Errorf("failed to reopen database file: %w", err)
	}
	s.search.InvalidateCache()
	s.scan.Resume()
	if s.watch != nil {
		s.watch.Resume()
	}
	s.yielding.Store(false)
	s.log.Info("database access restored")
	return nil
}

// embedLoop periodically backfills vectors for units the scanner
// indexed without embeddings. It runs at the scan interval so a pass
// that found changed files is followed by an embedding sweep.
func (s *Server) embedLoop(ctx context.Context) {
	if s.embed == nil {
		return
	}
	interval := s.cfg.Scanner.Interval.Std()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.backfillEmbeddings(ctx)
		}
	}
}

// backfillEmbeddings submits one background embedding sweep. While the
// database is yielded to another process no write task may be submitted,
// so the tick is skipped; the next one after resume catches up.
func (s *Server) backfillEmbeddings(ctx context.Context) bool {
	if s.yielding.Load() {
		return false
	}
	_, err := s.sched.Submit(ctx, scheduler.PriorityBackground, func(taskCtx context.Context) (any, error) {
		return nil, s.idx.EmbedPending(taskCtx)
	})
	if err != nil && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, scheduler.ErrCanceled) && !errors.Is(err, scheduler.ErrNotRunning) {
		s.log.Warn("embedding backfill failed", "error", err)
	}
	return true
}
