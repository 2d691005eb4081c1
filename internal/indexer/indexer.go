package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/semdex/semdex/internal/embedder"
	"github.com/semdex/semdex/internal/extract"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/internal/walk"
	"github.com/semdex/semdex/pkg/types"
)

// DefaultEmbedBatch bounds how many unit bodies go to the embedding
// provider per request.
const DefaultEmbedBatch = 32

// Config tunes an indexing run.
type Config struct {
	Root       string       // directory being indexed (absolute)
	Walk       walk.Options // file enumeration rules
	Workers    int          // concurrent files during bulk runs (default: NumCPU)
	EmbedBatch int          // unit bodies per embedding request (default: DefaultEmbedBatch)
}

// Statistics summarizes one bulk indexing run.
type Statistics struct {
	FilesIndexed  int
	FilesUpToDate int
	FilesSkipped  int
	FilesFailed   int
	FilesRemoved  int
	UnitsStored   int
	Duration      time.Duration
	ErrorMessages []string
}

// Indexer is the read -> extract -> store -> embed pipeline.
type Indexer struct {
	cfg       Config
	store     storage.Store
	extractor *extract.Extractor
	embed     embedder.Embedder // nil disables embedding
	log       *slog.Logger
}

// New builds an Indexer. embed may be nil, in which case units are
// stored without vectors and semantic search degrades to keyword only.
func New(cfg Config, store storage.Store, embed embedder.Embedder, log *slog.Logger) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = DefaultEmbedBatch
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		cfg:       cfg,
		store:     store,
		extractor: extract.New(),
		embed:     embed,
		log:       log,
	}
}

// Root returns the directory this indexer covers.
func (idx *Indexer) Root() string { return idx.cfg.Root }

// ProcessFile indexes one file identified by its absolute path. The
// stored record is keyed by the root-relative slash path. When the
// content fingerprint matches the stored one the file is left alone.
// Binary files are reported as skipped, not failed. When
// skipEmbeddings is false, units still lacking a vector for the
// current provider are embedded before returning.
func (idx *Indexer) ProcessFile(ctx context.Context, path string, skipEmbeddings bool) (types.FileResult, error) {
	rel, err := idx.relPath(path)
	if err != nil {
		return types.FileResult{}, err
	}
	result := types.FileResult{Path: rel}

	content, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return result, fmt.Errorf("failed to stat %s: %w", rel, err)
	}

	fingerprint := xxhash.Sum64(content)
	result.Fingerprint = fingerprint

	existing, err := idx.store.GetFile(ctx, rel)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return result, err
	}
	if existing != nil && existing.Fingerprint == fingerprint {
		result.Status = types.FileUpToDate
		if !skipEmbeddings {
			if err := idx.embedPending(ctx); err != nil {
				return result, err
			}
		}
		return result, nil
	}

	units, err := idx.extractor.Units(rel, content)
	if err != nil {
		if errors.Is(err, extract.ErrBinaryFile) {
			result.Status = types.FileSkipped
			return result, nil
		}
		return result, fmt.Errorf("failed to extract %s: %w", rel, err)
	}

	record := &storage.FileRecord{
		Path:        rel,
		Fingerprint: fingerprint,
		SizeBytes:   info.Size(),
		ModTime:     info.ModTime(),
		IndexedAt:   time.Now(),
	}
	if err := idx.store.UpsertFile(ctx, record); err != nil {
		return result, err
	}
	if err := idx.store.ReplaceUnits(ctx, record.ID, units); err != nil {
		return result, err
	}

	result.Status = types.FileUpdated
	result.Units = len(units)

	if !skipEmbeddings {
		if err := idx.embedPending(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

// RemoveMissing deletes records for files no longer present on disk.
// present holds absolute paths as produced by enumeration.
func (idx *Indexer) RemoveMissing(ctx context.Context, present []string) (int, error) {
	rels := make([]string, 0, len(present))
	for _, p := range present {
		rel, err := idx.relPath(p)
		if err != nil {
			continue
		}
		rels = append(rels, rel)
	}
	return idx.store.DeleteFilesNotIn(ctx, rels)
}

// Enumerate lists the files under root in deterministic order, using
// this indexer's walk options. It satisfies the scanner's enumeration
// contract.
func (idx *Indexer) Enumerate(root string) ([]string, error) {
	return walk.List(root, idx.cfg.Walk)
}

// IndexTree indexes every file under the configured root concurrently,
// removes records for vanished files, then embeds any units still
// missing vectors. Individual file failures are recorded and do not
// abort the run.
func (idx *Indexer) IndexTree(ctx context.Context) (*Statistics, error) {
	start := time.Now()
	stats := &Statistics{}

	files, err := walk.List(idx.cfg.Root, idx.cfg.Walk)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", idx.cfg.Root, err)
	}

	var indexed, upToDate, skipped, failed, units atomic.Int64
	errCh := make(chan string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := idx.ProcessFile(gctx, path, true)
			if err != nil {
				failed.Add(1)
				errCh <- fmt.Sprintf("%s: %v", path, err)
				return nil
			}
			switch result.Status {
			case types.FileUpdated:
				indexed.Add(1)
				units.Add(int64(result.Units))
			case types.FileUpToDate:
				upToDate.Add(1)
			case types.FileSkipped:
				skipped.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(errCh)
	for msg := range errCh {
		stats.ErrorMessages = append(stats.ErrorMessages, msg)
	}

	removed, err := idx.RemoveMissing(ctx, files)
	if err != nil {
		return nil, err
	}

	if err := idx.embedPending(ctx); err != nil {
		return nil, err
	}

	stats.FilesIndexed = int(indexed.Load())
	stats.FilesUpToDate = int(upToDate.Load())
	stats.FilesSkipped = int(skipped.Load())
	stats.FilesFailed = int(failed.Load())
	stats.FilesRemoved = removed
	stats.UnitsStored = int(units.Load())
	stats.Duration = time.Since(start)

	idx.log.Info("index run complete",
		"indexed", stats.FilesIndexed,
		"up_to_date", stats.FilesUpToDate,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed,
		"removed", stats.FilesRemoved,
		"units", stats.UnitsStored,
		"duration", stats.Duration)
	return stats, nil
}

// EmbedPending computes vectors for units that have none under the
// current provider and model. It is a no-op without an embedder.
func (idx *Indexer) EmbedPending(ctx context.Context) error {
	return idx.embedPending(ctx)
}

func (idx *Indexer) embedPending(ctx context.Context) error {
	if idx.embed == nil {
		return nil
	}
	provider, model := idx.embed.Provider(), idx.embed.Model()

	for {
		rows, err := idx.store.UnitsWithoutEmbedding(ctx, provider, model, idx.cfg.EmbedBatch)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		texts := make([]string, len(rows))
		for i, row := range rows {
			texts[i] = row.Body
			if texts[i] == "" {
				texts[i] = row.StableID
			}
		}
		vectors, err := idx.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed %d units: %w", len(rows), err)
		}
		for i, row := range rows {
			rec := &storage.EmbeddingRecord{
				UnitID:    row.ID,
				Vector:    vectors[i],
				Provider:  provider,
				Model:     model,
				CreatedAt: time.Now(),
			}
			if err := idx.store.PutEmbedding(ctx, rec); err != nil {
				return err
			}
		}
	}
}

// relPath maps an absolute path to the root-relative slash form used
// as the storage key. Paths outside the root are rejected.
func (idx *Indexer) relPath(path string) (string, error) {
	rel, err := filepath.Rel(idx.cfg.Root, path)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", path, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || len(rel) > 2 && rel[:3] == "../" {
		return "", fmt.Errorf("path %s is outside the indexed root", path)
	}
	return rel, nil
}
