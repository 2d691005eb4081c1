package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/semdex/semdex/internal/arbiter"
	"github.com/semdex/semdex/internal/embedder"
	"github.com/semdex/semdex/internal/indexer"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/internal/walk"
)

// timeRound keeps printed durations readable.
const timeRound = time.Millisecond

func newIndexCommand(opts *options) *cobra.Command {
	var skipEmbeddings bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the root directory into the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}

			return withExclusiveAccess(cmd.Context(), e, func(ctx context.Context) error {
				store, err := storage.Open(e.cfg.DBPath)
				if err != nil {
					return fmt.Errorf("failed to open index database: %w", err)
				}
				defer func() { _ = store.Close() }()

				embed, err := buildEmbedder(e, skipEmbeddings)
				if err != nil {
					return err
				}

				idx := indexer.New(indexer.Config{
					Root: e.root,
					Walk: walkOptions(e),
				}, store, embed, e.log)

				stats, err := idx.IndexTree(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "indexed %d, up to date %d, skipped %d, removed %d (%d units, %s)\n",
					stats.FilesIndexed, stats.FilesUpToDate, stats.FilesSkipped,
					stats.FilesRemoved, stats.UnitsStored, stats.Duration.Round(timeRound))
				if stats.FilesFailed > 0 {
					fmt.Fprintf(out, "%d files failed:\n", stats.FilesFailed)
					for _, msg := range stats.ErrorMessages {
						fmt.Fprintf(out, "  %s\n", msg)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipEmbeddings, "skip-embeddings", false, "store units without computing vectors")
	return cmd
}

// withExclusiveAccess runs fn while holding the database, borrowing it
// from a running server when one is registered.
func withExclusiveAccess(ctx context.Context, e *env, fn func(ctx context.Context) error) error {
	transport, err := arbiter.NewFileTransport(e.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to prepare access coordination: %w", err)
	}
	cfg := arbiter.RequesterConfig{Timeout: e.cfg.Arbiter.RequestTimeout.Std()}
	return arbiter.Run(ctx, transport, cfg, e.log, fn)
}

// buildEmbedder returns nil when vectors are skipped, which the indexer
// and searcher treat as keyword-only operation.
func buildEmbedder(e *env, skip bool) (embedder.Embedder, error) {
	if skip {
		return nil, nil
	}
	embed, err := embedder.New(embedder.Config{
		Provider:  e.cfg.Embedding.Provider,
		APIKey:    e.cfg.Embedding.APIKey,
		BaseURL:   e.cfg.Embedding.BaseURL,
		Model:     e.cfg.Embedding.Model,
		Dimension: e.cfg.Embedding.Dimension,
		BatchSize: e.cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	return embed, nil
}

func walkOptions(e *env) walk.Options {
	return walk.Options{
		IncludeGlobs:  e.cfg.Walk.IncludeGlobs,
		ExcludeGlobs:  e.cfg.Walk.ExcludeGlobs,
		IncludeHidden: e.cfg.Walk.IncludeHidden,
		MaxFileSize:   e.cfg.Walk.MaxFileSize,
	}
}
