package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/semdex/semdex/internal/arbiter"
	"github.com/semdex/semdex/internal/storage"
)

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index contents and whether a server holds the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			transport, err := arbiter.NewFileTransport(e.cfg.DBPath)
			if err != nil {
				return err
			}
			pid, found, err := transport.ServerPID()
			if err != nil {
				return err
			}
			if found && transport.HolderAlive(pid) {
				fmt.Fprintf(out, "server: running (pid %d)\n", pid)
			} else {
				fmt.Fprintln(out, "server: not running")
			}

			if _, err := os.Stat(e.cfg.DBPath); os.IsNotExist(err) {
				fmt.Fprintf(out, "index: %s (not created yet, run 'semdex index')\n", e.cfg.DBPath)
				return nil
			}

			return withExclusiveAccess(cmd.Context(), e, func(ctx context.Context) error {
				store, err := storage.Open(e.cfg.DBPath)
				if err != nil {
					return fmt.Errorf("failed to open index database: %w", err)
				}
				defer func() { _ = store.Close() }()

				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "index: %s\n", e.cfg.DBPath)
				fmt.Fprintf(out, "files: %d\nunits: %d\nembeddings: %d\n", stats.Files, stats.Units, stats.Embeddings)
				fmt.Fprintf(out, "size: %.2f MB\n", float64(stats.SizeBytes)/(1024*1024))
				fmt.Fprintf(out, "storage build: %s\n", stats.BuildMode)
				return nil
			})
		},
	}
}
