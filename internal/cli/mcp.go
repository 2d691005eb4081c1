package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semdex/semdex/internal/mcp"
)

func newMCPCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdio",
		Long:  "Serves search_code, index_path, and get_stats tools over the Model Context Protocol. Keeps the index fresh with a background scanner and filesystem watcher, and yields the database to semdex CLI invocations on request.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := mcp.NewServer(e.root, e.cfg, e.log)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
}
