package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/semdex/semdex/internal/searcher"
	"github.com/semdex/semdex/internal/storage"
)

func newSearchCommand(opts *options) *cobra.Command {
	var (
		limit    int
		mode     string
		showBody bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			return withExclusiveAccess(cmd.Context(), e, func(ctx context.Context) error {
				store, err := storage.Open(e.cfg.DBPath)
				if err != nil {
					return fmt.Errorf("failed to open index database: %w", err)
				}
				defer func() { _ = store.Close() }()

				// Keyword queries need no provider; everything else does.
				var s *searcher.Searcher
				if searcher.Mode(mode) == searcher.ModeKeyword {
					s = searcher.New(store, nil)
				} else {
					embed, err := buildEmbedder(e, false)
					if err != nil {
						return err
					}
					s = searcher.New(store, embed)
				}

				resp, err := s.Search(ctx, searcher.Request{
					Query: query,
					Limit: limit,
					Mode:  searcher.Mode(mode),
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(resp.Results) == 0 {
					fmt.Fprintln(out, "no results")
					return nil
				}
				for _, r := range resp.Results {
					fmt.Fprintf(out, "%2d. %s:%d-%d  %s %s  (%.4f)\n",
						r.Rank, r.Unit.Path, r.Unit.StartLine, r.Unit.EndLine,
						r.Unit.Kind, r.Unit.Name, r.Score)
					if showBody {
						for _, line := range strings.Split(r.Unit.Body, "\n") {
							fmt.Fprintf(out, "    %s\n", line)
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", searcher.DefaultLimit, "maximum results")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(searcher.ModeHybrid), "ranking: hybrid, semantic, keyword")
	cmd.Flags().BoolVar(&showBody, "body", false, "print unit bodies")
	return cmd
}
