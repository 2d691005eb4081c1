package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/semdex/semdex/internal/config"
	"github.com/semdex/semdex/internal/storage"
)

// Build identification, overridable via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	root       string
	configPath string
	dbPath     string
	logLevel   string
}

// env builds the runtime pieces a command needs from the flags.
type env struct {
	root string
	cfg  *config.Config
	log  *slog.Logger
}

// NewRootCommand builds the semdex command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "semdex",
		Short:         "Local-first semantic code index",
		Long:          "semdex indexes a source tree into a local SQLite database and answers keyword, semantic, and hybrid queries over it, either directly or as an MCP server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.Version = fmt.Sprintf("%s (built %s, storage %s)", Version, BuildTime, storage.BuildMode)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.root, "root", "r", ".", "directory to index")
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default: <root>/semdex.yaml)")
	flags.StringVar(&opts.dbPath, "db", "", "index database file (default: <root>/.semdex.db)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(newIndexCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newMCPCommand(opts))
	return cmd
}

// load resolves flags into an absolute root, merged configuration, and
// a logger writing to stderr. stdout stays clean for command output
// and, under the mcp command, for the protocol stream.
func (o *options) load() (*env, error) {
	root, err := filepath.Abs(o.root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	cfg, err := config.Load(root, o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	return &env{root: root, cfg: cfg, log: newLogger(cfg.LogLevel)}, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
