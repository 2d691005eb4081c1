package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the indexed root when no explicit
// config path is given.
const DefaultFileName = "semdex.yaml"

// Default tunables.
const (
	DefaultDBFileName     = ".semdex.db"
	DefaultScanInterval   = 300 * time.Second
	DefaultScanBatchSize  = 10
	DefaultYieldInterval  = 100 * time.Millisecond
	DefaultQueueSize      = 1000
	DefaultRequestTimeout = 10 * time.Second
	DefaultStaleGrace     = 5 * time.Second
	DefaultDebounce       = 500 * time.Millisecond
	DefaultLogLevel       = "info"
)

// Duration wraps time.Duration so YAML values like "300s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full settings tree.
type Config struct {
	// DBPath is the SQLite file. Relative paths resolve against the
	// indexed root.
	DBPath string `yaml:"db_path"`

	Scanner   ScannerConfig   `yaml:"scanner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Walk      WalkConfig      `yaml:"walk"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Arbiter   ArbiterConfig   `yaml:"arbiter"`
	LogLevel  string          `yaml:"log_level"`
}

type ScannerConfig struct {
	Interval      Duration `yaml:"interval"`
	BatchSize     int      `yaml:"batch_size"`
	YieldInterval Duration `yaml:"yield_interval"`
}

type SchedulerConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type WatcherConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Debounce Duration `yaml:"debounce"`
}

type WalkConfig struct {
	IncludeGlobs  []string `yaml:"include"`
	ExcludeGlobs  []string `yaml:"exclude"`
	IncludeHidden bool     `yaml:"include_hidden"`
	MaxFileSize   int64    `yaml:"max_file_size"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type ArbiterConfig struct {
	RequestTimeout Duration `yaml:"request_timeout"`
	StaleGrace     Duration `yaml:"stale_grace"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Interval:      Duration(DefaultScanInterval),
			BatchSize:     DefaultScanBatchSize,
			YieldInterval: Duration(DefaultYieldInterval),
		},
		Scheduler: SchedulerConfig{QueueSize: DefaultQueueSize},
		Watcher: WatcherConfig{
			Enabled:  true,
			Debounce: Duration(DefaultDebounce),
		},
		Embedding: EmbeddingConfig{Provider: "local"},
		Arbiter: ArbiterConfig{
			RequestTimeout: Duration(DefaultRequestTimeout),
			StaleGrace:     Duration(DefaultStaleGrace),
		},
		LogLevel: DefaultLogLevel,
	}
}

// Load builds the configuration for one indexed root. path may name an
// explicit config file; when empty, root/semdex.yaml is used if it
// exists. Environment variables override file values.
func Load(root, path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidate := filepath.Join(root, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(root, DefaultDBFileName)
	} else if !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(root, cfg.DBPath)
	}
	return cfg, nil
}

// applyEnv layers SEMDEX_* variables over the current values.
func (c *Config) applyEnv() {
	setString(&c.DBPath, "SEMDEX_DB_PATH")
	setString(&c.LogLevel, "SEMDEX_LOG_LEVEL")
	setString(&c.Embedding.Provider, "SEMDEX_EMBEDDING_PROVIDER")
	setString(&c.Embedding.APIKey, "SEMDEX_EMBEDDING_API_KEY")
	setString(&c.Embedding.BaseURL, "SEMDEX_EMBEDDING_BASE_URL")
	setString(&c.Embedding.Model, "SEMDEX_EMBEDDING_MODEL")
	setInt(&c.Scheduler.QueueSize, "SEMDEX_QUEUE_SIZE")
	setInt(&c.Scanner.BatchSize, "SEMDEX_SCAN_BATCH_SIZE")
	setDuration(&c.Scanner.Interval, "SEMDEX_SCAN_INTERVAL")
	setBool(&c.Watcher.Enabled, "SEMDEX_WATCHER_ENABLED")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
