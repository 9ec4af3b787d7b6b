// Package config provides configuration types, defaults, and persistence for taskhost.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/paths"
	"github.com/zjrosen/taskhost/internal/tracing"
)

// Isolation modes.
const (
	IsolationGoroutine = "goroutine"
	IsolationProcess   = "process"
)

// Config holds all taskhost configuration.
type Config struct {
	Ceiling    int             `mapstructure:"ceiling"`     // Max concurrently running tasks
	Isolation  string          `mapstructure:"isolation"`   // "goroutine" or "process"
	MaxPending int             `mapstructure:"max_pending"` // 0 = unlimited backlog
	OutcomeTTL time.Duration   `mapstructure:"outcome_ttl"` // How long finished outcomes stay queryable
	History    HistoryConfig   `mapstructure:"history"`
	Spool      SpoolConfig     `mapstructure:"spool"`
	Tracing    tracing.Config  `mapstructure:"tracing"`
	Flags      map[string]bool `mapstructure:"flags"`
}

// HistoryConfig controls the SQLite run history.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Default: ~/.local/share/taskhost/history.db
}

// SpoolConfig controls the job spool directory.
type SpoolConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// HistoryPath returns the configured history path or the default.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return paths.Expand(c.History.Path)
	}
	return paths.DefaultHistoryPath()
}

// TracingConfig returns the tracing config with the default file path filled in.
func (c Config) TracingConfig() tracing.Config {
	t := c.Tracing
	if t.Exporter == tracing.ExporterFile && t.FilePath == "" {
		t.FilePath = paths.DefaultTracesFilePath()
	}
	t.FilePath = paths.Expand(t.FilePath)
	return t
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Ceiling:    5,
		Isolation:  IsolationGoroutine,
		MaxPending: 0,
		OutcomeTTL: 10 * time.Minute,
		History: HistoryConfig{
			Enabled: true,
			Path:    "", // Derived from data dir at runtime
		},
		Spool: SpoolConfig{
			Dir:      "",
			Debounce: 100 * time.Millisecond,
		},
		Tracing: tracing.DefaultConfig(),
		Flags:   map[string]bool{},
	}
}

// Validate checks the configuration for errors.
func Validate(cfg Config) error {
	if cfg.Ceiling < 0 {
		return fmt.Errorf("ceiling must be >= 0, got %d", cfg.Ceiling)
	}
	if cfg.MaxPending < 0 {
		return fmt.Errorf("max_pending must be >= 0, got %d", cfg.MaxPending)
	}
	switch cfg.Isolation {
	case "", IsolationGoroutine, IsolationProcess:
	default:
		return fmt.Errorf("isolation must be %q or %q, got %q", IsolationGoroutine, IsolationProcess, cfg.Isolation)
	}
	if cfg.OutcomeTTL < 0 {
		return fmt.Errorf("outcome_ttl must not be negative, got %s", cfg.OutcomeTTL)
	}
	if cfg.Spool.Debounce < 0 {
		return fmt.Errorf("spool.debounce must not be negative, got %s", cfg.Spool.Debounce)
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	// The file exporter path falls back to the config dir, so only the
	// OTLP endpoint is mandatory.
	if t.Enabled && t.Exporter == tracing.ExporterOTLP && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# taskhost configuration

# Maximum number of tasks running at once. Extra tasks wait in FIFO order.
# 0 admits tasks but never starts them.
ceiling: 5

# Where tasks run: "goroutine" (in-process) or "process" (one child per task)
isolation: goroutine

# Maximum number of tasks waiting for a slot (0 = unlimited)
max_pending: 0

# How long finished task outcomes stay in memory
outcome_ttl: 10m

# Run history database
history:
  enabled: true
  # path: ~/.local/share/taskhost/history.db

# Directory watched for *.yaml job files (kind + params)
spool:
  # dir: .taskhost/spool
  debounce: 100ms

# Tracing (OpenTelemetry), one span per task
tracing:
  enabled: false
  exporter: file            # "none", "file", "stdout", or "otlp"
  # file_path: ~/.config/taskhost/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0

# Feature flags
flags:
  # lifo-admission: false        # Start the newest pending task first
  # history-read-through: false  # Look up expired outcomes in the history db
  # dashboard-logs: false        # Show the log pane in the dashboard
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
