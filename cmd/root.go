package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/taskhost/internal/config"
	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/paths"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in the dashboard.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "taskhost",
	Short: "Run background tasks under a concurrency ceiling",
	Long: `taskhost runs tasks on background workers, at most a fixed number at a
time, admitting the rest in arrival order as slots free up. Each task reports
progress through named signals and always ends with exactly one completion,
failure or cancellation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .taskhost/config.yaml, then ~/.config/taskhost/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from TASKHOST_LOG, default debug.log)")
	rootCmd.PersistentFlags().Int("ceiling", 0, "maximum number of running tasks (overrides config)")
	rootCmd.PersistentFlags().String("isolation", "", `"goroutine" or "process" (overrides config)`)
	rootCmd.PersistentFlags().Int("max-pending", 0, "maximum number of waiting tasks, 0 = unlimited (overrides config)")

	_ = viper.BindPFlag("ceiling", rootCmd.PersistentFlags().Lookup("ceiling"))
	_ = viper.BindPFlag("isolation", rootCmd.PersistentFlags().Lookup("isolation"))
	_ = viper.BindPFlag("max_pending", rootCmd.PersistentFlags().Lookup("max-pending"))
}

// setDefaults registers every config key so env/flag binding and Unmarshal
// see them even without a config file.
func setDefaults(v *viper.Viper) {
	defaults := config.Defaults()
	v.SetDefault("ceiling", defaults.Ceiling)
	v.SetDefault("isolation", defaults.Isolation)
	v.SetDefault("max_pending", defaults.MaxPending)
	v.SetDefault("outcome_ttl", defaults.OutcomeTTL)
	v.SetDefault("history.enabled", defaults.History.Enabled)
	v.SetDefault("history.path", defaults.History.Path)
	v.SetDefault("spool.dir", defaults.Spool.Dir)
	v.SetDefault("spool.debounce", defaults.Spool.Debounce)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
}

func initConfig() {
	setDefaults(viper.GetViper())
	viper.SetEnvPrefix("TASKHOST")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .taskhost/config.yaml (current directory)
		// 2. ~/.config/taskhost/config.yaml (user config)
		if _, err := os.Stat(paths.LocalConfigPath); err == nil {
			viper.SetConfigFile(paths.LocalConfigPath)
		} else if dir := paths.ConfigDir(); dir != "" {
			viper.AddConfigPath(dir)
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config anywhere - create the user default.
			if dir := paths.ConfigDir(); dir != "" {
				defaultPath := filepath.Join(dir, "config.yaml")
				if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
					viper.SetConfigFile(defaultPath)
					_ = viper.ReadInConfig()
				}
			}
		} else {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	cfg = config.Defaults()
	_ = viper.Unmarshal(&cfg)
}

// configFilePath is where config changes are saved.
func configFilePath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(paths.ConfigDir(), "config.yaml")
}

// startLogging initialises the debug log when requested by flag or
// TASKHOST_DEBUG. TASKHOST_LOG_LEVEL raises the minimum level. The returned
// cleanup is never nil.
func startLogging(prefix string) (func(), error) {
	if !debugFlag && os.Getenv("TASKHOST_DEBUG") == "" {
		return func() {}, nil
	}
	logPath := os.Getenv("TASKHOST_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.InitWithTeaLog(logPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	if lvl := os.Getenv("TASKHOST_LOG_LEVEL"); lvl != "" {
		log.SetMinLevel(log.ParseLevel(lvl))
	}
	log.Info(log.CatConfig, "Config loaded", "file", viper.ConfigFileUsed(), "ceiling", cfg.Ceiling, "isolation", cfg.Isolation)
	return cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
