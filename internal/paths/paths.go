// Package paths resolves where taskhost keeps its config, data and traces.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const appName = "taskhost"

// LocalConfigPath is the project-local config file, checked first.
var LocalConfigPath = filepath.Join("."+appName, "config.yaml")

// ConfigDir returns ~/.config/taskhost, honouring XDG_CONFIG_HOME.
// Returns an empty string if no home directory is available.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// DataDir returns ~/.local/share/taskhost, honouring XDG_DATA_HOME.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", appName)
}

// DefaultHistoryPath is the run history database.
func DefaultHistoryPath() string {
	return joinIfSet(DataDir(), "history.db")
}

// DefaultTracesFilePath is where the file trace exporter writes.
func DefaultTracesFilePath() string {
	return joinIfSet(ConfigDir(), "traces", "traces.jsonl")
}

// DefaultSpoolDir is the project-local spool directory.
func DefaultSpoolDir() string {
	return filepath.Join("."+appName, "spool")
}

// Expand replaces a leading "~" with the home directory and cleans the path.
// Empty input stays empty.
func Expand(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}

func joinIfSet(dir string, elem ...string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(append([]string{dir}, elem...)...)
}
