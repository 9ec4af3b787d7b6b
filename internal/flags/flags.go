// Package flags provides feature flags read from the "flags" config map.
// Flags are read-only after initialization and default to off.
package flags

import (
	"maps"
	"slices"

	"github.com/zjrosen/taskhost/internal/log"
)

// Flag name constants for type-safe flag access.
const (
	// FlagLIFOAdmission starts the most recently queued pending task first
	// instead of the oldest one.
	FlagLIFOAdmission = "lifo-admission"

	// FlagHistoryReadThrough lets outcome lookups fall back to the history
	// database once an outcome has expired from memory.
	FlagHistoryReadThrough = "history-read-through"

	// FlagDashboardLogs shows the live log pane in the dashboard.
	FlagDashboardLogs = "dashboard-logs"
)

// Known lists every flag this binary understands with a short description.
var Known = map[string]string{
	FlagLIFOAdmission:      "start the newest pending task first",
	FlagHistoryReadThrough: "look up expired outcomes in the history database",
	FlagDashboardLogs:      "show the log pane in the dashboard",
}

// Registry holds feature flag state loaded from configuration.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map.
// If flags is nil, an empty registry is created (all flags disabled).
func New(flags map[string]bool) *Registry {
	if flags == nil {
		flags = make(map[string]bool)
	}
	r := &Registry{flags: maps.Clone(flags)}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(flags), "flags", r.All())
	for _, name := range r.Unknown() {
		log.Warn(log.CatConfig, "Unknown feature flag in config", "flag", name)
	}
	return r
}

// Enabled returns true if the named flag is enabled.
// Returns false for unknown flags and on a nil registry.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	return r.flags[name]
}

// All returns a copy of all flags.
// Returns an empty map if the registry is nil.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	return maps.Clone(r.flags)
}

// Unknown returns the configured flag names missing from Known, sorted.
func (r *Registry) Unknown() []string {
	if r == nil {
		return nil
	}
	var out []string
	for name := range r.flags {
		if _, ok := Known[name]; !ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
