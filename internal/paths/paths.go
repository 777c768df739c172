// Package paths provides path resolution utilities.
package paths

import (
	"os"
	"path/filepath"
)

// AppName names the per-user config directory.
const AppName = "exorcist"

// ConfigDir returns ~/.config/exorcist, or an empty string if the home
// directory is unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", AppName)
}

// ConfigFile returns ~/.config/exorcist/config.yaml, or an empty string if
// the home directory is unknown.
func ConfigFile() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// TracesFile returns ~/.config/exorcist/traces/traces.jsonl, or an empty
// string if the home directory is unknown.
func TracesFile() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// SamePath reports whether a and b name the same location once made
// absolute and cleaned. Paths that cannot be resolved never match.
func SamePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
