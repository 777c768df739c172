package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigLocations(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.Equal(t, filepath.Join(home, ".config", "exorcist"), ConfigDir())
	require.Equal(t, filepath.Join(home, ".config", "exorcist", "config.yaml"), ConfigFile())
	require.Equal(t, filepath.Join(home, ".config", "exorcist", "traces", "traces.jsonl"), TracesFile())
}

func TestConfigLocations_NoHome(t *testing.T) {
	t.Setenv("HOME", "")

	require.Empty(t, ConfigDir())
	require.Empty(t, ConfigFile())
	require.Empty(t, TracesFile())
}

func TestSamePath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	tests := []struct {
		a, b string
		want bool
	}{
		{"bundle.js", "bundle.js", true},
		{"bundle.js", "./bundle.js", true},
		{"bundle.js", filepath.Join(dir, "bundle.js"), true},
		{"dist/../bundle.js", "bundle.js", true},
		{"bundle.js", "out.js", false},
		{"dist/bundle.js", "bundle.js", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, SamePath(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
