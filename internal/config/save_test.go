package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func readYAML(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, yaml.Unmarshal(data, &out))
	return out
}

func TestSaveFlags_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	require.NoError(t, SaveFlags(path, map[string]bool{"lifo-admission": true, "dashboard-logs": false}))

	got := readYAML(t, path)
	require.Equal(t, map[string]any{"lifo-admission": true, "dashboard-logs": false}, got["flags"])
}

func TestSaveFlags_PreservesOtherKeysAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	original := `# my settings
ceiling: 3 # three at a time
isolation: process
flags:
  lifo-admission: true
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	require.NoError(t, SaveFlags(path, map[string]bool{"history-read-through": true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# my settings")
	require.Contains(t, string(data), "# three at a time")

	got := readYAML(t, path)
	require.Equal(t, 3, got["ceiling"])
	require.Equal(t, "process", got["isolation"])
	require.Equal(t, map[string]any{"history-read-through": true}, got["flags"])
}

func TestSaveFlags_AppendsMissingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ceiling: 2\n"), 0o600))

	require.NoError(t, SaveFlags(path, map[string]bool{"lifo-admission": false}))

	got := readYAML(t, path)
	require.Equal(t, 2, got["ceiling"])
	require.Equal(t, map[string]any{"lifo-admission": false}, got["flags"])
}

func TestSaveFlags_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ceiling: [unclosed\n"), 0o600))

	err := SaveFlags(path, map[string]bool{"lifo-admission": true})
	require.ErrorContains(t, err, "parsing config")
}

func TestSaveFlags_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveFlags(path, map[string]bool{"lifo-admission": true}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "config.yaml", entries[0].Name())
}
