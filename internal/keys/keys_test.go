package keys

import (
	"testing"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestDefaultKeyMap_Bindings(t *testing.T) {
	km := DefaultKeyMap()

	tests := []struct {
		name    string
		binding key.Binding
		keys    []string
	}{
		{"up", km.Up, []string{"k", "up"}},
		{"down", km.Down, []string{"j", "down"}},
		{"cancel", km.Cancel, []string{"x"}},
		{"logs", km.ToggleLogs, []string{"l"}},
		{"help", km.Help, []string{"?"}},
		{"quit", km.Quit, []string{"q", "ctrl+c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.keys, tt.binding.Keys())
			require.NotEmpty(t, tt.binding.Help().Desc)
		})
	}
}

func TestDefaultKeyMap_Matches(t *testing.T) {
	km := DefaultKeyMap()
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}}, km.Cancel))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyCtrlC}, km.Quit))
	require.False(t, key.Matches(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}}, km.Quit))
}

// Every binding is reachable from the full help view.
func TestFullHelp_CoversAllBindings(t *testing.T) {
	km := DefaultKeyMap()
	seen := map[string]bool{}
	for _, group := range km.FullHelp() {
		for _, b := range group {
			seen[b.Help().Desc] = true
		}
	}
	for _, b := range []key.Binding{km.Up, km.Down, km.Cancel, km.ToggleLogs, km.Help, km.Quit} {
		require.True(t, seen[b.Help().Desc], b.Help().Desc)
	}
	require.Len(t, km.ShortHelp(), 3)
}
