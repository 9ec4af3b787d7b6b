package manager

import (
	tea "github.com/charmbracelet/bubbletea"
)

// PumpMsg tells a Bubble Tea model that the outbound queue has messages.
// The model should call Pump and re-arm with PumpCmd.
type PumpMsg struct{}

// PumpCmd waits for the queue to become ready. It returns nil once the
// manager is closed so the command goroutine ends.
func PumpCmd(m *Manager) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case <-m.Ready():
			return PumpMsg{}
		}
	}
}
