package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/zjrosen/taskhost/internal/manager"
)

const (
	idWidth   = 8
	kindWidth = 10
)

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(mutedStyle.Render("  no tasks yet"))
		b.WriteString("\n")
	}
	for i, id := range m.order {
		b.WriteString(m.renderRow(i, m.rows[id]))
		b.WriteString("\n")
	}

	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(truncate("error: "+m.lastErr, m.width)))
		b.WriteString("\n")
	}

	if m.showLogs {
		b.WriteString("\n")
		b.WriteString(m.renderLogs())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderHeader() string {
	s := m.mgr.Metrics()
	parts := []string{
		titleStyle.Render("taskhost"),
		fmt.Sprintf("running %d/%d", m.mgr.Running(), m.mgr.Ceiling()),
		fmt.Sprintf("pending %d", m.mgr.PendingCount()),
		successStyle.Render(fmt.Sprintf("done %d", s.Completed)),
		errorStyle.Render(fmt.Sprintf("failed %d", s.Failed)),
		warningStyle.Render(fmt.Sprintf("canceled %d", s.Canceled)),
		mutedStyle.Render(m.mgr.Isolation()),
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderRow(i int, r *row) string {
	cursor := "  "
	if i == m.selected {
		cursor = selectedStyle.Render("> ")
	}

	cols := []string{
		cursor + m.stateIcon(r.state),
		idStyle.Render(shortID(r.id)),
		runewidth.FillRight(truncate(r.kind, kindWidth), kindWidth),
	}

	switch r.state {
	case manager.StateRunning:
		cols = append(cols, m.bar.ViewAs(r.percent), fmt.Sprintf("%3.0f%%", r.percent*100))
	case manager.StatePending, manager.StateUnknown:
		cols = append(cols, mutedStyle.Render(fmt.Sprintf("waiting %s", m.since(r.admitted))))
	default:
		cols = append(cols, m.renderFinished(r))
	}

	line := strings.Join(cols, " ")
	if r.output != "" && r.state == manager.StateRunning {
		room := m.width - lipgloss.Width(line) - 2
		if room > 8 {
			line += "  " + mutedStyle.Render(truncate(r.output, room))
		}
	}
	return line
}

func (m Model) renderFinished(r *row) string {
	d := ""
	if !r.started.IsZero() && !r.finished.IsZero() {
		d = " in " + r.finished.Sub(r.started).Round(time.Millisecond).String()
	}
	switch r.state {
	case manager.StateCompleted:
		return successStyle.Render("completed" + d)
	case manager.StateFailed:
		return errorStyle.Render("failed" + d + ": " + truncate(r.reason, 60))
	case manager.StateCanceled:
		return warningStyle.Render("canceled" + d)
	default:
		return string(r.state)
	}
}

func (m Model) stateIcon(s manager.State) string {
	switch s {
	case manager.StateRunning:
		return m.spinner.View()
	case manager.StateCompleted:
		return successStyle.Render("✓")
	case manager.StateFailed:
		return errorStyle.Render("✗")
	case manager.StateCanceled:
		return warningStyle.Render("■")
	default:
		return mutedStyle.Render("·")
	}
}

func (m Model) renderLogs() string {
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	lines := make([]string, 0, maxLogLines)
	for _, l := range m.logLines {
		lines = append(lines, truncate(strings.TrimRight(l, "\n"), width))
	}
	if len(lines) == 0 {
		lines = append(lines, mutedStyle.Render("no log output (run with --debug)"))
	}
	return logPaneStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) since(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return m.now().Sub(t).Round(time.Second).String()
}

// shortID keeps the tail of the id; UUIDv7 prefixes are timestamps and
// look alike for tasks created together.
func shortID(id string) string {
	if len(id) <= idWidth {
		return id
	}
	return id[len(id)-idWidth:]
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "…")
}
