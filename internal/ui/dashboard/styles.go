package dashboard

import "github.com/charmbracelet/lipgloss"

var (
	textMutedColor     = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#696969"}
	textSecondaryColor = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BBBBBB"}
	statusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	statusWarningColor = lipgloss.AdaptiveColor{Light: "#C98A00", Dark: "#FECA57"}
	statusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	accentColor        = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	mutedStyle    = lipgloss.NewStyle().Foreground(textMutedColor)
	idStyle       = lipgloss.NewStyle().Foreground(textSecondaryColor)
	successStyle  = lipgloss.NewStyle().Foreground(statusSuccessColor)
	warningStyle  = lipgloss.NewStyle().Foreground(statusWarningColor)
	errorStyle    = lipgloss.NewStyle().Foreground(statusErrorColor)
	spinnerStyle  = lipgloss.NewStyle().Foreground(accentColor)
	selectedStyle = lipgloss.NewStyle().Bold(true)

	logPaneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(textMutedColor).
			Padding(0, 1)
)
