// ABOUTME: Defines lipgloss styles for the TUI panels, task status colors, and log formatting.
// ABOUTME: Provides StyleForStatus to map TaskStatus values to their display styles.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Panel borders
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Status colors
	PendingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RunningStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	CompletedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	InterruptedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	// Log event colors
	LogTimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	LogEventStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	LogErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	LogSuccessStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	LogWarnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	LogResetStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	// Detail panel labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(10)
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// StyleForStatus returns the lipgloss style for a TaskStatus.
func StyleForStatus(status TaskStatus) lipgloss.Style {
	switch status {
	case TaskRunning:
		return RunningStyle
	case TaskCompleted:
		return CompletedStyle
	case TaskFailed, TaskTimedOut:
		return FailedStyle
	case TaskInterrupted:
		return InterruptedStyle
	default:
		return PendingStyle
	}
}
