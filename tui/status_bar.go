// ABOUTME: Implements a single-line status bar for the bottom of the TUI showing run progress.
// ABOUTME: Displays the run id, elapsed time, finished task count, and the active task.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusBarModel displays run status in a single line.
type StatusBarModel struct {
	runID         string
	startTime     time.Time
	totalTasks    int
	finishedTasks int
	activeTask    string
	width         int
}

// NewStatusBarModel creates a StatusBarModel for the given run and task count.
func NewStatusBarModel(runID string, totalTasks int) StatusBarModel {
	return StatusBarModel{
		runID:      runID,
		totalTasks: totalTasks,
	}
}

// Start records the run start time.
func (m *StatusBarModel) Start() {
	m.startTime = time.Now()
}

// SetFinished updates the count of tasks in a terminal state.
func (m *StatusBarModel) SetFinished(n int) {
	m.finishedTasks = n
}

// SetActiveTask sets the title of the running task.
func (m *StatusBarModel) SetActiveTask(name string) {
	m.activeTask = name
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// Elapsed returns the time since Start() was called, or zero if not started.
func (m StatusBarModel) Elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	return time.Since(m.startTime)
}

// formatElapsed formats a duration as "12s" under a minute and "2m30s" above.
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	active := m.activeTask
	if active == "" {
		active = "idle"
	}

	content := fmt.Sprintf("Run: %s | Elapsed: %s | %d/%d tasks | Active: %s",
		m.runID, formatElapsed(m.Elapsed()), m.finishedTasks, m.totalTasks, active)

	style := StatusBarStyle.Width(m.width)
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, style.Render(content))
}
