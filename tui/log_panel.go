// ABOUTME: Implements a scrollable event log panel using the bubbles viewport component.
// ABOUTME: Displays runner lifecycle events with color-coded formatting based on event type.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/taskrunner/runner"
)

// LogPanelModel is a scrollable log of runner events.
type LogPanelModel struct {
	entries  []runner.EngineEvent
	max      int
	viewport viewport.Model
	focused  bool
	width    int
	height   int
}

// NewLogPanelModel creates a log panel keeping at most maxEntries events.
// If maxEntries is <= 0, it defaults to 200.
func NewLogPanelModel(maxEntries int) LogPanelModel {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return LogPanelModel{
		entries:  make([]runner.EngineEvent, 0, maxEntries),
		max:      maxEntries,
		viewport: viewport.New(80, 10),
	}
}

// Append adds an event, evicting the oldest entry at capacity.
func (m *LogPanelModel) Append(evt runner.EngineEvent) {
	if len(m.entries) >= m.max {
		m.entries = m.entries[1:]
	}
	m.entries = append(m.entries, evt)
	m.syncViewport()
}

// Len returns the number of entries in the log.
func (m LogPanelModel) Len() int {
	return len(m.entries)
}

// SetFocused sets whether this panel accepts scroll keys.
func (m *LogPanelModel) SetFocused(focused bool) {
	m.focused = focused
}

// IsFocused returns whether the panel is focused.
func (m LogPanelModel) IsFocused() bool {
	return m.focused
}

// SetSize sets the available dimensions and updates the viewport.
func (m *LogPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// border takes two lines and the title one
	m.viewport.Width = max(w-2, 1)
	m.viewport.Height = max(h-3, 1)
	m.syncViewport()
}

// Update forwards scroll keys to the viewport while focused.
func (m LogPanelModel) Update(msg tea.Msg) (LogPanelModel, tea.Cmd) {
	if !m.focused {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the log panel.
func (m LogPanelModel) View() string {
	title := "EVENT LOG"
	if m.focused {
		title = "EVENT LOG (focused)"
	}

	content := "No events yet"
	if len(m.entries) > 0 {
		content = m.viewport.View()
	}

	rendered := TitleStyle.Render(title) + "\n" + content
	style := BorderStyle
	if m.width > 2 {
		style = style.Width(m.width - 2)
	}
	if m.height > 2 {
		style = style.Height(m.height - 2)
	}
	return style.Render(rendered)
}

func (m *LogPanelModel) syncViewport() {
	lines := make([]string, 0, len(m.entries))
	for _, evt := range m.entries {
		lines = append(lines, formatEntry(evt))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

// formatEntry formats one event as a log line.
func formatEntry(evt runner.EngineEvent) string {
	parts := []string{
		LogTimestampStyle.Render(evt.Timestamp.Format("15:04:05")),
		eventStyle(evt.Type).Render(string(evt.Type)),
	}
	if evt.TaskID != 0 {
		parts = append(parts, fmt.Sprintf("[task %d]", evt.TaskID))
	}
	if len(evt.Data) > 0 {
		parts = append(parts, formatData(evt.Data))
	}
	return strings.Join(parts, " ")
}

// formatData formats event data as sorted key=value pairs.
func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(data))
	for _, k := range keys {
		v := fmt.Sprintf("%v", data[k])
		if v == "" {
			continue
		}
		if i := strings.IndexByte(v, '\n'); i >= 0 {
			v = v[:i] + "..."
		}
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(pairs, " ")
}

func eventStyle(t runner.EngineEventType) lipgloss.Style {
	switch t {
	case runner.EventRunCompleted, runner.EventTaskCompleted, runner.EventResetSucceeded:
		return LogSuccessStyle
	case runner.EventRunAborted, runner.EventTaskFailed, runner.EventTaskTimedOut, runner.EventResetFailed:
		return LogErrorStyle
	case runner.EventTaskStalled, runner.EventStreamMalformed, runner.EventTaskInterrupt:
		return LogWarnStyle
	case runner.EventResetStarted:
		return LogResetStyle
	default:
		return LogEventStyle
	}
}
