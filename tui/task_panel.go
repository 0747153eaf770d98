// ABOUTME: Bubble Tea sub-model listing the run's tasks in order with status markers.
// ABOUTME: The running task is drawn with a bubbles spinner; finished tasks show their duration.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/taskrunner/runner"
)

// taskRow is one line of the task list.
type taskRow struct {
	id        int
	title     string
	status    TaskStatus
	startedAt time.Time
	duration  time.Duration
	previous  bool // finished before this session started
}

// TaskPanelModel displays the ordered task list.
type TaskPanelModel struct {
	runID   string
	rows    []taskRow
	index   map[int]int
	spinner spinner.Model
	width   int
}

// NewTaskPanelModel seeds the list from a status report.
func NewTaskPanelModel(report runner.StatusReport) TaskPanelModel {
	m := TaskPanelModel{
		runID:   report.RunID,
		index:   make(map[int]int, len(report.Tasks)),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(RunningStyle)),
	}
	for i, t := range report.Tasks {
		status := StatusForTask(t)
		m.rows = append(m.rows, taskRow{
			id:       t.ID,
			title:    t.Title,
			status:   status,
			duration: t.Duration(),
			previous: status.Finished(),
		})
		m.index[t.ID] = i
	}
	return m
}

// Len returns the number of tasks.
func (m TaskPanelModel) Len() int { return len(m.rows) }

// Title returns a task's title, or "task N" when unknown.
func (m TaskPanelModel) Title(id int) string {
	if i, ok := m.index[id]; ok {
		return m.rows[i].title
	}
	return fmt.Sprintf("task %d", id)
}

// SetStatus updates a task row. Entering running resets its clock;
// a terminal status freezes its duration.
func (m *TaskPanelModel) SetStatus(id int, status TaskStatus, at time.Time) {
	i, ok := m.index[id]
	if !ok {
		return
	}
	r := &m.rows[i]
	switch {
	case status == TaskRunning:
		r.startedAt = at
		r.duration = 0
		r.previous = false
	case status.Finished() && !r.startedAt.IsZero():
		r.duration = at.Sub(r.startedAt)
		r.previous = false
	}
	r.status = status
}

// Status returns a task's status (TaskPending when unknown).
func (m TaskPanelModel) Status(id int) TaskStatus {
	if i, ok := m.index[id]; ok {
		return m.rows[i].status
	}
	return TaskPending
}

// Finished counts tasks in a terminal status.
func (m TaskPanelModel) Finished() int {
	n := 0
	for _, r := range m.rows {
		if r.status.Finished() {
			n++
		}
	}
	return n
}

// SetWidth sets the available width for rendering.
func (m *TaskPanelModel) SetWidth(w int) {
	m.width = w
}

// Tick starts the spinner animation.
func (m TaskPanelModel) Tick() tea.Msg {
	return m.spinner.Tick()
}

// Update advances the spinner.
func (m TaskPanelModel) Update(msg tea.Msg) (TaskPanelModel, tea.Cmd) {
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

// Lines renders one styled line per task without a border.
func (m TaskPanelModel) Lines() []string {
	lines := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		style := StyleForStatus(r.status)
		var line string
		switch {
		case r.status == TaskRunning:
			line = style.Render(fmt.Sprintf("  %s %3d. %s", r.status.Icon(), r.id, r.title)) + " " + m.spinner.View()
		case r.previous:
			line = PendingStyle.Render(fmt.Sprintf("  %s %3d. %s  (previous run)", r.status.Icon(), r.id, r.title))
		case r.status.Finished():
			line = style.Render(fmt.Sprintf("  %s %3d. %s  %s (%s)", r.status.Icon(), r.id, r.title, r.status, formatDuration(r.duration)))
		default:
			line = style.Render(fmt.Sprintf("  %s %3d. %s", r.status.Icon(), r.id, r.title))
		}
		lines = append(lines, line)
	}
	return lines
}

// View renders the bordered task list.
func (m TaskPanelModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("=== RUN: %s ===", m.runID)))
	b.WriteString("\n")
	if len(m.rows) == 0 {
		b.WriteString(PendingStyle.Render("  no tasks"))
	} else {
		b.WriteString(strings.Join(m.Lines(), "\n"))
	}
	if m.width > 2 {
		return BorderStyle.Width(m.width - 2).Render(b.String())
	}
	return BorderStyle.Render(b.String())
}
