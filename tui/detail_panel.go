// ABOUTME: Bubble Tea sub-model showing the active task: title, status, elapsed time, and an output tail.
// ABOUTME: The output tail is fed from task.output events so the user sees the worker's live response.
package tui

import (
	"strings"
	"time"
)

// maxOutputLines bounds the output tail kept for the active task.
const maxOutputLines = 8

// TaskDetail holds what the detail panel shows about one task.
type TaskDetail struct {
	ID        int
	Title     string
	Status    TaskStatus
	StartedAt time.Time
	Duration  time.Duration
	Error     string
	output    []string
	partial   string
}

// AppendOutput adds streamed text to the tail, keeping complete lines only
// once a newline arrives.
func (d *TaskDetail) AppendOutput(text string) {
	buf := d.partial + text
	lines := strings.Split(buf, "\n")
	d.partial = lines[len(lines)-1]
	for _, l := range lines[:len(lines)-1] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		d.output = append(d.output, l)
	}
	if n := len(d.output); n > maxOutputLines {
		d.output = d.output[n-maxOutputLines:]
	}
}

// Output returns the tail including any unterminated final line.
func (d TaskDetail) Output() []string {
	out := append([]string(nil), d.output...)
	if strings.TrimSpace(d.partial) != "" {
		out = append(out, d.partial)
	}
	if n := len(out); n > maxOutputLines {
		out = out[n-maxOutputLines:]
	}
	return out
}

// DetailPanelModel displays the active or most recent task.
type DetailPanelModel struct {
	active *TaskDetail
	width  int
	height int
}

// NewDetailPanelModel creates a DetailPanelModel with no active task.
func NewDetailPanelModel() DetailPanelModel {
	return DetailPanelModel{}
}

// SetActive replaces the shown task.
func (m *DetailPanelModel) SetActive(detail TaskDetail) {
	m.active = &detail
}

// Active returns the shown task, if any.
func (m DetailPanelModel) Active() (*TaskDetail, bool) {
	return m.active, m.active != nil
}

// Clear removes the shown task.
func (m *DetailPanelModel) Clear() {
	m.active = nil
}

// SetSize sets the available dimensions.
func (m *DetailPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// maxLineLen is the widest output line shown before truncation.
const maxLineLen = 80

func truncateLine(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLineLen {
		return s
	}
	return string(runes[:maxLineLen]) + "..."
}

// View renders the detail panel.
func (m DetailPanelModel) View() string {
	title := TitleStyle.Render("TASK DETAIL")

	var content string
	if m.active == nil {
		content = title + "\n\n" + ValueStyle.Render("No active task")
	} else {
		d := m.active
		status := StyleForStatus(d.Status).Render(d.Status.String())
		switch {
		case d.Duration > 0:
			status += " " + formatDuration(d.Duration)
		case d.Status == TaskRunning && !d.StartedAt.IsZero():
			status += " " + formatDuration(time.Since(d.StartedAt))
		}

		lines := []string{
			title,
			row("Task:", truncateLine(d.Title)),
			LabelStyle.Render("Status:") + status,
		}
		if d.Error != "" {
			lines = append(lines, LabelStyle.Render("Error:")+FailedStyle.Render(truncateLine(firstLine(d.Error))))
		}
		if out := d.Output(); len(out) > 0 {
			lines = append(lines, "", LabelStyle.Render("Output:"))
			for _, l := range out {
				lines = append(lines, ValueStyle.Render(truncateLine(l)))
			}
		}
		content = strings.Join(lines, "\n")
	}

	style := BorderStyle
	if m.width > 0 {
		style = style.Width(m.width)
	}
	if m.height > 0 {
		style = style.Height(m.height)
	}
	return style.Render(content)
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
