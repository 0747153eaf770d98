// ABOUTME: StreamModel is an inline Bubble Tea model streaming run progress to the terminal without alt-screen.
// ABOUTME: Shows one line per task with spinner and durations, plus the live output tail in verbose mode.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/taskrunner/runner"
)

// StreamModel prints progress inline and exits when the run returns.
type StreamModel struct {
	tasks   TaskPanelModel
	batch   Batch
	ctx     context.Context
	cancel  context.CancelFunc
	verbose bool

	output   TaskDetail
	runStart time.Time
	done     bool
	stopping bool
	summary  runner.RunSummary
	resultCh chan runner.RunSummary
	width    int
}

// NewStreamModel creates an inline progress view over b. In verbose mode
// the running task's output tail is shown under its line.
func NewStreamModel(ctx context.Context, cancel context.CancelFunc, b Batch, verbose bool) StreamModel {
	if cancel == nil {
		ctx, cancel = context.WithCancel(ctx)
	}
	return StreamModel{
		tasks:    NewTaskPanelModel(b.Status()),
		batch:    b,
		ctx:      ctx,
		cancel:   cancel,
		verbose:  verbose,
		runStart: time.Now(),
		resultCh: make(chan runner.RunSummary, 1),
	}
}

// ResultCh receives the run summary after the program exits.
func (m *StreamModel) ResultCh() <-chan runner.RunSummary {
	return m.resultCh
}

// Init starts the run, the spinner, and the refresh tick.
func (m StreamModel) Init() tea.Cmd {
	return tea.Batch(
		RunAllCmd(m.ctx, m.batch),
		m.tasks.Tick,
		TickCmd(time.Second),
	)
}

// Update routes messages.
func (m StreamModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case EngineEventMsg:
		return m.handleEngineEvent(msg)

	case RunResultMsg:
		m.done = true
		m.summary = msg.Summary
		select {
		case m.resultCh <- msg.Summary:
		default:
		}
		return m, tea.Quit

	case TickMsg:
		if m.done {
			return m, nil
		}
		return m, TickCmd(time.Second)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.tasks, cmd = m.tasks.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.stopping = true
			m.cancel()
		}
		return m, nil
	}
	return m, nil
}

// View renders the task lines and the progress line.
func (m StreamModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("taskrunner: run %s", m.tasks.runID)))
	b.WriteString("\n\n")

	for i, line := range m.tasks.Lines() {
		b.WriteString(line)
		b.WriteString("\n")
		if m.verbose && m.tasks.rows[i].status == TaskRunning && m.tasks.rows[i].id == m.output.ID {
			for _, l := range m.output.Output() {
				b.WriteString(PendingStyle.Render("        " + truncateLine(l)))
				b.WriteString("\n")
			}
		}
	}
	b.WriteString("\n")
	b.WriteString(m.renderProgressLine())
	b.WriteString("\n")
	return b.String()
}

func (m StreamModel) handleEngineEvent(msg EngineEventMsg) (tea.Model, tea.Cmd) {
	evt := msg.Event
	at := evt.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	switch evt.Type {
	case runner.EventRunStarted:
		m.runStart = at
		if id, ok := evt.Data["run_id"].(string); ok && id != "" {
			m.tasks.runID = id
		}
	case runner.EventTaskOutput:
		if evt.TaskID == m.output.ID {
			text, _ := evt.Data["text"].(string)
			m.output.AppendOutput(text)
		}
		return m, nil
	}

	if status, ok := statusForEvent(evt.Type); ok {
		m.tasks.SetStatus(evt.TaskID, status, at)
		if status == TaskRunning {
			m.output = TaskDetail{ID: evt.TaskID}
		}
	}
	return m, nil
}

func (m StreamModel) renderProgressLine() string {
	elapsed := formatDuration(time.Since(m.runStart))
	finished, total := m.tasks.Finished(), m.tasks.Len()

	if m.done {
		switch m.summary.Result {
		case runner.ResultSuccess:
			return CompletedStyle.Render(fmt.Sprintf("  %d/%d finished · %s", finished, total, elapsed))
		case runner.ResultFatal:
			return FailedStyle.Render(fmt.Sprintf("  %d/%d finished · %s · FAILED: %s", finished, total, elapsed, m.summary.Error))
		default:
			return RunningStyle.Render(fmt.Sprintf("  %d/%d finished · %s · %s", finished, total, elapsed, m.summary.Result))
		}
	}
	if m.stopping {
		return RunningStyle.Render(fmt.Sprintf("  %d/%d finished · stopping...", finished, total))
	}
	return PendingStyle.Render(fmt.Sprintf("  %d/%d finished · %s elapsed", finished, total, elapsed))
}

// formatDuration formats a duration as "0.1s", "12s", or "2m05s".
func formatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 10 {
		return fmt.Sprintf("%.1fs", secs)
	}
	if secs < 60 {
		return fmt.Sprintf("%.0fs", secs)
	}
	return fmt.Sprintf("%dm%02ds", int(secs)/60, int(secs)%60)
}
