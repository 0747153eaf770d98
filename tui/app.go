// ABOUTME: Top-level Bubble Tea AppModel composing the task list, detail, log, and status bar panels.
// ABOUTME: Drives one RunAll, routes runner events to the panels, and cancels the run on quit.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/taskrunner/runner"
)

// FocusTarget indicates which panel currently has keyboard focus.
type FocusTarget int

const (
	FocusTasks FocusTarget = iota
	FocusLog
)

// AppModel is the full-screen dashboard for one run.
type AppModel struct {
	tasks     TaskPanelModel
	detail    DetailPanelModel
	log       LogPanelModel
	statusBar StatusBarModel

	batch  Batch
	ctx    context.Context
	cancel context.CancelFunc

	focus    FocusTarget
	done     bool
	stopping bool
	summary  runner.RunSummary
	resultCh chan runner.RunSummary
	width    int
	height   int
}

// NewAppModel builds the dashboard over b. Quitting cancels ctx through
// cancel, and the model waits for RunAll to return before exiting.
func NewAppModel(ctx context.Context, cancel context.CancelFunc, b Batch) AppModel {
	if cancel == nil {
		ctx, cancel = context.WithCancel(ctx)
	}
	report := b.Status()
	return AppModel{
		tasks:     NewTaskPanelModel(report),
		detail:    NewDetailPanelModel(),
		log:       NewLogPanelModel(200),
		statusBar: NewStatusBarModel(report.RunID, len(report.Tasks)),
		batch:     b,
		ctx:       ctx,
		cancel:    cancel,
		focus:     FocusTasks,
		resultCh:  make(chan runner.RunSummary, 1),
	}
}

// ResultCh receives the run summary once RunAll returns.
func (m *AppModel) ResultCh() <-chan runner.RunSummary {
	return m.resultCh
}

// Init starts the run, the spinner, and the refresh tick.
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(
		RunAllCmd(m.ctx, m.batch),
		m.tasks.Tick,
		TickCmd(time.Second),
	)
}

// Update routes messages to the panels.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case EngineEventMsg:
		return m.handleEngineEvent(msg)

	case RunResultMsg:
		return m.handleRunResult(msg)

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
		return m.handleKeyMsg(msg)
	}
	return m, nil
}

// View renders the full layout.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 40 || m.height < 10 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x10.", m.width, m.height)
	}

	statusBarHeight := 1
	tasksHeight := (m.height - statusBarHeight) * 40 / 100
	bottomHeight := max(m.height-statusBarHeight-tasksHeight, 3)
	detailWidth := max(m.width*45/100, 10)
	logWidth := max(m.width-detailWidth, 10)

	m.tasks.SetWidth(m.width)
	m.detail.SetSize(detailWidth, bottomHeight)
	m.log.SetSize(logWidth, bottomHeight)
	m.statusBar.SetWidth(m.width)

	bottom := lipgloss.JoinHorizontal(lipgloss.Top, m.detail.View(), m.log.View())

	status := m.statusBar.View()
	switch {
	case m.done && m.summary.Result == runner.ResultSuccess:
		status += " " + CompletedStyle.Render("DONE")
	case m.done:
		status += " " + FailedStyle.Render(strings.ToUpper(string(m.summary.Result)))
	case m.stopping:
		status += " " + RunningStyle.Render("STOPPING")
	}

	var b strings.Builder
	b.WriteString(m.tasks.View())
	b.WriteString("\n")
	b.WriteString(bottom)
	b.WriteString("\n")
	b.WriteString(status)
	return b.String()
}

func (m AppModel) handleEngineEvent(msg EngineEventMsg) (tea.Model, tea.Cmd) {
	evt := msg.Event
	at := evt.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if evt.Type == runner.EventTaskOutput {
		if d, ok := m.detail.Active(); ok && d.ID == evt.TaskID {
			text, _ := evt.Data["text"].(string)
			d.AppendOutput(text)
		}
		return m, nil
	}
	m.log.Append(evt)

	switch evt.Type {
	case runner.EventRunStarted:
		m.statusBar.Start()
		if id, ok := evt.Data["run_id"].(string); ok && id != "" {
			m.statusBar.runID = id
			m.tasks.runID = id
		}
	case runner.EventRunCompleted, runner.EventRunAborted:
		m.statusBar.SetActiveTask("")
	}

	status, ok := statusForEvent(evt.Type)
	if !ok {
		return m, nil
	}
	m.tasks.SetStatus(evt.TaskID, status, at)
	m.statusBar.SetFinished(m.tasks.Finished())

	if status == TaskRunning {
		title := m.tasks.Title(evt.TaskID)
		m.statusBar.SetActiveTask(title)
		m.detail.SetActive(TaskDetail{ID: evt.TaskID, Title: title, Status: TaskRunning, StartedAt: at})
		return m, nil
	}
	m.statusBar.SetActiveTask("")
	if d, ok := m.detail.Active(); ok && d.ID == evt.TaskID {
		d.Status = status
		if !d.StartedAt.IsZero() {
			d.Duration = at.Sub(d.StartedAt)
		}
		if e, ok := evt.Data["error"].(string); ok {
			d.Error = e
		}
	}
	return m, nil
}

func (m AppModel) handleRunResult(msg RunResultMsg) (tea.Model, tea.Cmd) {
	m.done = true
	m.summary = msg.Summary
	m.statusBar.SetActiveTask("")
	select {
	case m.resultCh <- msg.Summary:
	default:
	}
	if m.stopping {
		return m, tea.Quit
	}
	return m, nil
}

func (m AppModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.done {
			return m, tea.Quit
		}
		// the run records the interruption before RunResultMsg arrives
		m.stopping = true
		m.cancel()
		return m, nil
	case "tab":
		if m.focus == FocusTasks {
			m.focus = FocusLog
		} else {
			m.focus = FocusTasks
		}
		m.log.SetFocused(m.focus == FocusLog)
		return m, nil
	}
	if m.focus == FocusLog {
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}
	return m, nil
}
