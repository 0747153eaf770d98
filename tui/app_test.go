// ABOUTME: Tests for the AppModel dashboard: event routing, output tail, run result, and quit handling.
// ABOUTME: Drives Update directly with synthetic messages over a fake Batch.
package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/taskrunner/runner"
)

func newTestApp(t *testing.T) (AppModel, *fakeBatch, *bool) {
	t.Helper()
	b := threeTasks()
	cancelled := false
	m := NewAppModel(context.Background(), func() { cancelled = true }, b)
	return m, b, &cancelled
}

func update(t *testing.T, m tea.Model, msg tea.Msg) (tea.Model, tea.Cmd) {
	t.Helper()
	return m.Update(msg)
}

func TestAppModelInitialState(t *testing.T) {
	m, _, _ := newTestApp(t)
	if m.tasks.Len() != 3 {
		t.Fatalf("expected 3 tasks, got %d", m.tasks.Len())
	}
	if m.Init() == nil {
		t.Error("Init should return a command batch")
	}
	if m.View() != "Initializing..." {
		t.Errorf("view before size: %q", m.View())
	}
}

func TestAppModelRoutesTaskEvents(t *testing.T) {
	m, _, _ := newTestApp(t)
	var model tea.Model = m

	model, _ = update(t, model, event(runner.EventRunStarted, 0, map[string]any{"run_id": "01RUN"}))
	model, _ = update(t, model, event(runner.EventTaskStarted, 1, nil))
	model, _ = update(t, model, event(runner.EventTaskOutput, 1, map[string]any{"text": "hello\nworld\n"}))

	app := model.(AppModel)
	if app.tasks.Status(1) != TaskRunning {
		t.Fatalf("task 1 status = %v", app.tasks.Status(1))
	}
	d, ok := app.detail.Active()
	if !ok || d.ID != 1 || strings.Join(d.Output(), ",") != "hello,world" {
		t.Fatalf("detail = %+v", d)
	}
	if app.log.Len() != 2 {
		t.Errorf("output events should not enter the log, len = %d", app.log.Len())
	}

	model, _ = update(t, model, event(runner.EventTaskFailed, 1, map[string]any{"error": "boom"}))
	app = model.(AppModel)
	if app.tasks.Status(1) != TaskFailed {
		t.Errorf("task 1 status = %v", app.tasks.Status(1))
	}
	if d, _ := app.detail.Active(); d.Status != TaskFailed || d.Error != "boom" {
		t.Errorf("detail after failure = %+v", d)
	}
	if app.statusBar.finishedTasks != 1 || app.statusBar.activeTask != "" {
		t.Errorf("status bar finished=%d active=%q", app.statusBar.finishedTasks, app.statusBar.activeTask)
	}
}

func TestAppModelRunResultStaysOpen(t *testing.T) {
	m, b, _ := newTestApp(t)
	model, cmd := update(t, m, RunResultMsg{Summary: b.summary})
	if cmd != nil {
		t.Error("dashboard should stay open after the run until the user quits")
	}
	app := model.(AppModel)
	select {
	case got := <-app.ResultCh():
		if got.Result != runner.ResultSuccess {
			t.Errorf("result = %s", got.Result)
		}
	default:
		t.Fatal("summary not delivered on ResultCh")
	}

	_, cmd = update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q after the run should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestAppModelQuitCancelsThenWaits(t *testing.T) {
	m, b, cancelled := newTestApp(t)
	model, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if !*cancelled {
		t.Fatal("ctrl+c should cancel the run")
	}
	if cmd != nil {
		t.Error("model should wait for the run result before quitting")
	}

	b.summary.Result = runner.ResultInterrupted
	_, cmd = update(t, model, RunResultMsg{Summary: b.summary})
	if cmd == nil {
		t.Fatal("result after stop should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestAppModelViewLayout(t *testing.T) {
	m, _, _ := newTestApp(t)
	model, _ := update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	view := model.View()
	for _, want := range []string{"RUN: 01RUN", "Analyze", "TASK DETAIL", "EVENT LOG", "0/3 tasks"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	small, _ := update(t, m, tea.WindowSizeMsg{Width: 20, Height: 5})
	if !strings.Contains(small.View(), "Terminal too small") {
		t.Errorf("small view: %s", small.View())
	}
}

func TestAppModelTabTogglesFocus(t *testing.T) {
	m, _, _ := newTestApp(t)
	model, _ := update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if app := model.(AppModel); app.focus != FocusLog || !app.log.IsFocused() {
		t.Error("tab should focus the log")
	}
	model, _ = update(t, model, tea.KeyMsg{Type: tea.KeyTab})
	if app := model.(AppModel); app.focus != FocusTasks || app.log.IsFocused() {
		t.Error("second tab should return focus to tasks")
	}
}
