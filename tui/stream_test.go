// ABOUTME: Tests for the inline StreamModel: status lines, verbose output tail, and exit on result.
// ABOUTME: Uses the fake Batch so no worker runs.
package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/taskrunner/runner"
)

func TestStreamModelShowsProgress(t *testing.T) {
	b := threeTasks()
	var model tea.Model = NewStreamModel(context.Background(), nil, b, false)

	model, _ = model.Update(event(runner.EventTaskStarted, 1, nil))
	model, _ = model.Update(event(runner.EventTaskCompleted, 1, nil))
	model, _ = model.Update(event(runner.EventTaskStarted, 2, nil))

	view := model.View()
	for _, want := range []string{"taskrunner: run 01RUN", "[*]   1. Analyze", "[~]   2. Document", "1/3 finished"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestStreamModelVerboseOutput(t *testing.T) {
	b := threeTasks()
	var model tea.Model = NewStreamModel(context.Background(), nil, b, true)
	model, _ = model.Update(event(runner.EventTaskStarted, 2, nil))
	model, _ = model.Update(event(runner.EventTaskOutput, 2, map[string]any{"text": "writing docs\n"}))
	model, _ = model.Update(event(runner.EventTaskOutput, 1, map[string]any{"text": "stale\n"}))

	view := model.View()
	if !strings.Contains(view, "writing docs") {
		t.Errorf("verbose view should show output:\n%s", view)
	}
	if strings.Contains(view, "stale") {
		t.Errorf("output for another task should be dropped:\n%s", view)
	}

	quiet := NewStreamModel(context.Background(), nil, threeTasks(), false)
	var qm tea.Model = quiet
	qm, _ = qm.Update(event(runner.EventTaskStarted, 2, nil))
	qm, _ = qm.Update(event(runner.EventTaskOutput, 2, map[string]any{"text": "writing docs\n"}))
	if strings.Contains(qm.View(), "writing docs") {
		t.Error("non-verbose view should hide output")
	}
}

func TestStreamModelQuitsOnResult(t *testing.T) {
	b := threeTasks()
	b.summary.Result = runner.ResultFatal
	b.summary.Error = "reset failed"
	m := NewStreamModel(context.Background(), nil, b, false)

	model, cmd := m.Update(RunResultMsg{Summary: b.summary})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if !strings.Contains(model.View(), "FAILED: reset failed") {
		t.Errorf("final view: %s", model.View())
	}
	sm := model.(StreamModel)
	if got := <-sm.ResultCh(); got.Error != "reset failed" {
		t.Errorf("result channel = %+v", got)
	}
}

func TestStreamModelCtrlCCancelsRun(t *testing.T) {
	b := threeTasks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewStreamModel(ctx, cancel, b, false)

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd != nil {
		t.Error("ctrl+c should wait for the interrupted result")
	}
	if ctx.Err() == nil {
		t.Error("ctrl+c should cancel the run context")
	}
	if !strings.Contains(model.View(), "stopping") {
		t.Errorf("view should show stopping: %s", model.View())
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(1500 * 1e6); got != "1.5s" {
		t.Errorf("got %q", got)
	}
	if got := formatDuration(125 * 1e9); got != "2m05s" {
		t.Errorf("got %q", got)
	}
}
