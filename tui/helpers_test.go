// ABOUTME: Shared fixtures for TUI tests: a fake Batch with a fixed report and scripted summary.
// ABOUTME: Keeps model tests independent of worker processes and the filesystem.
package tui

import (
	"context"
	"time"

	"github.com/2389-research/taskrunner/runner"
)

type fakeBatch struct {
	report  runner.StatusReport
	summary runner.RunSummary
	sawCtx  context.Context
}

func (f *fakeBatch) RunAll(ctx context.Context) runner.RunSummary {
	f.sawCtx = ctx
	return f.summary
}

func (f *fakeBatch) Status() runner.StatusReport { return f.report }

func threeTasks() *fakeBatch {
	return &fakeBatch{
		report: runner.StatusReport{
			RunID: "01RUN",
			Phase: runner.PhaseNotStarted,
			Tasks: []runner.Task{
				{ID: 1, Title: "Analyze", State: runner.StatePending},
				{ID: 2, Title: "Document", State: runner.StatePending},
				{ID: 3, Title: "Test", State: runner.StatePending},
			},
		},
		summary: runner.RunSummary{RunID: "01RUN", Phase: runner.PhaseAllCompleted, Result: runner.ResultSuccess},
	}
}

func event(typ runner.EngineEventType, id int, data map[string]any) EngineEventMsg {
	return EngineEventMsg{Event: runner.EngineEvent{Type: typ, TaskID: id, Timestamp: time.Now(), Data: data}}
}
