// ABOUTME: Bridge connecting the task runner to the Bubble Tea message loop.
// ABOUTME: Provides EventBridge for event injection and tea.Cmd factories for the run and the refresh tick.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/taskrunner/runner"
)

// EventBridge wraps a tea.Program's Send method for injecting runner events
// into the Bubble Tea message loop.
type EventBridge struct {
	send func(msg tea.Msg)
}

// NewEventBridge creates an EventBridge that sends messages via the given function.
// Typically called with program.Send as the argument.
func NewEventBridge(send func(msg tea.Msg)) *EventBridge {
	return &EventBridge{send: send}
}

// HandleEvent matches runner.WithEventHandler. Output events are forwarded
// too; the models decide what to show.
func (b *EventBridge) HandleEvent(evt runner.EngineEvent) {
	b.send(EngineEventMsg{Event: evt})
}

// Batch is the subset of *runner.Runner the TUI drives.
type Batch interface {
	RunAll(ctx context.Context) runner.RunSummary
	Status() runner.StatusReport
}

// RunAllCmd returns a tea.Cmd that runs every pending task and reports the
// summary as a RunResultMsg. Cancelling ctx interrupts the run.
func RunAllCmd(ctx context.Context, b Batch) tea.Cmd {
	return func() tea.Msg {
		return RunResultMsg{Summary: b.RunAll(ctx)}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the given interval.
func TickCmd(interval time.Duration) tea.Cmd {
	return func() tea.Msg {
		time.Sleep(interval)
		return TickMsg{Time: time.Now()}
	}
}
