// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps a runner event or result for the tea.Msg interface.
package tui

import (
	"time"

	"github.com/2389-research/taskrunner/runner"
)

// EngineEventMsg wraps a runner.EngineEvent for the Bubble Tea message loop.
type EngineEventMsg struct {
	Event runner.EngineEvent
}

// RunResultMsg signals that RunAll has returned.
type RunResultMsg struct {
	Summary runner.RunSummary
}

// TickMsg is sent periodically to refresh elapsed times.
type TickMsg struct {
	Time time.Time
}
