// ABOUTME: Defines the TaskStatus enum the TUI uses to draw task rows, derived from persisted task state.
// ABOUTME: Provides String/Icon methods and the mapping from runner states and outcome events.
package tui

import "github.com/2389-research/taskrunner/runner"

// TaskStatus is the display state of one task row.
type TaskStatus int

const (
	TaskPending     TaskStatus = iota // Task has not started
	TaskRunning                       // Worker is executing the task
	TaskCompleted                     // Worker exited cleanly
	TaskFailed                        // Worker failed or reported an error
	TaskTimedOut                      // Worker was killed at the deadline
	TaskInterrupted                   // Run was stopped while the task ran
)

// String returns the lowercase name of the status.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskTimedOut:
		return "timed out"
	case TaskInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Icon returns a bracket-style status marker.
func (s TaskStatus) Icon() string {
	switch s {
	case TaskPending:
		return "[ ]"
	case TaskRunning:
		return "[~]"
	case TaskCompleted:
		return "[*]"
	case TaskFailed:
		return "[!]"
	case TaskTimedOut:
		return "[t]"
	case TaskInterrupted:
		return "[-]"
	default:
		return "[?]"
	}
}

// Finished reports whether the status is terminal.
func (s TaskStatus) Finished() bool {
	return s >= TaskCompleted
}

// StatusForTask maps a persisted task onto its display status.
func StatusForTask(t runner.Task) TaskStatus {
	switch t.State {
	case runner.StateRunning:
		return TaskRunning
	case runner.StateCompleted:
		return TaskCompleted
	case runner.StateFailed:
		if t.TimedOut {
			return TaskTimedOut
		}
		return TaskFailed
	case runner.StateInterrupted:
		return TaskInterrupted
	default:
		return TaskPending
	}
}

// statusForEvent maps a lifecycle event onto the status it announces.
func statusForEvent(t runner.EngineEventType) (TaskStatus, bool) {
	switch t {
	case runner.EventTaskStarted:
		return TaskRunning, true
	case runner.EventTaskCompleted:
		return TaskCompleted, true
	case runner.EventTaskFailed:
		return TaskFailed, true
	case runner.EventTaskTimedOut:
		return TaskTimedOut, true
	case runner.EventTaskInterrupt:
		return TaskInterrupted, true
	}
	return TaskPending, false
}
