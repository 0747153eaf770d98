// ABOUTME: Lifecycle events emitted by the runner for observers such as the TUI and verbose logging.
// ABOUTME: Events are informational; the Task Store remains the source of truth for task state.
package runner

import "time"

// EngineEventType names a runner lifecycle event.
type EngineEventType string

const (
	EventRunStarted      EngineEventType = "run.started"
	EventRunCompleted    EngineEventType = "run.completed"
	EventRunAborted      EngineEventType = "run.aborted"
	EventResetStarted    EngineEventType = "reset.started"
	EventResetSucceeded  EngineEventType = "reset.succeeded"
	EventResetFailed     EngineEventType = "reset.failed"
	EventTaskStarted     EngineEventType = "task.started"
	EventTaskOutput      EngineEventType = "task.output"
	EventTaskCompleted   EngineEventType = "task.completed"
	EventTaskFailed      EngineEventType = "task.failed"
	EventTaskTimedOut    EngineEventType = "task.timed_out"
	EventTaskInterrupt   EngineEventType = "task.interrupted"
	EventTaskStalled     EngineEventType = "task.stalled"
	EventStreamMalformed EngineEventType = "stream.malformed"
)

// EngineEvent is one lifecycle event.
type EngineEvent struct {
	Type      EngineEventType `json:"type"`
	TaskID    int             `json:"task_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      map[string]any  `json:"data,omitempty"`
}

// outcomeEventType maps an outcome to the event announcing it.
func outcomeEventType(kind OutcomeKind) EngineEventType {
	switch kind {
	case OutcomeCompleted:
		return EventTaskCompleted
	case OutcomeTimedOut:
		return EventTaskTimedOut
	case OutcomeInterrupted:
		return EventTaskInterrupt
	default:
		return EventTaskFailed
	}
}
