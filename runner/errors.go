// ABOUTME: Error taxonomy for the task execution engine: reset, spawn, timeout, stream parse, and corrupt state.
// ABOUTME: Per-task failures are recorded and the run continues; infrastructure failures abort the run.
package runner

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTaskNotFound is returned when a task id is not in the Run Record.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned for any state change outside
	// pending -> running -> terminal.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTaskRunning is returned when a second task would become running.
	ErrTaskRunning = errors.New("another task is already running")

	// ErrRunInProgress is returned when another engine instance holds the
	// base directory lock or the Run Record names a live worker.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrNoTasks is returned when the base directory has no tasks.
	ErrNoTasks = errors.New("no tasks found")

	// ErrInterrupted marks a run stopped by cancellation before every task
	// reached a terminal state.
	ErrInterrupted = errors.New("run interrupted")

	// ErrLineTooLong marks a structured output line longer than the
	// parser's line limit. The line is dropped and the stream continues.
	ErrLineTooLong = errors.New("output line too long")
)

// ResetError means the worker did not acknowledge a context clear. It is
// fatal to the session, not to the run, until the respawn budget is spent.
type ResetError struct {
	Attempt int
	Reason  string
	Output  string
	Err     error
}

func (e *ResetError) Error() string {
	msg := fmt.Sprintf("context reset failed (attempt %d): %s", e.Attempt, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResetError) Unwrap() error { return e.Err }

// WorkerSpawnError means the worker executable could not be started.
// It is never retried.
type WorkerSpawnError struct {
	Path string
	Err  error
}

func (e *WorkerSpawnError) Error() string {
	return fmt.Sprintf("spawn worker %q: %v", e.Path, e.Err)
}

func (e *WorkerSpawnError) Unwrap() error { return e.Err }

// TimeoutError describes a task that exceeded its deadline.
type TimeoutError struct {
	TaskID  int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %d timed out after %s", e.TaskID, e.Timeout)
}

// StreamParseError describes a structured output line that could not be
// parsed. It is logged and skipped.
type StreamParseError struct {
	Line    int
	Snippet string
	Err     error
}

func (e *StreamParseError) Error() string {
	return fmt.Sprintf("malformed stream line %d (%q): %v", e.Line, e.Snippet, e.Err)
}

func (e *StreamParseError) Unwrap() error { return e.Err }

// CorruptStateError means the persisted Run Record could not be read.
// The engine refuses to run rather than guess.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt run state %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	var spawnErr *WorkerSpawnError
	var corruptErr *CorruptStateError
	var resetErr *ResetError
	return errors.As(err, &spawnErr) || errors.As(err, &corruptErr) || errors.As(err, &resetErr)
}
