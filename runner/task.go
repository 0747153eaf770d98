// ABOUTME: Defines the Task, RunRecord, and TaskOutcome types that make up the engine's data model.
// ABOUTME: Encodes the legal state transitions (pending -> running -> terminal) and summary counting.
package runner

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// TaskState is the lifecycle state of a single task.
type TaskState string

const (
	StatePending     TaskState = "pending"
	StateRunning     TaskState = "running"
	StateCompleted   TaskState = "completed"
	StateFailed      TaskState = "failed"
	StateInterrupted TaskState = "interrupted"
)

// Terminal reports whether the state ends a task's run.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateInterrupted:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s TaskState) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed, StateInterrupted:
		return true
	}
	return false
}

// canTransition encodes pending -> running -> {completed|failed|interrupted}.
// Going back to pending is only possible through Store.Requeue.
func canTransition(from, to TaskState) bool {
	switch from {
	case StatePending:
		return to == StateRunning
	case StateRunning:
		return to.Terminal()
	}
	return false
}

// Task is one atomic unit of work.
type Task struct {
	ID              int        `json:"id"`
	Title           string     `json:"title"`
	InstructionPath string     `json:"instruction_path"`
	State           TaskState  `json:"state"`
	ResultPath      string     `json:"result_path,omitempty"`
	ErrorPath       string     `json:"error_path,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	Error           string     `json:"error,omitempty"`
	TimedOut        bool       `json:"timed_out,omitempty"`
	ResultSize      int64      `json:"result_size,omitempty"`
	Attempts        int        `json:"attempts"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Duration returns how long the task ran, or zero if it has not finished.
func (t Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// RunRecord is the persisted aggregate: the ordered task list plus
// process-level bookkeeping for the currently active worker.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Tasks      []Task    `json:"tasks"`
	ActivePID  int       `json:"active_pid,omitempty"`
	ActiveTask int       `json:"active_task,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// clone returns a deep copy so readers never share slices with the store.
func (r *RunRecord) clone() RunRecord {
	out := *r
	out.Tasks = make([]Task, len(r.Tasks))
	copy(out.Tasks, r.Tasks)
	return out
}

// Summary counts tasks by state.
type Summary struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Running       int `json:"running"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Interrupted   int `json:"interrupted"`
	TimedOut      int `json:"timed_out"`
	CompletionPct int `json:"completion_pct"`
}

func summarize(tasks []Task) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.State {
		case StatePending:
			s.Pending++
		case StateRunning:
			s.Running++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
			if t.TimedOut {
				s.TimedOut++
			}
		case StateInterrupted:
			s.Interrupted++
		}
	}
	if s.Total > 0 {
		s.CompletionPct = (s.Completed + s.Failed) * 100 / s.Total
	}
	return s
}

// OutcomeKind is the verdict the controller reached for one execution.
type OutcomeKind string

const (
	OutcomeCompleted   OutcomeKind = "completed"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeTimedOut    OutcomeKind = "timed_out"
	OutcomeInterrupted OutcomeKind = "interrupted"
)

// State maps an outcome onto the persisted task state. Timeouts are stored
// as failed with TimedOut set.
func (k OutcomeKind) State() TaskState {
	switch k {
	case OutcomeCompleted:
		return StateCompleted
	case OutcomeInterrupted:
		return StateInterrupted
	default:
		return StateFailed
	}
}

// TaskOutcome is the result of one Execute call.
type TaskOutcome struct {
	TaskID     int           `json:"task_id"`
	Kind       OutcomeKind   `json:"kind"`
	ExitCode   int           `json:"exit_code"`
	Error      string        `json:"error,omitempty"`
	ResultPath string        `json:"result_path"`
	ErrorPath  string        `json:"error_path"`
	ResultSize int64         `json:"result_size"`
	Duration   time.Duration `json:"duration"`
}

// Success reports whether the task completed.
func (o TaskOutcome) Success() bool {
	return o.Kind == OutcomeCompleted
}

func (o TaskOutcome) String() string {
	switch o.Kind {
	case OutcomeFailed:
		return fmt.Sprintf("task %d failed (exit %d): %s", o.TaskID, o.ExitCode, o.Error)
	default:
		return fmt.Sprintf("task %d %s", o.TaskID, o.Kind)
	}
}

// transitionInfo converts an outcome into the fields persisted with the
// terminal transition.
func (o TaskOutcome) transitionInfo() TransitionInfo {
	code := o.ExitCode
	return TransitionInfo{
		ResultPath: o.ResultPath,
		ErrorPath:  o.ErrorPath,
		ExitCode:   &code,
		Error:      truncate(o.Error, maxStoredError),
		TimedOut:   o.Kind == OutcomeTimedOut,
		ResultSize: o.ResultSize,
	}
}

// TaskDescriptor is what the task-list parsing step hands the engine.
type TaskDescriptor struct {
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
}

// maxStoredError caps the captured error persisted in the Run Record.
const maxStoredError = 500

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
