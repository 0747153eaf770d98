// ABOUTME: Filesystem-backed Task Store holding the Run Record as run_state.json in the base directory.
// ABOUTME: Every transition validates the state machine and rewrites the record atomically via temp file + rename.
package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// stateFileName is the serialized Run Record inside the base directory.
const stateFileName = "run_state.json"

// TransitionInfo carries the fields persisted alongside a state change.
type TransitionInfo struct {
	ResultPath string
	ErrorPath  string
	ExitCode   *int
	Error      string
	TimedOut   bool
	ResultSize int64
}

// Transition describes one applied state change, as reported to observers.
type Transition struct {
	RunID  string    `json:"run_id"`
	TaskID int       `json:"task_id"`
	From   TaskState `json:"from"`
	To     TaskState `json:"to"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// TransitionObserver is notified after each durable transition, in the
// order transitions were applied.
type TransitionObserver interface {
	ObserveTransition(Transition)
}

// Store owns the Run Record. Readers always see either the record before a
// write or after it, never a mix.
type Store struct {
	baseDir   string
	path      string
	mu        sync.RWMutex
	record    RunRecord
	observers []TransitionObserver
	now       func() time.Time
}

// OpenStore loads the Run Record from baseDir, creating the directory and an
// empty record if none exists. An unreadable record yields *CorruptStateError.
func OpenStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	s := &Store{
		baseDir: baseDir,
		path:    filepath.Join(baseDir, stateFileName),
		now:     time.Now,
	}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load re-reads the Run Record from disk and replaces the in-memory copy.
func (s *Store) Load() (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := ReadRecord(s.baseDir)
	if err != nil {
		return RunRecord{}, err
	}
	s.record = rec
	return s.record.clone(), nil
}

// ReadRecord decodes the Run Record in baseDir without opening a Store.
// A missing record yields an empty one with a fresh run id.
func ReadRecord(baseDir string) (RunRecord, error) {
	path := filepath.Join(baseDir, stateFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return RunRecord{RunID: NewRunID(), Tasks: []Task{}}, nil
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run state: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RunRecord{}, &CorruptStateError{Path: path, Err: err}
	}
	if err := validateRecord(&rec); err != nil {
		return RunRecord{}, &CorruptStateError{Path: path, Err: err}
	}
	if rec.Tasks == nil {
		rec.Tasks = []Task{}
	}
	return rec, nil
}

// validateRecord rejects records that parse as JSON but break invariants.
func validateRecord(rec *RunRecord) error {
	running := 0
	for i, t := range rec.Tasks {
		if t.ID != i+1 {
			return fmt.Errorf("task at position %d has id %d", i+1, t.ID)
		}
		if !t.State.Valid() {
			return fmt.Errorf("task %d has unknown state %q", t.ID, t.State)
		}
		if t.State == StateRunning {
			running++
		}
	}
	if running > 1 {
		return fmt.Errorf("%d tasks marked running", running)
	}
	return nil
}

// Observe registers an observer for future transitions.
func (s *Store) Observe(o TransitionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// BaseDir returns the run directory.
func (s *Store) BaseDir() string { return s.baseDir }

// Path returns the location of the serialized Run Record.
func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the current Run Record.
func (s *Store) Snapshot() RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.clone()
}

// Get returns one task by id.
func (s *Store) Get(id int) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return s.record.Tasks[idx], nil
}

// NextPending returns the pending task with the lowest id.
func (s *Store) NextPending() (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.record.Tasks {
		if t.State == StatePending {
			return t, true
		}
	}
	return Task{}, false
}

// Summary counts tasks by state.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.record.Tasks)
}

// Seed installs a freshly parsed task list. An existing non-empty list is
// only replaced when replace is set (an explicit project reset).
func (s *Store) Seed(tasks []Task, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.record.Tasks) > 0 && !replace {
		return fmt.Errorf("base dir already has %d tasks; pass replace to reset the project", len(s.record.Tasks))
	}
	for _, t := range s.record.Tasks {
		if t.State == StateRunning {
			return fmt.Errorf("task %d: %w", t.ID, ErrTaskRunning)
		}
	}

	next := RunRecord{RunID: NewRunID(), Tasks: make([]Task, len(tasks))}
	now := s.now()
	for i, t := range tasks {
		t.ID = i + 1
		t.State = StatePending
		t.UpdatedAt = now
		next.Tasks[i] = t
	}
	return s.commitLocked(next)
}

// Transition applies a validated state change and persists it before
// returning.
func (s *Store) Transition(id int, to TaskState, info TransitionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	next := s.record.clone()
	task := &next.Tasks[idx]
	from := task.State

	if !canTransition(from, to) {
		return fmt.Errorf("task %d %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}
	if to == StateRunning {
		for _, t := range next.Tasks {
			if t.State == StateRunning {
				return fmt.Errorf("task %d is running: %w", t.ID, ErrTaskRunning)
			}
		}
	}

	now := s.now()
	task.State = to
	task.UpdatedAt = now
	switch {
	case to == StateRunning:
		task.StartedAt = &now
		task.FinishedAt = nil
	case to.Terminal():
		task.FinishedAt = &now
		task.ResultPath = info.ResultPath
		task.ErrorPath = info.ErrorPath
		task.ExitCode = info.ExitCode
		task.Error = info.Error
		task.TimedOut = info.TimedOut
		task.ResultSize = info.ResultSize
		if next.ActiveTask == id {
			next.ActiveTask = 0
		}
	}

	if err := s.commitLocked(next); err != nil {
		return err
	}
	s.notifyLocked(Transition{RunID: next.RunID, TaskID: id, From: from, To: to, At: now, Detail: info.Error})
	return nil
}

// Requeue returns a terminal task to pending. It is the only way back to
// pending and must only be called for an explicit re-run request.
func (s *Store) Requeue(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	next := s.record.clone()
	task := &next.Tasks[idx]
	from := task.State
	if from == StatePending {
		return nil
	}
	if !from.Terminal() {
		return fmt.Errorf("task %d %s -> pending: %w", id, from, ErrInvalidTransition)
	}

	now := s.now()
	task.State = StatePending
	task.StartedAt = nil
	task.FinishedAt = nil
	task.ExitCode = nil
	task.Error = ""
	task.TimedOut = false
	task.ResultSize = 0
	task.Attempts++
	task.UpdatedAt = now

	if err := s.commitLocked(next); err != nil {
		return err
	}
	s.notifyLocked(Transition{RunID: next.RunID, TaskID: id, From: from, To: StatePending, At: now, Detail: "requeued"})
	return nil
}

// SetActive records the live worker process for the running task.
func (s *Store) SetActive(pid, taskID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.record.clone()
	next.ActivePID = pid
	next.ActiveTask = taskID
	return s.commitLocked(next)
}

// ClearActive forgets the worker process. It does not write when nothing
// is recorded.
func (s *Store) ClearActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.ActivePID == 0 && s.record.ActiveTask == 0 {
		return nil
	}
	next := s.record.clone()
	next.ActivePID = 0
	next.ActiveTask = 0
	return s.commitLocked(next)
}

// Reconcile marks running tasks interrupted when no live worker backs them.
// alive is asked about the recorded pid; a live pid leaves the record as is.
// Returns the ids that were reconciled.
func (s *Store) Reconcile(alive func(pid int) bool) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record.ActivePID != 0 && alive != nil && alive(s.record.ActivePID) {
		return nil, nil
	}

	next := s.record.clone()
	now := s.now()
	var ids []int
	for i := range next.Tasks {
		t := &next.Tasks[i]
		if t.State != StateRunning {
			continue
		}
		t.State = StateInterrupted
		t.FinishedAt = &now
		t.UpdatedAt = now
		t.Error = "worker lost before the task finished"
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 && next.ActivePID == 0 && next.ActiveTask == 0 {
		return nil, nil
	}
	next.ActivePID = 0
	next.ActiveTask = 0

	if err := s.commitLocked(next); err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.notifyLocked(Transition{RunID: next.RunID, TaskID: id, From: StateRunning, To: StateInterrupted, At: now, Detail: "reconciled"})
	}
	return ids, nil
}

// indexOf returns the slice index of a task id. Callers hold the lock.
func (s *Store) indexOf(id int) int {
	if id < 1 || id > len(s.record.Tasks) {
		return -1
	}
	if s.record.Tasks[id-1].ID != id {
		return -1
	}
	return id - 1
}

// commitLocked persists next and then swaps it in, so a failed write never
// leaves memory ahead of disk.
func (s *Store) commitLocked(next RunRecord) error {
	next.UpdatedAt = s.now()
	if err := writeJSONAtomic(s.path, next); err != nil {
		return fmt.Errorf("persist run state: %w", err)
	}
	s.record = next
	return nil
}

func (s *Store) notifyLocked(tr Transition) {
	for _, o := range s.observers {
		o.ObserveTransition(tr)
	}
}

// writeJSONAtomic writes a JSON-encoded value to a file using a temp file +
// fsync + rename, so a reload never observes a partial write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
