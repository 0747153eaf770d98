// ABOUTME: Tests for the filesystem Task Store: seeding, transitions, requeue, reconcile, and corrupt state.
// ABOUTME: Also checks that reloads observe the same record and that writes leave no temp files behind.
package runner

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func seededStore(t *testing.T, titles ...string) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	tasks := make([]Task, len(titles))
	for i, title := range titles {
		tasks[i] = Task{Title: title, InstructionPath: title + ".md"}
	}
	if err := s.Seed(tasks, false); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return s
}

func TestStoreEmptyBaseDir(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "new"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	rec := s.Snapshot()
	if rec.RunID == "" {
		t.Error("expected a run id")
	}
	if len(rec.Tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(rec.Tasks))
	}
	if _, ok := s.NextPending(); ok {
		t.Error("NextPending on empty store returned a task")
	}
}

func TestStoreSeedAssignsOrder(t *testing.T) {
	s := seededStore(t, "A", "B", "C")
	for i, task := range s.Snapshot().Tasks {
		if task.ID != i+1 {
			t.Errorf("task %d has id %d", i, task.ID)
		}
		if task.State != StatePending {
			t.Errorf("task %d state = %s, want pending", task.ID, task.State)
		}
	}
	if err := s.Seed([]Task{{Title: "X"}}, false); err == nil {
		t.Error("expected Seed without replace to refuse an existing task list")
	}
	if err := s.Seed([]Task{{Title: "X"}}, true); err != nil {
		t.Fatalf("Seed with replace: %v", err)
	}
	if got := len(s.Snapshot().Tasks); got != 1 {
		t.Errorf("expected 1 task after replace, got %d", got)
	}
}

func TestStoreNextPendingAscending(t *testing.T) {
	s := seededStore(t, "A", "B", "C")
	if err := s.Transition(1, StateRunning, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	next, ok := s.NextPending()
	if !ok || next.ID != 2 {
		t.Fatalf("NextPending = %d, %v; want 2", next.ID, ok)
	}
	if err := s.Transition(1, StateCompleted, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int{2, 3} {
		if err := s.Transition(id, StateRunning, TransitionInfo{}); err != nil {
			t.Fatal(err)
		}
		if err := s.Transition(id, StateFailed, TransitionInfo{Error: "boom"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := s.NextPending(); ok {
		t.Error("expected no pending tasks once all are terminal")
	}
}

func TestStoreTransitionRules(t *testing.T) {
	s := seededStore(t, "A", "B")

	if err := s.Transition(1, StateCompleted, TransitionInfo{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> completed: got %v, want ErrInvalidTransition", err)
	}
	if err := s.Transition(1, StateRunning, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(2, StateRunning, TransitionInfo{}); !errors.Is(err, ErrTaskRunning) {
		t.Errorf("second running task: got %v, want ErrTaskRunning", err)
	}
	code := 0
	if err := s.Transition(1, StateCompleted, TransitionInfo{ResultPath: "r", ExitCode: &code, ResultSize: 12}); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(1, StateRunning, TransitionInfo{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed -> running: got %v, want ErrInvalidTransition", err)
	}
	if err := s.Transition(9, StateRunning, TransitionInfo{}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown task: got %v, want ErrTaskNotFound", err)
	}

	task, _ := s.Get(1)
	if task.StartedAt == nil || task.FinishedAt == nil {
		t.Error("expected start and finish timestamps")
	}
	if task.ResultSize != 12 || task.ResultPath != "r" || task.ExitCode == nil || *task.ExitCode != 0 {
		t.Errorf("terminal fields not persisted: %+v", task)
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	s := seededStore(t, "A", "B")
	if err := s.Transition(1, StateRunning, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(1, StateFailed, TransitionInfo{Error: "exit 3", TimedOut: true}); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenStore(s.BaseDir())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	task, _ := reopened.Get(1)
	if task.State != StateFailed || !task.TimedOut || task.Error != "exit 3" {
		t.Errorf("reloaded task = %+v", task)
	}
	if reopened.Snapshot().RunID != s.Snapshot().RunID {
		t.Error("run id changed across reload")
	}
	if sum := reopened.Summary(); sum.Failed != 1 || sum.TimedOut != 1 || sum.Pending != 1 || sum.CompletionPct != 50 {
		t.Errorf("summary = %+v", sum)
	}

	entries, _ := os.ReadDir(s.BaseDir())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStoreCorruptState(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, stateFileName), []byte(`{"tasks": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenStore(dir)
	var corrupt *CorruptStateError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptStateError, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("corrupt state must be fatal")
	}
}

func TestStoreRejectsTwoRunningTasks(t *testing.T) {
	dir := t.TempDir()
	rec := `{"run_id":"x","tasks":[{"id":1,"title":"A","state":"running"},{"id":2,"title":"B","state":"running"}]}`
	if err := os.WriteFile(filepath.Join(dir, stateFileName), []byte(rec), 0o644); err != nil {
		t.Fatal(err)
	}
	var corrupt *CorruptStateError
	if _, err := OpenStore(dir); !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptStateError, got %v", err)
	}
}

func TestStoreRequeue(t *testing.T) {
	s := seededStore(t, "A")
	if err := s.Requeue(1); err != nil {
		t.Fatalf("requeue of pending task should be a no-op: %v", err)
	}
	if err := s.Transition(1, StateRunning, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Requeue(1); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("requeue of running task: got %v", err)
	}
	if err := s.Transition(1, StateFailed, TransitionInfo{Error: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Requeue(1); err != nil {
		t.Fatal(err)
	}
	task, _ := s.Get(1)
	if task.State != StatePending || task.Error != "" || task.StartedAt != nil || task.Attempts != 1 {
		t.Errorf("requeued task = %+v", task)
	}
}

func TestStoreReconcile(t *testing.T) {
	s := seededStore(t, "A", "B", "C")
	if err := s.Transition(1, StateRunning, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(1, StateCompleted, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(2, StateRunning, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActive(999999, 2); err != nil {
		t.Fatal(err)
	}

	ids, err := s.Reconcile(func(int) bool { return true })
	if err != nil || ids != nil {
		t.Fatalf("live worker must leave the record alone: %v %v", ids, err)
	}

	ids, err = s.Reconcile(func(int) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("reconciled ids = %v, want [2]", ids)
	}
	rec := s.Snapshot()
	want := []TaskState{StateCompleted, StateInterrupted, StatePending}
	for i, task := range rec.Tasks {
		if task.State != want[i] {
			t.Errorf("task %d = %s, want %s", task.ID, task.State, want[i])
		}
	}
	if rec.ActivePID != 0 || rec.ActiveTask != 0 {
		t.Error("active worker fields not cleared")
	}

	again, err := s.Reconcile(func(int) bool { return false })
	if err != nil || len(again) != 0 {
		t.Errorf("second reconcile = %v, %v; want no-op", again, err)
	}
}

type recordingObserver struct {
	transitions []Transition
}

func (o *recordingObserver) ObserveTransition(tr Transition) {
	o.transitions = append(o.transitions, tr)
}

func TestStoreNotifiesInOrder(t *testing.T) {
	s := seededStore(t, "A")
	obs := &recordingObserver{}
	s.Observe(obs)
	_ = s.Transition(1, StateRunning, TransitionInfo{})
	_ = s.Transition(1, StateCompleted, TransitionInfo{})
	_ = s.Requeue(1)

	if len(obs.transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(obs.transitions))
	}
	wantTo := []TaskState{StateRunning, StateCompleted, StatePending}
	for i, tr := range obs.transitions {
		if tr.To != wantTo[i] {
			t.Errorf("transition %d to %s, want %s", i, tr.To, wantTo[i])
		}
	}
}
