// ABOUTME: Scenario tests for the Task Runner: ordered demo runs, failures, interruption, timeouts, and recovery.
// ABOUTME: Uses demo mode and mock worker scripts; checks the store invariants after every scenario.
package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// slowWorker sleeps on instructions mentioning SLOW and otherwise answers
// with one content event.
const slowWorker = clearPreamble + `case "$input" in
  *SLOW*) sleep 10 ;;
esac
echo '{"type":"content-delta","text":"ok"}'
`

// runningTracker asserts that at most one task is ever running.
type runningTracker struct {
	mu      sync.Mutex
	running int
	max     int
}

func (r *runningTracker) ObserveTransition(tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr.From == StateRunning {
		r.running--
	}
	if tr.To == StateRunning {
		r.running++
	}
	if r.running > r.max {
		r.max = r.running
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []EngineEvent
}

func (l *eventLog) handle(evt EngineEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) taskIDs(typ EngineEventType) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []int
	for _, e := range l.events {
		if e.Type == typ {
			ids = append(ids, e.TaskID)
		}
	}
	return ids
}

func (l *eventLog) count(typ EngineEventType) int {
	return len(l.taskIDs(typ))
}

func newRunner(t *testing.T, dir string, cfg Config, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	r, err := New(dir, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func assertStates(t *testing.T, r *Runner, want ...TaskState) {
	t.Helper()
	tasks := r.Store().Snapshot().Tasks
	if len(tasks) != len(want) {
		t.Fatalf("have %d tasks, want %d", len(tasks), len(want))
	}
	for i, task := range tasks {
		if task.State != want[i] {
			t.Errorf("task %d (%s) = %s, want %s", task.ID, task.Title, task.State, want[i])
		}
	}
}

func TestRunAllDemoCompletesInOrder(t *testing.T) {
	dir := newProject(t, "A", "B", "C")
	events := &eventLog{}
	resetter := &DemoResetter{}
	r := newRunner(t, dir, demoConfig(), WithEventHandler(events.handle), WithResetter(resetter))
	tracker := &runningTracker{}
	r.Store().Observe(tracker)

	sum := r.RunAll(context.Background())
	if sum.Err != nil {
		t.Fatalf("RunAll: %v", sum.Err)
	}
	if sum.Phase != PhaseAllCompleted || sum.Result != ResultSuccess || sum.Result.ExitCode() != 0 {
		t.Errorf("summary = %+v", sum)
	}
	assertStates(t, r, StateCompleted, StateCompleted, StateCompleted)

	started := events.taskIDs(EventTaskStarted)
	if len(started) != 3 || started[0] != 1 || started[1] != 2 || started[2] != 3 {
		t.Errorf("start order = %v, want [1 2 3]", started)
	}
	for _, task := range r.Store().Snapshot().Tasks {
		info, err := os.Stat(task.ResultPath)
		if err != nil || info.Size() == 0 {
			t.Errorf("task %d result artifact missing or empty", task.ID)
		}
		if task.ResultSize != info.Size() {
			t.Errorf("task %d result size %d, file has %d", task.ID, task.ResultSize, info.Size())
		}
	}
	if resetter.Resets() != 3 {
		t.Errorf("resets = %d, want one per task", resetter.Resets())
	}
	if tracker.max != 1 {
		t.Errorf("max concurrently running = %d", tracker.max)
	}
	if r.Phase() != PhaseAllCompleted {
		t.Errorf("phase = %s", r.Phase())
	}
}

func TestRunAllContinuesPastFailure(t *testing.T) {
	dir := newProject(t, "A", "B", "C")
	source := func(task Task) string {
		if task.Title == "B" {
			return DemoErrorStream("canned failure", "partial\n")
		}
		return DefaultDemoSource(task)
	}
	r := newRunner(t, dir, demoConfig(), WithDemoSource(source))

	sum := r.RunAll(context.Background())
	assertStates(t, r, StateCompleted, StateFailed, StateCompleted)
	if sum.Result != ResultPartial || sum.Result.ExitCode() != 1 {
		t.Errorf("result = %s, want partial", sum.Result)
	}
	if len(sum.Outcomes) != 3 || sum.Outcomes[1].Error != "canned failure" {
		t.Errorf("outcomes = %+v", sum.Outcomes)
	}
	b, _ := r.Store().Get(2)
	if b.Error != "canned failure" {
		t.Errorf("stored error = %q", b.Error)
	}
}

func TestRunAllInterruptDuringTask(t *testing.T) {
	dir := newProject(t, "A", "B SLOW", "C")
	r := newRunner(t, dir, workerConfig(writeWorker(t, slowWorker)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan RunSummary, 1)
	go func() { done <- r.RunAll(ctx) }()

	var pid int
	running := waitFor(t, 5*time.Second, func() bool {
		rec := r.Store().Snapshot()
		pid = rec.ActivePID
		return rec.ActiveTask == 2 && pid != 0
	})
	if !running {
		t.Fatal("task B never started")
	}
	cancel()

	var sum RunSummary
	select {
	case sum = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunAll did not return promptly after interrupt")
	}

	assertStates(t, r, StateCompleted, StateInterrupted, StatePending)
	if sum.Result != ResultInterrupted || sum.Result.ExitCode() != 130 {
		t.Errorf("result = %s, want interrupted", sum.Result)
	}
	if !errors.Is(sum.Err, ErrInterrupted) {
		t.Errorf("err = %v", sum.Err)
	}
	if processAlive(pid) {
		t.Errorf("worker %d still alive after interrupt", pid)
	}
	if rec := r.Store().Snapshot(); rec.ActivePID != 0 {
		t.Errorf("active pid %d left in the record", rec.ActivePID)
	}

	reloaded, err := ReadRecord(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Tasks[1].State != StateInterrupted {
		t.Error("interrupted state was not persisted")
	}
}

func TestRunAllTimeoutContinues(t *testing.T) {
	dir := newProject(t, "A", "B SLOW", "C")
	cfg := workerConfig(writeWorker(t, slowWorker))
	cfg.TimeoutSeconds = 1
	r := newRunner(t, dir, cfg)

	sum := r.RunAll(context.Background())
	assertStates(t, r, StateCompleted, StateFailed, StateCompleted)
	b, _ := r.Store().Get(2)
	if !b.TimedOut {
		t.Error("task B should be marked timed out")
	}
	if sum.Summary.TimedOut != 1 || sum.Result != ResultPartial {
		t.Errorf("summary = %+v result = %s", sum.Summary, sum.Result)
	}
}

func TestRunAllAbortsAfterResetBudget(t *testing.T) {
	dir := newProject(t, "A", "B")
	cfg := workerConfig(writeWorker(t, "cat > /dev/null\nexit 1\n"))
	cfg.Reset.MaxAttempts = 2
	events := &eventLog{}
	r := newRunner(t, dir, cfg, WithEventHandler(events.handle))

	sum := r.RunAll(context.Background())
	if sum.Phase != PhaseAborted || sum.Result != ResultFatal {
		t.Errorf("summary = %+v", sum)
	}
	var resetErr *ResetError
	if !errors.As(sum.Err, &resetErr) || resetErr.Attempt != 2 {
		t.Errorf("err = %v, want ResetError on attempt 2", sum.Err)
	}
	if n := events.count(EventResetFailed); n != 2 {
		t.Errorf("reset failures = %d, want 2", n)
	}
	assertStates(t, r, StatePending, StatePending)
}

func TestRunAllSpawnErrorIsFatal(t *testing.T) {
	dir := newProject(t, "A", "B")
	r := newRunner(t, dir, workerConfig("/nonexistent/worker"), WithResetter(&DemoResetter{}))

	sum := r.RunAll(context.Background())
	var spawnErr *WorkerSpawnError
	if !errors.As(sum.Err, &spawnErr) || sum.Result != ResultFatal {
		t.Fatalf("err = %v result = %s", sum.Err, sum.Result)
	}
	assertStates(t, r, StateFailed, StatePending)
}

func TestRunAllNoTasks(t *testing.T) {
	r := newRunner(t, t.TempDir(), demoConfig())
	sum := r.RunAll(context.Background())
	if !errors.Is(sum.Err, ErrNoTasks) || sum.Result != ResultFatal {
		t.Errorf("err = %v result = %s", sum.Err, sum.Result)
	}
}

func TestRunAllRejectsConcurrentRun(t *testing.T) {
	dir := newProject(t, "SLOW")
	r := newRunner(t, dir, workerConfig(writeWorker(t, slowWorker)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan RunSummary, 1)
	go func() { done <- r.RunAll(ctx) }()
	if !waitFor(t, 5*time.Second, r.Busy) {
		t.Fatal("run never started")
	}

	second := r.RunAll(context.Background())
	if !errors.Is(second.Err, ErrRunInProgress) {
		t.Errorf("second run err = %v, want ErrRunInProgress", second.Err)
	}
	if _, err := r.RunOne(context.Background(), 1); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("RunOne during run err = %v", err)
	}
	cancel()
	<-done
}

func TestRestartReconcilesRunningTask(t *testing.T) {
	dir := newProject(t, "A", "B", "C")
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []struct {
		id int
		to TaskState
	}{{1, StateRunning}, {1, StateCompleted}, {2, StateRunning}} {
		if err := store.Transition(step.id, step.to, TransitionInfo{}); err != nil {
			t.Fatal(err)
		}
	}

	r := newRunner(t, dir, demoConfig())
	assertStates(t, r, StateCompleted, StateInterrupted, StatePending)
	b, _ := r.Store().Get(2)
	if b.Error == "" {
		t.Error("reconciled task should say why it was interrupted")
	}

	// Without --resume the interrupted task is left alone.
	sum := r.RunAll(context.Background())
	assertStates(t, r, StateCompleted, StateInterrupted, StateCompleted)
	if sum.Result != ResultPartial {
		t.Errorf("result = %s", sum.Result)
	}
}

func TestResumeRequeuesInterrupted(t *testing.T) {
	dir := newProject(t, "A", "B")
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Transition(1, StateRunning, TransitionInfo{})
	_ = store.Transition(1, StateInterrupted, TransitionInfo{})

	cfg := demoConfig()
	cfg.Resume = true
	r := newRunner(t, dir, cfg)
	sum := r.RunAll(context.Background())
	assertStates(t, r, StateCompleted, StateCompleted)
	if sum.Result != ResultSuccess {
		t.Errorf("result = %s", sum.Result)
	}
	a, _ := r.Store().Get(1)
	if a.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", a.Attempts)
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	dir := newProject(t, "A", "B")
	r := newRunner(t, dir, demoConfig())

	if err := r.Clean(); err != nil {
		t.Fatalf("first clean: %v", err)
	}
	first := r.Store().Snapshot()
	if err := r.Clean(); err != nil {
		t.Fatalf("second clean: %v", err)
	}
	second := r.Store().Snapshot()
	if !first.UpdatedAt.Equal(second.UpdatedAt) {
		t.Error("second clean rewrote the record")
	}
	for i := range first.Tasks {
		if first.Tasks[i].State != second.Tasks[i].State {
			t.Errorf("task %d changed state across cleans", first.Tasks[i].ID)
		}
	}
}

func TestCleanStopsActiveRun(t *testing.T) {
	dir := newProject(t, "A SLOW", "B")
	r := newRunner(t, dir, workerConfig(writeWorker(t, slowWorker)))

	done := make(chan RunSummary, 1)
	go func() { done <- r.RunAll(context.Background()) }()
	var pid int
	if !waitFor(t, 5*time.Second, func() bool {
		pid = r.Store().Snapshot().ActivePID
		return pid != 0
	}) {
		t.Fatal("worker never started")
	}

	if err := r.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	sum := <-done
	if sum.Result != ResultInterrupted {
		t.Errorf("result = %s", sum.Result)
	}
	assertStates(t, r, StateInterrupted, StatePending)
	if processAlive(pid) {
		t.Errorf("worker %d survived clean", pid)
	}
	if r.Busy() {
		t.Error("runner still busy after clean")
	}
}

func TestRunOneRerunsFailedTask(t *testing.T) {
	dir := newProject(t, "A", "B")
	fail := true
	source := func(task Task) string {
		if task.Title == "B" && fail {
			return DemoErrorStream("first attempt fails")
		}
		return DefaultDemoSource(task)
	}
	r := newRunner(t, dir, demoConfig(), WithDemoSource(source))
	r.RunAll(context.Background())
	assertStates(t, r, StateCompleted, StateFailed)

	fail = false
	o, err := r.RunOne(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunOne: %v", err)
	}
	if o.Kind != OutcomeCompleted {
		t.Errorf("outcome = %+v", o)
	}
	assertStates(t, r, StateCompleted, StateCompleted)
	b, _ := r.Store().Get(2)
	if b.Attempts != 1 || b.Error != "" {
		t.Errorf("rerun task = %+v", b)
	}

	if _, err := r.RunOne(context.Background(), 42); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown task err = %v", err)
	}
}

func TestHistoryJournal(t *testing.T) {
	dir := newProject(t, "A", "B")
	r := newRunner(t, dir, demoConfig())
	r.RunAll(context.Background())

	all, err := r.History(0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("history has %d entries, want 4", len(all))
	}
	b, err := r.History(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b[0].To != StateRunning || b[1].To != StateCompleted {
		t.Errorf("task 2 history = %+v", b)
	}

	noJournal := newRunner(t, newProject(t, "X"), demoConfig(), WithoutJournal())
	if _, err := noJournal.History(0); err == nil {
		t.Error("expected an error without a journal")
	}
}

func TestSecondEngineLeavesLiveRunAlone(t *testing.T) {
	dir := newProject(t, "A", "B", "C")
	cfg := demoConfig()
	cfg.DemoDelayMillis = 400
	events := &eventLog{}
	a := newRunner(t, dir, cfg, WithEventHandler(events.handle))
	tracker := &runningTracker{}
	a.Store().Observe(tracker)

	done := make(chan RunSummary, 1)
	go func() { done <- a.RunAll(context.Background()) }()
	if !waitFor(t, 5*time.Second, func() bool { return a.Store().Summary().Running == 1 }) {
		t.Fatal("run never started")
	}

	b := newRunner(t, dir, cfg)
	rec, err := ReadRecord(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range rec.Tasks {
		if task.State == StateInterrupted {
			t.Errorf("opening a second engine interrupted live task %d", task.ID)
		}
	}
	if sum := b.RunAll(context.Background()); !errors.Is(sum.Err, ErrRunInProgress) {
		t.Errorf("second engine RunAll err = %v, want ErrRunInProgress", sum.Err)
	}
	if _, err := b.RunOne(context.Background(), 3); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second engine RunOne err = %v, want ErrRunInProgress", err)
	}
	if _, err := CreateProject(dir, []TaskDescriptor{{Title: "X", Instruction: "x"}}, true); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("CreateProject during run err = %v, want ErrRunInProgress", err)
	}

	sum := <-done
	if sum.Result != ResultSuccess {
		t.Fatalf("first engine result = %s (%v)", sum.Result, sum.Err)
	}
	assertStates(t, a, StateCompleted, StateCompleted, StateCompleted)
	if n := events.count(EventTaskStarted); n != 3 {
		t.Errorf("tasks started %d times, want 3", n)
	}
	if tracker.max != 1 {
		t.Errorf("max concurrently running = %d", tracker.max)
	}
	if got := b.Status().Summary.Completed; got != 3 {
		t.Errorf("idle engine status shows %d completed, want 3", got)
	}
}

func TestCleanFromAnotherEngineStopsRun(t *testing.T) {
	dir := newProject(t, "A", "B SLOW", "C")
	cfg := workerConfig(writeWorker(t, slowWorker))
	events := &eventLog{}
	a := newRunner(t, dir, cfg, WithEventHandler(events.handle))

	done := make(chan RunSummary, 1)
	go func() { done <- a.RunAll(context.Background()) }()
	var pid int
	if !waitFor(t, 10*time.Second, func() bool {
		b, _ := a.Store().Get(2)
		pid = a.Store().Snapshot().ActivePID
		return b.State == StateRunning && pid != 0
	}) {
		t.Fatal("slow task never started")
	}

	if err := Clean(dir, cfg, WithLogger(quietLogger())); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	sum := <-done
	if sum.Result != ResultInterrupted {
		t.Errorf("result = %s", sum.Result)
	}
	assertStates(t, a, StateCompleted, StateInterrupted, StatePending)
	rec, err := ReadRecord(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []TaskState{StateCompleted, StateInterrupted, StatePending}
	for i, task := range rec.Tasks {
		if task.State != want[i] {
			t.Errorf("on disk task %d = %s, want %s", task.ID, task.State, want[i])
		}
	}
	if rec.ActivePID != 0 {
		t.Errorf("active pid %d left in record", rec.ActivePID)
	}
	if started := events.taskIDs(EventTaskStarted); len(started) != 2 {
		t.Errorf("started = %v, want [1 2]", started)
	}
	if processAlive(pid) {
		t.Errorf("worker %d survived clean", pid)
	}
	if _, err := os.Stat(filepath.Join(dir, stopFileName)); !os.IsNotExist(err) {
		t.Errorf("stop request left behind: %v", err)
	}
}

func TestHistoryDoesNotTouchRunRecord(t *testing.T) {
	dir := newProject(t, "A", "B")
	r := newRunner(t, dir, demoConfig())
	r.RunAll(context.Background())
	r.Close()

	store, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Requeue(1); err != nil {
		t.Fatal(err)
	}
	if err := store.Transition(1, StateRunning, TransitionInfo{}); err != nil {
		t.Fatal(err)
	}
	before, _ := ReadRecord(dir)

	all, err := History(dir, 0, quietLogger())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("history has %d entries, want 4", len(all))
	}
	after, err := ReadRecord(dir)
	if err != nil {
		t.Fatal(err)
	}
	if after.Tasks[0].State != StateRunning || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("history rewrote the record: task 1 = %s", after.Tasks[0].State)
	}

	empty, err := History(t.TempDir(), 0, quietLogger())
	if err != nil || len(empty) != 0 {
		t.Errorf("history without a journal = %v, %v", empty, err)
	}
}
