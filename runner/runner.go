// ABOUTME: Task Runner orchestrating reset, execute, and persist over the ordered task list.
// ABOUTME: Exposes RunAll, RunOne, Status, Stop, and Clean with strictly sequential execution on one worker session.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Phase is the run-level state: not_started -> running -> {all_completed | aborted}.
type Phase string

const (
	PhaseNotStarted   Phase = "not_started"
	PhaseRunning      Phase = "running"
	PhaseAllCompleted Phase = "all_completed"
	PhaseAborted      Phase = "aborted"
)

// RunResult classifies how a run ended for callers choosing an exit status.
type RunResult string

const (
	ResultSuccess     RunResult = "success"
	ResultPartial     RunResult = "partial"
	ResultInterrupted RunResult = "interrupted"
	ResultFatal       RunResult = "fatal"
)

// ExitCode maps a result onto a process exit status.
func (r RunResult) ExitCode() int {
	switch r {
	case ResultSuccess:
		return 0
	case ResultPartial:
		return 1
	case ResultInterrupted:
		return 130
	default:
		return 2
	}
}

// RunSummary is what RunAll returns.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Phase    Phase         `json:"phase"`
	Result   RunResult     `json:"result"`
	Summary  Summary       `json:"summary"`
	Outcomes []TaskOutcome `json:"outcomes"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

// classify derives the result from the error and the final counts. A run
// with failed tasks is a partial success, not a fatal error.
func classify(err error, sum Summary) RunResult {
	switch {
	case errors.Is(err, ErrInterrupted):
		return ResultInterrupted
	case err != nil:
		return ResultFatal
	case sum.Failed > 0 || sum.Interrupted > 0:
		return ResultPartial
	}
	return ResultSuccess
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEventHandler adds a lifecycle event handler. Handlers are called from
// several goroutines and must be safe for concurrent use.
func WithEventHandler(h func(EngineEvent)) Option {
	return func(r *Runner) {
		if h != nil {
			r.handlers = append(r.handlers, h)
		}
	}
}

// WithDemoSource replaces the canned demo responses.
func WithDemoSource(d DemoSource) Option {
	return func(r *Runner) { r.demo = d }
}

// WithResetter replaces the context reset protocol.
func WithResetter(rs Resetter) Option {
	return func(r *Runner) { r.resetter = rs }
}

// WithJournal uses j instead of opening history.db in the base directory.
func WithJournal(j *Journal) Option {
	return func(r *Runner) {
		r.journal = j
		r.journalSet = true
	}
}

// WithoutJournal disables transition history.
func WithoutJournal() Option {
	return func(r *Runner) {
		r.journal = nil
		r.journalSet = true
	}
}

// Runner drives the tasks in one base directory.
type Runner struct {
	baseDir    string
	cfg        Config
	store      *Store
	ctrl       *Controller
	resetter   Resetter
	journal    *Journal
	journalSet bool
	ownJournal bool
	logger     *log.Logger
	handlers   []func(EngineEvent)
	demo       DemoSource
	watchdog   *Watchdog

	mu        sync.Mutex
	phase     Phase
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

// stopPollInterval is how often a running engine checks for a stop request
// from another instance.
const stopPollInterval = 100 * time.Millisecond

// cleanWait bounds how long Clean waits for another instance to stop.
const cleanWait = 4*killGrace + 2*time.Second

// New opens the base directory, reconciles tasks orphaned by a previous
// engine, and returns a Runner. While another instance holds the base
// directory lock nothing is reconciled. A corrupt Run Record is returned as
// *CorruptStateError and nothing is touched.
func New(baseDir string, cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	store, err := OpenStore(baseDir)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		baseDir: baseDir,
		cfg:     cfg,
		store:   store,
		logger:  log.Default(),
		phase:   PhaseNotStarted,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.resetter == nil {
		if cfg.DemoMode {
			r.resetter = &DemoResetter{}
		} else {
			r.resetter = NewClearResetter(cfg)
		}
	}
	if !r.journalSet {
		j, err := OpenJournal(filepath.Join(baseDir, journalFileName), r.logger)
		if err != nil {
			r.logger.Printf("component=runner action=journal_unavailable err=%v", err)
		} else {
			r.journal = j
			r.ownJournal = true
		}
	}
	if r.journal != nil {
		store.Observe(r.journal)
	}
	if stall := cfg.StallTimeout(); stall > 0 {
		r.watchdog = NewWatchdog(watchdogConfigFor(stall), r.emit)
	}
	r.ctrl = newController(cfg, baseDir, r.logger, r.emit, r.demo, store)

	lock, err := tryLock(baseDir)
	switch {
	case errors.Is(err, ErrRunInProgress):
		r.logger.Printf("component=runner action=reconcile_skipped reason=%q", err)
		return r, nil
	case err != nil:
		r.Close()
		return nil, err
	}
	defer lock.Unlock()
	if err := r.reconcile(); err != nil {
		r.Close()
		return nil, fmt.Errorf("reconcile run state: %w", err)
	}
	return r, nil
}

// reconcile reloads the Run Record and marks tasks whose worker is gone as
// interrupted. The caller holds the base directory lock.
func (r *Runner) reconcile() error {
	if _, err := r.store.Load(); err != nil {
		return err
	}
	ids, err := r.store.Reconcile(processAlive)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		r.logger.Printf("component=runner action=reconciled tasks=%v state=interrupted", ids)
	}
	return nil
}

// Close releases the journal. It does not stop a run; use Stop or Clean.
func (r *Runner) Close() error {
	if r.ownJournal && r.journal != nil {
		return r.journal.Close()
	}
	return nil
}

// Store exposes the Task Store for read access.
func (r *Runner) Store() *Store { return r.store }

// Config returns the runner's configuration.
func (r *Runner) Config() Config { return r.cfg }

// History returns journaled transitions for a task, or all tasks if id is 0.
func (r *Runner) History(id int) ([]HistoryEntry, error) {
	if r.journal == nil {
		return nil, errors.New("transition history is not available")
	}
	return r.journal.History(id)
}

// Busy reports whether a run is in progress in this process.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRun != nil
}

// RunAll executes pending tasks in id order until none remain, the run is
// interrupted, or an infrastructure failure aborts it.
func (r *Runner) RunAll(ctx context.Context) RunSummary {
	runCtx, end, err := r.begin(ctx)
	if err != nil {
		return r.summarize(PhaseNotStarted, nil, err)
	}
	defer end()

	if len(r.store.Snapshot().Tasks) == 0 {
		return r.finish(PhaseAborted, nil, ErrNoTasks)
	}
	if r.cfg.Resume {
		if err := r.requeueInterrupted(); err != nil {
			return r.finish(PhaseAborted, nil, err)
		}
	}

	r.setPhase(PhaseRunning)
	r.emit(EngineEvent{Type: EventRunStarted, Data: map[string]any{"run_id": r.store.Snapshot().RunID}})

	var outcomes []TaskOutcome
	for {
		if runCtx.Err() != nil {
			return r.finish(PhaseAborted, outcomes, ErrInterrupted)
		}
		task, ok := r.store.NextPending()
		if !ok {
			break
		}
		o, err := r.runTask(runCtx, task)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = ErrInterrupted
			} else {
				outcomes = appendOutcome(outcomes, o)
			}
			return r.finish(PhaseAborted, outcomes, err)
		}
		outcomes = append(outcomes, o)
		if o.Kind == OutcomeInterrupted {
			return r.finish(PhaseAborted, outcomes, ErrInterrupted)
		}
	}
	return r.finish(PhaseAllCompleted, outcomes, nil)
}

// RunOne runs a single task, re-queuing it first if it already finished.
func (r *Runner) RunOne(ctx context.Context, id int) (TaskOutcome, error) {
	runCtx, end, err := r.begin(ctx)
	if err != nil {
		return TaskOutcome{}, err
	}
	defer end()

	task, err := r.store.Get(id)
	if err != nil {
		return TaskOutcome{}, err
	}
	switch {
	case task.State == StateRunning:
		return TaskOutcome{}, fmt.Errorf("task %d: %w", id, ErrTaskRunning)
	case task.State.Terminal():
		if err := r.store.Requeue(id); err != nil {
			return TaskOutcome{}, err
		}
		if task, err = r.store.Get(id); err != nil {
			return TaskOutcome{}, err
		}
	}

	r.setPhase(PhaseRunning)
	o, err := r.runTask(runCtx, task)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = ErrInterrupted
	}
	if err != nil || o.Kind == OutcomeInterrupted {
		r.setPhase(PhaseAborted)
	} else {
		r.setPhase(derivePhase(r.store.Summary()))
	}
	return o, err
}

// Stop cancels the run in progress, if any. The running task is terminated
// and recorded as interrupted. Stop does not wait.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelRun == nil {
		return false
	}
	r.cancelRun()
	return true
}

// Clean stops any run, kills lingering workers recorded for this base
// directory, and reconciles running tasks to interrupted. A run owned by
// another instance is asked to stop and records its own interruption.
// Calling it when nothing is running is a no-op.
func (r *Runner) Clean() error {
	r.mu.Lock()
	cancel, done := r.cancelRun, r.runDone
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	lock, err := tryLock(r.baseDir)
	if errors.Is(err, ErrRunInProgress) {
		r.logger.Printf("component=runner action=clean_request_stop reason=%q", err)
		if err := requestStop(r.baseDir); err != nil {
			return err
		}
		lock, err = waitLock(r.baseDir, cleanWait)
		// A request nobody consumed must not stop the next run.
		takeStopRequest(r.baseDir)
	}
	if err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	defer lock.Unlock()
	if _, err := r.store.Load(); err != nil {
		return err
	}

	r.ctrl.Terminate()
	if pid := r.store.Snapshot().ActivePID; pid != 0 {
		r.logger.Printf("component=runner action=clean_worker pid=%d", pid)
		if err := terminateGroup(pid, killGrace); err != nil {
			return fmt.Errorf("terminate worker %d: %w", pid, err)
		}
	}
	ids, err := r.store.Reconcile(func(int) bool { return false })
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		r.logger.Printf("component=runner action=clean tasks=%v state=interrupted", ids)
	}
	return r.store.ClearActive()
}

// begin claims the runner and the base directory for one run. The returned
// func releases both.
func (r *Runner) begin(ctx context.Context) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelRun != nil {
		return nil, nil, ErrRunInProgress
	}
	lock, err := tryLock(r.baseDir)
	if err != nil {
		return nil, nil, err
	}
	if err := r.reconcile(); err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	if pid := r.store.Snapshot().ActivePID; pid != 0 && processAlive(pid) {
		lock.Unlock()
		return nil, nil, fmt.Errorf("worker pid %d is still alive: %w", pid, ErrRunInProgress)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancelRun = cancel
	r.runDone = done
	if r.watchdog != nil {
		r.watchdog.Start(runCtx)
	}
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		watchStopRequests(runCtx, r.baseDir, cancel, stopPollInterval)
	}()

	end := func() {
		cancel()
		<-watching
		lock.Unlock()
		r.mu.Lock()
		r.cancelRun = nil
		r.runDone = nil
		r.mu.Unlock()
		close(done)
	}
	return runCtx, end, nil
}

// runTask resets the session, executes one task, and persists its verdict.
// A returned error aborts the run.
func (r *Runner) runTask(ctx context.Context, task Task) (TaskOutcome, error) {
	sess, err := r.readySession(ctx)
	if err != nil {
		return TaskOutcome{}, err
	}

	if err := r.store.Transition(task.ID, StateRunning, TransitionInfo{}); err != nil {
		return TaskOutcome{}, err
	}
	r.emit(EngineEvent{Type: EventTaskStarted, TaskID: task.ID, Data: map[string]any{"title": task.Title, "session": sess.ID}})
	r.logger.Printf("component=runner action=task_started task=%d title=%q", task.ID, task.Title)

	instruction, err := os.ReadFile(task.InstructionPath)
	if err != nil {
		o := TaskOutcome{TaskID: task.ID, Kind: OutcomeFailed, ExitCode: exitCodeTerminated, Error: fmt.Sprintf("read instruction: %v", err), ResultPath: task.ResultPath, ErrorPath: task.ErrorPath}
		r.applyOutcome(o)
		return o, nil
	}

	var reportErr error
	report := func(o TaskOutcome) {
		reportErr = r.applyOutcome(o)
	}
	o, err := r.ctrl.Execute(ctx, sess, task, string(instruction), report)
	if err != nil {
		failed := TaskOutcome{TaskID: task.ID, Kind: OutcomeFailed, ExitCode: exitCodeTerminated, Error: err.Error(), ResultPath: task.ResultPath, ErrorPath: task.ErrorPath}
		r.applyOutcome(failed)
		r.logger.Printf("component=runner action=abort task=%d err=%v", task.ID, err)
		return failed, err
	}
	if reportErr != nil && !errors.Is(reportErr, ErrInvalidTransition) {
		return o, reportErr
	}
	return o, nil
}

// applyOutcome persists a verdict and announces it. A task already moved
// out of running (by Clean) keeps its state.
func (r *Runner) applyOutcome(o TaskOutcome) error {
	err := r.store.Transition(o.TaskID, o.Kind.State(), o.transitionInfo())
	if err != nil {
		r.logger.Printf("component=runner action=persist_outcome_failed task=%d kind=%s err=%v", o.TaskID, o.Kind, err)
	} else {
		r.logger.Printf("component=runner action=task_finished task=%d kind=%s exit=%d duration=%s", o.TaskID, o.Kind, o.ExitCode, o.Duration.Round(time.Millisecond))
	}
	data := map[string]any{"exit_code": o.ExitCode, "duration": o.Duration.String(), "result_size": o.ResultSize}
	if o.Error != "" {
		data["error"] = o.Error
	}
	r.emit(EngineEvent{Type: outcomeEventType(o.Kind), TaskID: o.TaskID, Data: data})
	return err
}

// readySession returns a session whose context has just been cleared,
// respawning up to Reset.MaxAttempts times before giving up.
func (r *Runner) readySession(ctx context.Context) (*Session, error) {
	sess := r.ctrl.Session()
	if !r.cfg.Reset.Enabled {
		return sess, nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Reset.MaxAttempts; attempt++ {
		if attempt > 1 {
			sess = r.ctrl.Respawn()
		}
		r.emit(EngineEvent{Type: EventResetStarted, Data: map[string]any{"attempt": attempt, "session": sess.ID}})
		err := r.resetter.Reset(ctx, sess)
		if err == nil {
			r.emit(EngineEvent{Type: EventResetSucceeded, Data: map[string]any{"attempt": attempt, "session": sess.ID}})
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var resetErr *ResetError
		if !errors.As(err, &resetErr) {
			return nil, err
		}
		resetErr.Attempt = attempt
		r.logger.Printf("component=runner action=reset_failed attempt=%d max=%d err=%v", attempt, r.cfg.Reset.MaxAttempts, resetErr)
		r.emit(EngineEvent{Type: EventResetFailed, Data: map[string]any{"attempt": attempt, "error": resetErr.Error()}})
		lastErr = resetErr
	}
	r.ctrl.Terminate()
	return nil, lastErr
}

func (r *Runner) requeueInterrupted() error {
	for _, t := range r.store.Snapshot().Tasks {
		if t.State != StateInterrupted {
			continue
		}
		if err := r.store.Requeue(t.ID); err != nil {
			return err
		}
		r.logger.Printf("component=runner action=resume task=%d", t.ID)
	}
	return nil
}

func (r *Runner) finish(phase Phase, outcomes []TaskOutcome, err error) RunSummary {
	r.setPhase(phase)
	sum := r.summarize(phase, outcomes, err)
	typ := EventRunCompleted
	if phase == PhaseAborted {
		typ = EventRunAborted
	}
	r.emit(EngineEvent{Type: typ, Data: map[string]any{"result": string(sum.Result), "error": sum.Error}})
	r.logger.Printf("component=runner action=run_finished phase=%s result=%s completed=%d failed=%d pending=%d", phase, sum.Result, sum.Summary.Completed, sum.Summary.Failed, sum.Summary.Pending)
	return sum
}

func (r *Runner) summarize(phase Phase, outcomes []TaskOutcome, err error) RunSummary {
	snap := r.store.Snapshot()
	sum := RunSummary{
		RunID:    snap.RunID,
		Phase:    phase,
		Summary:  summarize(snap.Tasks),
		Outcomes: outcomes,
		Err:      err,
	}
	if sum.Outcomes == nil {
		sum.Outcomes = []TaskOutcome{}
	}
	if err != nil {
		sum.Error = err.Error()
	}
	sum.Result = classify(err, sum.Summary)
	return sum
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

// Phase returns the run-level state. When no run is active in this process
// it is derived from the persisted record.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	busy, phase := r.cancelRun != nil, r.phase
	r.mu.Unlock()
	if busy || phase != PhaseNotStarted {
		return phase
	}
	return derivePhase(r.store.Summary())
}

// derivePhase infers the run phase from persisted task counts.
func derivePhase(s Summary) Phase {
	switch {
	case s.Running > 0:
		return PhaseRunning
	case s.Total > 0 && s.Pending == 0:
		return PhaseAllCompleted
	case s.Completed+s.Failed+s.Interrupted == 0:
		return PhaseNotStarted
	default:
		return PhaseAborted
	}
}

// emit stamps and fans out an event. The watchdog sees every event first.
func (r *Runner) emit(evt EngineEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if r.watchdog != nil {
		r.watchdog.HandleEvent(evt)
	}
	if evt.Type == EventTaskStalled {
		r.logger.Printf("component=runner action=stalled task=%d silent=%v", evt.TaskID, evt.Data["silent"])
	}
	for _, h := range r.handlers {
		h(evt)
	}
}

func appendOutcome(outcomes []TaskOutcome, o TaskOutcome) []TaskOutcome {
	if o.TaskID == 0 {
		return outcomes
	}
	return append(outcomes, o)
}
