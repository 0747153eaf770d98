// ABOUTME: Execution Controller: spawns one worker process per task and supervises it to a single verdict.
// ABOUTME: Streams stdout through the parser into the result file while timeout, cancel, and exit race in an arbiter.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Exit codes recorded for verdicts the worker did not produce itself.
const (
	exitCodeTerminated  = -1
	exitCodeInterrupted = 130
)

// scratchDirName holds private instruction files while workers read them.
const scratchDirName = ".scratch"

// processTracker records which worker process backs the running task, so a
// restarted engine can tell a live run from a dead one.
type processTracker interface {
	SetActive(pid, taskID int) error
	ClearActive() error
}

// Controller owns the single Worker Session and executes tasks on it one at
// a time.
type Controller struct {
	cfg     Config
	baseDir string
	logger  *log.Logger
	emit    func(EngineEvent)
	demo    DemoSource
	tracker processTracker

	mu     sync.Mutex
	active *Session
}

func newController(cfg Config, baseDir string, logger *log.Logger, emit func(EngineEvent), demo DemoSource, tracker processTracker) *Controller {
	if demo == nil {
		demo = DefaultDemoSource
	}
	if emit == nil {
		emit = func(EngineEvent) {}
	}
	return &Controller{cfg: cfg, baseDir: baseDir, logger: logger, emit: emit, demo: demo, tracker: tracker}
}

// Session returns the live session, creating one if none exists.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.Closed() {
		c.active = newSession()
		c.logger.Printf("component=controller action=session_created session=%s", c.active.ID)
	}
	return c.active
}

// Respawn terminates the current session and starts a fresh one.
func (c *Controller) Respawn() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.Terminate()
	}
	c.active = newSession()
	c.logger.Printf("component=controller action=session_respawned session=%s", c.active.ID)
	return c.active
}

// Terminate kills the live session's worker, if any.
func (c *Controller) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.Terminate()
		c.active = nil
	}
}

// Execute runs one task to a verdict. report is called exactly once with the
// winning verdict, at the moment it wins. The returned error is non-nil only
// for infrastructure failures (the worker could not be started), in which
// case no verdict was reported.
func (c *Controller) Execute(ctx context.Context, sess *Session, task Task, instruction string, report func(TaskOutcome)) (TaskOutcome, error) {
	x := &execution{c: c, task: task, start: time.Now(), arb: newArbiter(report)}

	if err := ctx.Err(); err != nil {
		x.propose(OutcomeInterrupted, exitCodeInterrupted, "interrupted before start")
		return x.outcome(), nil
	}

	if err := os.MkdirAll(filepath.Dir(task.ResultPath), 0o755); err != nil {
		return TaskOutcome{}, fmt.Errorf("create results dir: %w", err)
	}
	if task.ErrorPath != "" {
		if err := os.Remove(task.ErrorPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return TaskOutcome{}, fmt.Errorf("remove stale error file: %w", err)
		}
	}
	result, err := os.Create(task.ResultPath)
	if err != nil {
		return TaskOutcome{}, fmt.Errorf("create result file: %w", err)
	}
	defer result.Close()
	x.result = result

	if c.cfg.DemoMode {
		c.executeDemo(ctx, x)
	} else if err := c.executeWorker(ctx, sess, x, instruction); err != nil {
		return TaskOutcome{}, err
	}

	o := x.outcome()
	if o.Kind == OutcomeTimedOut {
		note := fmt.Sprintf("\n\n[TIMEOUT: worker terminated after %s]\n", c.cfg.Timeout())
		if _, err := result.WriteString(note); err != nil {
			c.logger.Printf("component=controller action=timeout_note_failed task=%d err=%v", task.ID, err)
		}
	}
	if !o.Success() {
		x.writeErrorArtifact(o)
	}
	return o, nil
}

// executeWorker runs the real worker process.
func (c *Controller) executeWorker(ctx context.Context, sess *Session, x *execution, instruction string) error {
	task := x.task
	if sess == nil || sess.Closed() {
		return &WorkerSpawnError{Path: c.cfg.WorkerPath, Err: errSessionClosed}
	}

	scratchPath, err := c.writeScratch(task.ID, instruction)
	if err != nil {
		return err
	}
	// The scratch file stays until the worker has exited.
	defer os.Remove(scratchPath)
	stdin, err := os.Open(scratchPath)
	if err != nil {
		return fmt.Errorf("open scratch instruction: %w", err)
	}
	defer stdin.Close()

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	cmd := exec.CommandContext(runCtx, c.cfg.WorkerPath, c.cfg.workerArgs()...)
	setProcessGroup(cmd)
	// Ask the whole group to stop; WaitDelay escalates to SIGKILL on the
	// leader and the sweep after Wait catches any stragglers.
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace
	cmd.Dir = c.cfg.WorkingDirectory
	cmd.Env = c.cfg.buildEnvironment()
	cmd.Stdin = stdin

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	x.stderr = &cappedBuffer{limit: 16 * 1024}
	cmd.Stderr = x.stderr

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return &WorkerSpawnError{Path: c.cfg.WorkerPath, Err: err}
	}
	pid := cmd.Process.Pid
	x.stop = stop
	c.logger.Printf("component=controller action=worker_started task=%d pid=%d session=%s", task.ID, pid, sess.ID)

	if err := sess.attach(cmd); err != nil {
		x.propose(OutcomeInterrupted, exitCodeInterrupted, "session terminated")
		stop()
	}
	if c.tracker != nil {
		if err := c.tracker.SetActive(pid, task.ID); err != nil {
			c.logger.Printf("component=controller action=track_pid_failed task=%d err=%v", task.ID, err)
		}
	}

	timer := time.AfterFunc(c.cfg.Timeout(), func() {
		if x.propose(OutcomeTimedOut, exitCodeTerminated, (&TimeoutError{TaskID: task.ID, Timeout: c.cfg.Timeout()}).Error()) {
			c.logger.Printf("component=controller action=timeout task=%d timeout=%s", task.ID, c.cfg.Timeout())
			stop()
		}
	})
	defer timer.Stop()

	exited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if x.propose(OutcomeInterrupted, exitCodeInterrupted, "interrupted by operator") {
				c.logger.Printf("component=controller action=interrupt task=%d pid=%d", task.ID, pid)
				stop()
			}
		case <-exited:
		}
	}()

	parsed := make(chan struct{})
	go func() {
		defer close(parsed)
		x.consume(NewStreamParser(c.cfg.OutputFormat).Fragments(pr))
	}()

	waitErr := cmd.Wait()
	timer.Stop()
	close(exited)
	pw.Close()
	<-parsed
	pr.Close()

	sess.detach(cmd)
	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		c.logger.Printf("component=controller action=sweep_failed task=%d pid=%d err=%v", task.ID, pid, err)
	}
	if c.tracker != nil {
		if err := c.tracker.ClearActive(); err != nil {
			c.logger.Printf("component=controller action=untrack_pid_failed task=%d err=%v", task.ID, err)
		}
	}

	if waitErr == nil {
		x.propose(OutcomeCompleted, 0, "")
	} else {
		code := extractExitCode(waitErr)
		msg := strings.TrimSpace(x.stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("worker exited with code %d", code)
		}
		x.propose(OutcomeFailed, code, lastLines(msg, 20))
	}
	c.logger.Printf("component=controller action=worker_exited task=%d pid=%d verdict=%s", task.ID, pid, x.outcome().Kind)
	return nil
}

// executeDemo replays the canned stream after the configured delay, honoring
// the task timeout and cancellation the same way a worker would.
func (c *Controller) executeDemo(ctx context.Context, x *execution) {
	delay := time.NewTimer(c.cfg.DemoDelay())
	defer delay.Stop()
	deadline := time.NewTimer(c.cfg.Timeout())
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		x.propose(OutcomeInterrupted, exitCodeInterrupted, "interrupted by operator")
		return
	case <-deadline.C:
		x.propose(OutcomeTimedOut, exitCodeTerminated, (&TimeoutError{TaskID: x.task.ID, Timeout: c.cfg.Timeout()}).Error())
		return
	case <-delay.C:
	}

	x.consume(NewStreamParser(FormatStreamJSON).Fragments(strings.NewReader(c.demo(x.task))))
	x.propose(OutcomeCompleted, 0, "")
}

// writeScratch stores the instruction in a private, uniquely named file.
func (c *Controller) writeScratch(taskID int, instruction string) (string, error) {
	dir := filepath.Join(c.baseDir, scratchDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(dir, scratchName(taskID))
	if err := os.WriteFile(path, []byte(instruction), 0o600); err != nil {
		return "", fmt.Errorf("write scratch instruction: %w", err)
	}
	return path, nil
}

// execution is the per-task state shared by the observers of one run.
type execution struct {
	c       *Controller
	task    Task
	start   time.Time
	arb     *arbiter
	result  *os.File
	written atomic.Int64
	stderr  *cappedBuffer
	stop    func()

	mu     sync.Mutex
	inband []string
}

// propose offers a verdict to the arbiter.
func (x *execution) propose(kind OutcomeKind, code int, msg string) bool {
	return x.arb.decide(TaskOutcome{
		TaskID:     x.task.ID,
		Kind:       kind,
		ExitCode:   code,
		Error:      msg,
		ResultPath: x.task.ResultPath,
		ErrorPath:  x.task.ErrorPath,
		ResultSize: x.written.Load(),
		Duration:   time.Since(x.start),
	})
}

func (x *execution) outcome() TaskOutcome {
	o, _ := x.arb.verdict()
	return o
}

// consume writes content to the result file as it arrives. The stream is
// always drained, even after a verdict, so the worker never blocks on a
// full pipe while it is being stopped.
func (x *execution) consume(frags iter.Seq[Fragment]) {
	id := x.task.ID
	for f := range frags {
		switch f.Kind {
		case FragmentContent:
			n, err := x.result.WriteString(f.Text)
			x.written.Add(int64(n))
			if err != nil {
				x.c.logger.Printf("component=controller action=result_write_failed task=%d err=%v", id, err)
			}
			x.c.emit(EngineEvent{Type: EventTaskOutput, TaskID: id, Timestamp: time.Now(), Data: map[string]any{"text": f.Text}})

		case FragmentError:
			x.mu.Lock()
			x.inband = append(x.inband, f.Text)
			x.mu.Unlock()
			if x.propose(OutcomeFailed, exitCodeTerminated, f.Text) {
				x.c.logger.Printf("component=controller action=inband_error task=%d line=%d msg=%q", id, f.Line, f.Text)
				if x.stop != nil {
					x.stop()
				}
			}

		case FragmentMalformed:
			x.c.logger.Printf("component=controller action=stream_malformed task=%d err=%v", id, f.Err)
			x.c.emit(EngineEvent{Type: EventStreamMalformed, TaskID: id, Timestamp: time.Now(), Data: map[string]any{"error": f.Err.Error()}})

		case FragmentDone:
			// The process exit remains the completion signal.
		}
	}
}

// writeErrorArtifact records why a task did not complete.
func (x *execution) writeErrorArtifact(o TaskOutcome) {
	if x.task.ErrorPath == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", o.Error)
	x.mu.Lock()
	for _, msg := range x.inband {
		if msg != o.Error {
			fmt.Fprintf(&b, "Error: %s\n", msg)
		}
	}
	x.mu.Unlock()
	if x.stderr != nil {
		if tail := strings.TrimSpace(x.stderr.String()); tail != "" && tail != o.Error {
			b.WriteString("\n--- stderr ---\n")
			b.WriteString(tail)
			b.WriteByte('\n')
		}
	}
	if err := os.WriteFile(x.task.ErrorPath, []byte(b.String()), 0o644); err != nil {
		x.c.logger.Printf("component=controller action=error_write_failed task=%d err=%v", x.task.ID, err)
	}
}

// lastLines keeps the final n lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
