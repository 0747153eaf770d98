// ABOUTME: Context Reset Protocol: clears the worker's conversational memory before every task.
// ABOUTME: ClearResetter sends the reset instruction and verifies the acknowledgement within a short deadline.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Resetter guarantees a session starts its next task with no memory of
// earlier ones. Reset must be idempotent.
type Resetter interface {
	Reset(ctx context.Context, sess *Session) error
}

var (
	_ Resetter = (*ClearResetter)(nil)
	_ Resetter = (*DemoResetter)(nil)
)

// ClearResetter runs the worker with the reset instruction on stdin and
// requires a clean exit (and the ack marker, when configured).
type ClearResetter struct {
	WorkerPath  string
	Args        []string
	Instruction string
	AckMarker   string
	Timeout     time.Duration
	Dir         string
	Env         []string
}

// NewClearResetter builds a ClearResetter from the engine config.
func NewClearResetter(cfg Config) *ClearResetter {
	return &ClearResetter{
		WorkerPath:  cfg.WorkerPath,
		Args:        cfg.Reset.Args,
		Instruction: cfg.Reset.Instruction,
		AckMarker:   cfg.Reset.AckMarker,
		Timeout:     cfg.ResetTimeout(),
		Dir:         cfg.WorkingDirectory,
		Env:         cfg.buildEnvironment(),
	}
}

// Reset sends the reset instruction and blocks until the worker
// acknowledges or the reset deadline elapses.
func (r *ClearResetter) Reset(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sess == nil || sess.Closed() {
		return &ResetError{Reason: "session is not live", Err: errSessionClosed}
	}

	rctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, r.WorkerPath, r.Args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = time.Second
	cmd.Dir = r.Dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	cmd.Stdin = strings.NewReader(r.Instruction + "\n")
	out := &cappedBuffer{limit: 64 * 1024}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return &WorkerSpawnError{Path: r.WorkerPath, Err: err}
	}
	if err := sess.attach(cmd); err != nil {
		killProcessGroup(cmd)
		_ = cmd.Wait()
		return &ResetError{Reason: "session terminated during reset", Err: err}
	}
	waitErr := cmd.Wait()
	sess.detach(cmd)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return &ResetError{Reason: fmt.Sprintf("no acknowledgement within %s", r.Timeout), Output: out.String()}
	}
	if waitErr != nil {
		return &ResetError{
			Reason: fmt.Sprintf("worker exited with code %d", extractExitCode(waitErr)),
			Output: out.String(),
		}
	}
	if r.AckMarker != "" && !strings.Contains(out.String(), r.AckMarker) {
		return &ResetError{Reason: fmt.Sprintf("acknowledgement missing %q", r.AckMarker), Output: out.String()}
	}
	return nil
}

// DemoResetter acknowledges deterministically without a worker process.
type DemoResetter struct {
	count atomic.Int64
}

// Reset accepts any live session.
func (r *DemoResetter) Reset(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sess == nil || sess.Closed() {
		return &ResetError{Reason: "session is not live", Err: errSessionClosed}
	}
	r.count.Add(1)
	return nil
}

// Resets returns how many resets have been acknowledged.
func (r *DemoResetter) Resets() int64 { return r.count.Load() }

// cappedBuffer keeps at most limit bytes of output. The tail is kept, since
// worker errors usually come last.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
