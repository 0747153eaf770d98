// ABOUTME: Worker Session: the ephemeral handle on the single live worker process for the current task.
// ABOUTME: Owned by the Controller and passed by handle to reset and cancellation paths; never persisted.
package runner

import (
	"errors"
	"os/exec"
	"sync"
	"time"
)

// errSessionClosed is returned when work is attached to a terminated session.
var errSessionClosed = errors.New("worker session terminated")

// Session is one worker identity. At most one process is attached at a
// time: first the reset exchange, then the task itself.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu     sync.Mutex
	cmd    *exec.Cmd
	closed bool
}

func newSession() *Session {
	return &Session{ID: newSessionID(), CreatedAt: time.Now()}
}

// attach makes cmd the session's live process.
func (s *Session) attach(cmd *exec.Cmd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	s.cmd = cmd
	return nil
}

// detach forgets cmd once it has been waited on.
func (s *Session) detach(cmd *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == cmd {
		s.cmd = nil
	}
}

// PID returns the live worker's pid, or 0.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Closed reports whether Terminate has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Terminate kills the live worker's process group, if any, and closes the
// session. Safe to call more than once.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cmd != nil {
		killProcessGroup(s.cmd)
	}
}
