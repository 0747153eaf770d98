// ABOUTME: Exclusive advisory lock on the base directory so only one engine instance drives it at a time.
// ABOUTME: Also carries the stop-request file another instance uses to ask the lock holder to stop.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockFileName = ".lock"
	stopFileName = ".stop"
)

// dirLock is a held flock on <base_dir>/.lock. Locks taken through separate
// opens conflict even inside one process.
type dirLock struct {
	f *os.File
}

// tryLock takes the base directory lock without blocking. A lock held
// elsewhere is reported as ErrRunInProgress.
func tryLock(baseDir string) (*dirLock, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	path := filepath.Join(baseDir, lockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid := lockHolder(path); pid > 0 {
				return nil, fmt.Errorf("base dir locked by pid %d: %w", pid, ErrRunInProgress)
			}
			return nil, fmt.Errorf("base dir locked: %w", ErrRunInProgress)
		}
		return nil, fmt.Errorf("lock base dir: %w", err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &dirLock{f: f}, nil
}

// waitLock retries tryLock until it succeeds or timeout passes.
func waitLock(baseDir string, timeout time.Duration) (*dirLock, error) {
	deadline := time.Now().Add(timeout)
	for {
		l, err := tryLock(baseDir)
		if err == nil || !errors.Is(err, ErrRunInProgress) || time.Now().After(deadline) {
			return l, err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Unlock releases the lock. Safe on a nil lock.
func (l *dirLock) Unlock() {
	if l == nil || l.f == nil {
		return
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
	l.f = nil
}

func lockHolder(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// requestStop asks the lock holder to stop its run.
func requestStop(baseDir string) error {
	path := filepath.Join(baseDir, stopFileName)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("request stop: %w", err)
	}
	return nil
}

// takeStopRequest reports whether a stop was requested and consumes it.
func takeStopRequest(baseDir string) bool {
	err := os.Remove(filepath.Join(baseDir, stopFileName))
	return err == nil
}

// watchStopRequests cancels the run when another instance asks it to stop.
// It returns when ctx is done.
func watchStopRequests(ctx context.Context, baseDir string, cancel context.CancelFunc, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if takeStopRequest(baseDir) {
				cancel()
				return
			}
		}
	}
}
