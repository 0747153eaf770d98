// ABOUTME: Shared test helpers: mock worker scripts, quiet loggers, and seeded project directories.
package runner

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// clearPreamble makes a mock worker acknowledge the reset instruction the
// way the real worker does.
const clearPreamble = `input=$(cat)
if [ "$input" = "/clear" ]; then
  echo "Context cleared"
  exit 0
fi
`

// writeWorker writes an executable shell script and returns its path.
func writeWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}
	return path
}

func workerConfig(path string) Config {
	cfg := DefaultConfig()
	cfg.WorkerPath = path
	cfg.TimeoutSeconds = 10
	cfg.StallTimeoutSeconds = 0
	cfg.Reset.TimeoutSeconds = 5
	return cfg
}

func demoConfig() Config {
	cfg := DefaultConfig()
	cfg.DemoMode = true
	cfg.StallTimeoutSeconds = 0
	return cfg
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newProject seeds a base directory with one task per title.
func newProject(t *testing.T, titles ...string) string {
	t.Helper()
	dir := t.TempDir()
	descs := make([]TaskDescriptor, len(titles))
	for i, title := range titles {
		descs[i] = TaskDescriptor{Title: title, Instruction: fmt.Sprintf("# %s\n\nDo %s.\n", title, title)}
	}
	if _, err := CreateProject(dir, descs, false); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return dir
}

// fakeTracker records the active pid reported by the controller.
type fakeTracker struct {
	mu   sync.Mutex
	pids []int
}

func (f *fakeTracker) SetActive(pid, taskID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pids = append(f.pids, pid)
	return nil
}

func (f *fakeTracker) ClearActive() error { return nil }

func (f *fakeTracker) last() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pids) == 0 {
		return 0
	}
	return f.pids[len(f.pids)-1]
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}
