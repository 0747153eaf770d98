// ABOUTME: Base-directory entry points for callers that do not hold a Runner: run, run one, status, clean, create.
// ABOUTME: CreateProject lays out tasks/ and results/ and seeds the Run Record from parsed task descriptors.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Directory layout inside a base directory.
const (
	TasksDirName   = "tasks"
	ResultsDirName = "results"
)

// Run executes every pending task in baseDir.
func Run(ctx context.Context, baseDir string, cfg Config, opts ...Option) (RunSummary, error) {
	r, err := New(baseDir, cfg, opts...)
	if err != nil {
		return RunSummary{Phase: PhaseNotStarted, Result: ResultFatal, Error: err.Error(), Err: err}, err
	}
	defer r.Close()
	sum := r.RunAll(ctx)
	return sum, nil
}

// RunOne executes (or re-executes) one task in baseDir.
func RunOne(ctx context.Context, baseDir string, cfg Config, id int, opts ...Option) (TaskOutcome, error) {
	r, err := New(baseDir, cfg, opts...)
	if err != nil {
		return TaskOutcome{}, err
	}
	defer r.Close()
	return r.RunOne(ctx, id)
}

// Status reads baseDir's Run Record without modifying anything.
func Status(baseDir string) (StatusReport, error) {
	rec, err := ReadRecord(baseDir)
	if err != nil {
		return StatusReport{}, err
	}
	return newStatusReport(rec, ""), nil
}

// History reads journaled transitions for baseDir, or for one task when id
// is non-zero. It never reconciles or otherwise touches the Run Record.
func History(baseDir string, id int, logger *log.Logger) ([]HistoryEntry, error) {
	path := filepath.Join(baseDir, journalFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return []HistoryEntry{}, nil
	}
	j, err := OpenJournal(path, logger)
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return j.History(id)
}

// Clean stops lingering workers for baseDir and reconciles running tasks.
func Clean(baseDir string, cfg Config, opts ...Option) error {
	r, err := New(baseDir, cfg, opts...)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Clean()
}

// CreateProject writes one instruction file per descriptor and seeds a new
// Run Record. Existing tasks are only replaced when replace is set.
func CreateProject(baseDir string, descs []TaskDescriptor, replace bool) ([]Task, error) {
	if len(descs) == 0 {
		return nil, ErrNoTasks
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	lock, err := tryLock(abs)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	store, err := OpenStore(abs)
	if err != nil {
		return nil, err
	}
	snap := store.Snapshot()
	if len(snap.Tasks) > 0 && !replace {
		return nil, fmt.Errorf("%s already has %d tasks; pass replace to reset the project", abs, len(snap.Tasks))
	}
	for _, t := range snap.Tasks {
		if t.State == StateRunning {
			return nil, fmt.Errorf("task %d: %w", t.ID, ErrTaskRunning)
		}
	}

	tasksDir := filepath.Join(abs, TasksDirName)
	resultsDir := filepath.Join(abs, ResultsDirName)
	if replace {
		for _, dir := range []string{tasksDir, resultsDir} {
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("clear %s: %w", dir, err)
			}
		}
	}
	for _, dir := range []string{tasksDir, resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tasks := make([]Task, len(descs))
	for i, d := range descs {
		name := fmt.Sprintf("%03d_%s", i+1, slugify(d.Title))
		path := filepath.Join(tasksDir, name+".md")
		if err := os.WriteFile(path, []byte(d.Instruction), 0o644); err != nil {
			return nil, fmt.Errorf("write instruction %d: %w", i+1, err)
		}
		tasks[i] = Task{
			Title:           d.Title,
			InstructionPath: path,
			ResultPath:      filepath.Join(resultsDir, name+".result"),
			ErrorPath:       filepath.Join(resultsDir, name+".error"),
		}
	}
	if err := store.Seed(tasks, replace); err != nil {
		return nil, err
	}
	return store.Snapshot().Tasks, nil
}

// slugify turns a title into a short file-name-safe token.
func slugify(title string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "task"
	}
	return s
}
