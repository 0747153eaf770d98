// ABOUTME: XDG-based resolution of the default base directory for taskrunner projects.
// ABOUTME: Checks TASKRUNNER_BASE_DIR, then XDG_DATA_HOME, then falls back to ~/.local/share/taskrunner.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// baseDirEnv overrides the default base directory.
const baseDirEnv = "TASKRUNNER_BASE_DIR"

// defaultBaseDir returns the directory used when --base-dir is not given.
func defaultBaseDir() (string, error) {
	if dir := os.Getenv(baseDirEnv); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskrunner"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "taskrunner"), nil
}

// resolveBaseDir prefers an explicit override and makes the result absolute
// so worker sessions and stored paths do not depend on the caller's CWD.
func resolveBaseDir(override string) (string, error) {
	dir := override
	if dir == "" {
		var err error
		if dir, err = defaultBaseDir(); err != nil {
			return "", err
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve base dir: %w", err)
	}
	return abs, nil
}
