// ABOUTME: Extra help text for the taskrunner CLI: examples and environment status.
// ABOUTME: Appended to the root command's long description so `taskrunner --help` shows what is configured.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/2389-research/taskrunner/runner"
)

const examplesHelp = `  taskrunner create tasks.md
  taskrunner run --tui
  taskrunner run --demo --timeout 60
  taskrunner rerun 3
  taskrunner status --format table
  taskrunner serve --addr 127.0.0.1:2389`

// environmentHelp describes the environment the next run would see.
func environmentHelp() string {
	var b strings.Builder
	fmt.Fprintln(&b, "Environment:")
	fmt.Fprintf(&b, "  %-22s %s\n", baseDirEnv, envStatus(baseDirEnv))
	fmt.Fprintf(&b, "  %-22s %s\n", "worker ("+runner.DefaultConfig().WorkerPath+")", workerStatus(runner.DefaultConfig().WorkerPath))
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "  Per-project settings live in <base-dir>/%s; .env files are loaded without overriding.\n", runner.ConfigFileName)
	return b.String()
}

// envStatus returns "[set]" if the named environment variable is non-empty,
// or "[not set]" otherwise.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "[set]"
	}
	return "[not set]"
}

// workerStatus reports whether the worker binary resolves on PATH.
func workerStatus(path string) string {
	if path == "" {
		return "[not configured]"
	}
	if resolved, err := exec.LookPath(path); err == nil {
		return "[found: " + resolved + "]"
	}
	return "[not found; use --demo or set worker_path]"
}
