// ABOUTME: Tests for config loading from taskrunner.yaml, validation, worker args, and environment merging.
package runner

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Timeout() != 300*time.Second {
		t.Errorf("default timeout = %s", cfg.Timeout())
	}
	if cfg.Reset.MaxAttempts != 3 {
		t.Errorf("default reset attempts = %d", cfg.Reset.MaxAttempts)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.WorkerPath != "claude" {
		t.Errorf("worker = %q, want default", cfg.WorkerPath)
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	yml := `
worker_path: /usr/local/bin/worker
timeout_seconds: 42
output_format: text
env:
  FOO: bar
reset:
  max_attempts: 5
  ack_marker: READY
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.WorkerPath != "/usr/local/bin/worker" || cfg.TimeoutSeconds != 42 || cfg.OutputFormat != FormatText {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Reset.MaxAttempts != 5 || cfg.Reset.AckMarker != "READY" {
		t.Errorf("reset overrides not applied: %+v", cfg.Reset)
	}
	if cfg.Reset.Instruction != "/clear" || cfg.StallTimeoutSeconds != 60 {
		t.Errorf("defaults lost under overlay: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "timeout_seconds: [",
		"zero timeout":   "timeout_seconds: 0",
		"unknown format": "output_format: xml",
		"no attempts":    "reset:\n  max_attempts: 0",
		"reset disabled": "reset:\n  enabled: false",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(dir); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDemoModeMayDisableReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DemoMode = true
	cfg.WorkerPath = ""
	cfg.Reset.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("demo config rejected: %v", err)
	}
}

func TestWorkerArgs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model = "sonnet"
	cfg.SkipPermissions = true
	cfg.WorkerArgs = []string{"--extra"}
	args := cfg.workerArgs()
	for _, want := range []string{"--print", "--verbose", "stream-json", "--dangerously-skip-permissions", "sonnet", "--extra"} {
		if !slices.Contains(args, want) {
			t.Errorf("args %v missing %q", args, want)
		}
	}
	if args[len(args)-1] != "--extra" {
		t.Errorf("extra args should come last: %v", args)
	}

	cfg = DefaultConfig()
	cfg.OutputFormat = FormatText
	if slices.Contains(cfg.workerArgs(), "--output-format") {
		t.Error("text mode should not request stream-json")
	}
}

func TestBuildEnvironmentOverrides(t *testing.T) {
	t.Setenv("TASKRUNNER_TEST_VAR", "inherited")
	cfg := DefaultConfig()
	cfg.Env = map[string]string{"TASKRUNNER_TEST_VAR": "override", "TASKRUNNER_NEW": "1"}
	env := cfg.buildEnvironment()
	if !slices.Contains(env, "TASKRUNNER_TEST_VAR=override") || !slices.Contains(env, "TASKRUNNER_NEW=1") {
		t.Errorf("overrides missing from env")
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "TASKRUNNER_TEST_VAR=inherited") {
			t.Error("inherited value not overridden")
		}
	}
}
