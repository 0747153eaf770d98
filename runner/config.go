// ABOUTME: Engine configuration: worker invocation, timeouts, demo mode, reset protocol, and environment overrides.
// ABOUTME: Loaded from <base_dir>/taskrunner.yaml with gopkg.in/yaml.v3 on top of DefaultConfig.
package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional per-project configuration file.
const ConfigFileName = "taskrunner.yaml"

// Output formats understood by the stream parser.
const (
	FormatText       = "text"
	FormatStreamJSON = "stream-json"
)

// Config holds everything the engine needs to drive a worker.
type Config struct {
	WorkerPath          string            `yaml:"worker_path"`
	WorkerArgs          []string          `yaml:"worker_args"`
	OutputFormat        string            `yaml:"output_format"`
	Model               string            `yaml:"model"`
	SkipPermissions     bool              `yaml:"skip_permissions"`
	TimeoutSeconds      int               `yaml:"timeout_seconds"`
	DemoMode            bool              `yaml:"demo_mode"`
	DemoDelayMillis     int               `yaml:"demo_delay_ms"`
	WorkingDirectory    string            `yaml:"working_directory"`
	Env                 map[string]string `yaml:"env"`
	StallTimeoutSeconds int               `yaml:"stall_timeout_seconds"`
	Resume              bool              `yaml:"resume"`
	Reset               ResetConfig       `yaml:"reset"`
}

// ResetConfig tunes the context reset protocol.
type ResetConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Args           []string `yaml:"args"`
	Instruction    string   `yaml:"instruction"`
	AckMarker      string   `yaml:"ack_marker"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// DefaultConfig returns the configuration used when no file or flag
// overrides a value.
func DefaultConfig() Config {
	return Config{
		WorkerPath:          "claude",
		OutputFormat:        FormatStreamJSON,
		TimeoutSeconds:      300,
		StallTimeoutSeconds: 60,
		Reset: ResetConfig{
			Enabled:        true,
			Args:           []string{"--print"},
			Instruction:    "/clear",
			TimeoutSeconds: 10,
			MaxAttempts:    3,
		},
	}
}

// LoadConfig reads <baseDir>/taskrunner.yaml over DefaultConfig. A missing
// file is not an error.
func LoadConfig(baseDir string) (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(baseDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	switch c.OutputFormat {
	case FormatText, FormatStreamJSON:
	default:
		return fmt.Errorf("output_format must be %q or %q, got %q", FormatText, FormatStreamJSON, c.OutputFormat)
	}
	if !c.DemoMode && c.WorkerPath == "" {
		return errors.New("worker_path is required outside demo mode")
	}
	if !c.DemoMode && !c.Reset.Enabled {
		return errors.New("reset.enabled=false is only allowed in demo mode")
	}
	if c.Reset.TimeoutSeconds <= 0 {
		return fmt.Errorf("reset.timeout_seconds must be positive, got %d", c.Reset.TimeoutSeconds)
	}
	if c.Reset.MaxAttempts < 1 {
		return fmt.Errorf("reset.max_attempts must be at least 1, got %d", c.Reset.MaxAttempts)
	}
	if c.DemoDelayMillis < 0 {
		return fmt.Errorf("demo_delay_ms must not be negative, got %d", c.DemoDelayMillis)
	}
	return nil
}

// Timeout is the per-task deadline.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StallTimeout is how long the worker may stay silent before a stall
// warning. Zero disables the watchdog.
func (c Config) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutSeconds) * time.Second
}

// ResetTimeout is the deadline for one reset acknowledgement.
func (c Config) ResetTimeout() time.Duration {
	return time.Duration(c.Reset.TimeoutSeconds) * time.Second
}

// DemoDelay is the simulated processing time per task in demo mode.
func (c Config) DemoDelay() time.Duration {
	return time.Duration(c.DemoDelayMillis) * time.Millisecond
}

// buildEnvironment merges the inherited environment with overrides.
// Overrides win; output is sorted for deterministic invocation.
func (c Config) buildEnvironment() []string {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range c.Env {
		envMap[k] = v
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(envMap))
	for _, k := range keys {
		env = append(env, k+"="+envMap[k])
	}
	return env
}

// workerArgs builds the worker argument list. The instruction is never an
// argument; it arrives on stdin from the scratch file.
func (c Config) workerArgs() []string {
	args := []string{"--print"}
	if c.OutputFormat == FormatStreamJSON {
		// stream-json with --print requires --verbose
		args = append(args, "--verbose", "--output-format", "stream-json")
	}
	args = append(args, "--no-session-persistence")
	if c.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	return append(args, c.WorkerArgs...)
}
