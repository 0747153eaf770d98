// ABOUTME: The "taskrunner init" subcommand: writes a commented default taskrunner.yaml into the base directory.
// ABOUTME: Refuses to overwrite an existing file unless --force is given.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/2389-research/taskrunner/runner"
)

const configHeader = `# taskrunner configuration. Every key is optional; missing keys use defaults.
# CLI flags such as --timeout and --demo override these values for one invocation.
`

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default " + runner.ConfigFileName + " into the base directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := writeDefaultConfig(a.baseDir, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

// writeDefaultConfig marshals DefaultConfig to <baseDir>/taskrunner.yaml.
func writeDefaultConfig(baseDir string, force bool) (string, error) {
	path := filepath.Join(baseDir, runner.ConfigFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	data, err := yaml.Marshal(runner.DefaultConfig())
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create base dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
