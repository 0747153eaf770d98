// ABOUTME: Root cobra command, global flags, and the shared app state every subcommand reads.
// ABOUTME: Maps command errors to process exit codes (0 success, 1 failure, 130 interrupted, 2 fatal).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/2389-research/taskrunner/runner"
)

// app holds global flags and output streams.
type app struct {
	baseDirFlag string
	baseDir     string
	verbose     bool
	stdout      io.Writer
	stderr      io.Writer
}

// exitError carries a specific exit code. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// execute runs the command tree and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskrunner",
		Short: "Run markdown task lists through a worker CLI, one fresh context per task",
		Long: `taskrunner splits a markdown task list into numbered tasks and runs each one
through an external worker CLI (claude by default). Every task gets a freshly
cleared context; its output is saved under results/ and progress is recorded
in the base directory so runs survive crashes.

Examples:
` + examplesHelp + `

` + environmentHelp(),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveBaseDir(a.baseDirFlag)
			if err != nil {
				return err
			}
			a.baseDir = dir
			loadDotEnvAuto(dir)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.baseDirFlag, "base-dir", "d", "", "Project base directory (default: $"+baseDirEnv+" or $XDG_DATA_HOME/taskrunner)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log engine activity and events to stderr")

	root.AddCommand(newCreateCmd(a))
	root.AddCommand(newRunCmd(a))
	root.AddCommand(newRerunCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newCleanCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newMCPCmd(a))
	root.AddCommand(newInitCmd(a))
	return root
}

// logger returns the engine logger: stderr when verbose, silent otherwise.
func (a *app) logger() *log.Logger {
	if a.verbose {
		return log.New(a.stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// loadConfig reads the base directory's config file over the defaults.
func (a *app) loadConfig() (runner.Config, error) {
	cfg, err := runner.LoadConfig(a.baseDir)
	if err != nil {
		return cfg, &exitError{code: 2, err: err}
	}
	return cfg, nil
}

// openRunner opens the base directory. Failures here are fatal (exit 2).
func (a *app) openRunner(cfg runner.Config, opts ...runner.Option) (*runner.Runner, error) {
	opts = append([]runner.Option{runner.WithLogger(a.logger())}, opts...)
	r, err := runner.New(a.baseDir, cfg, opts...)
	if err != nil {
		return nil, &exitError{code: 2, err: err}
	}
	return r, nil
}
