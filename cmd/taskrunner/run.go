// ABOUTME: The run and rerun subcommands: execute pending tasks (plain, inline progress, or dashboard) or one task.
// ABOUTME: Flag overrides apply on top of taskrunner.yaml; the run result picks the process exit code.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/2389-research/taskrunner/render"
	"github.com/2389-research/taskrunner/runner"
	"github.com/2389-research/taskrunner/tui"
)

// runFlags are the per-invocation overrides for run and rerun.
type runFlags struct {
	timeout         int
	demo            bool
	resume          bool
	model           string
	skipPermissions bool
	tui             bool
	progress        bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "Per-task timeout in seconds (default from config, 300)")
	cmd.Flags().BoolVar(&f.demo, "demo", false, "Simulate the worker with canned output")
	cmd.Flags().StringVar(&f.model, "model", "", "Model passed to the worker")
	cmd.Flags().BoolVar(&f.skipPermissions, "skip-permissions", false, "Pass --dangerously-skip-permissions to the worker")
}

// apply overrides cfg with flags the user actually set.
func (f *runFlags) apply(cmd *cobra.Command, cfg *runner.Config) error {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		if f.timeout <= 0 {
			return fmt.Errorf("--timeout must be positive, got %d", f.timeout)
		}
		cfg.TimeoutSeconds = f.timeout
	}
	if flags.Changed("demo") {
		cfg.DemoMode = f.demo
	}
	if flags.Changed("resume") {
		cfg.Resume = f.resume
	}
	if flags.Changed("model") {
		cfg.Model = f.model
	}
	if flags.Changed("skip-permissions") {
		cfg.SkipPermissions = f.skipPermissions
	}
	return cfg.Validate()
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all pending tasks in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return &exitError{code: 2, err: err}
			}
			switch {
			case f.tui:
				return a.runDashboard(cmd.Context(), cfg)
			case f.progress:
				return a.runProgress(cmd.Context(), cfg)
			default:
				return a.runPlain(cmd.Context(), cfg)
			}
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.resume, "resume", false, "Re-queue interrupted tasks before running")
	cmd.Flags().BoolVar(&f.tui, "tui", false, "Show the full-screen dashboard")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "Show inline progress instead of log lines")
	cmd.MarkFlagsMutuallyExclusive("tui", "progress")
	return cmd
}

func (a *app) runPlain(ctx context.Context, cfg runner.Config) error {
	var opts []runner.Option
	if a.verbose {
		opts = append(opts, runner.WithEventHandler(verboseEventHandler(a.stderr)))
	}
	r, err := a.openRunner(cfg, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	sum := r.RunAll(ctx)
	fmt.Fprint(a.stdout, render.Summary(sum))
	return exitFor(sum)
}

// runDashboard drives the run from the full-screen dashboard.
func (a *app) runDashboard(ctx context.Context, cfg runner.Config) error {
	return a.runProgram(ctx, cfg, func(ctx context.Context, cancel context.CancelFunc, r *runner.Runner) (tea.Model, <-chan runner.RunSummary, []tea.ProgramOption) {
		m := tui.NewAppModel(ctx, cancel, r)
		return m, m.ResultCh(), []tea.ProgramOption{tea.WithAltScreen()}
	})
}

// runProgress drives the run from the inline progress view.
func (a *app) runProgress(ctx context.Context, cfg runner.Config) error {
	return a.runProgram(ctx, cfg, func(ctx context.Context, cancel context.CancelFunc, r *runner.Runner) (tea.Model, <-chan runner.RunSummary, []tea.ProgramOption) {
		m := tui.NewStreamModel(ctx, cancel, r, a.verbose)
		return m, m.ResultCh(), []tea.ProgramOption{tea.WithOutput(a.stderr)}
	})
}

type modelFactory func(ctx context.Context, cancel context.CancelFunc, r *runner.Runner) (tea.Model, <-chan runner.RunSummary, []tea.ProgramOption)

// runProgram runs r inside a Bubble Tea program. Engine logs are silenced
// because they would corrupt the terminal; events reach the view through
// the bridge instead.
func (a *app) runProgram(parent context.Context, cfg runner.Config, build modelFactory) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var bridge *tui.EventBridge
	r, err := a.openRunner(cfg,
		runner.WithLogger(log.New(io.Discard, "", 0)),
		runner.WithEventHandler(func(evt runner.EngineEvent) {
			if bridge != nil {
				bridge.HandleEvent(evt)
			}
		}),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	model, results, popts := build(ctx, cancel, r)
	p := tea.NewProgram(model, popts...)
	bridge = tui.NewEventBridge(p.Send)

	// a termination signal behaves like pressing ctrl+c
	stopWatch := context.AfterFunc(parent, func() {
		p.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
	})
	defer stopWatch()

	if _, err := p.Run(); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("terminal UI: %w", err)}
	}

	select {
	case sum := <-results:
		fmt.Fprint(a.stdout, render.Summary(sum))
		return exitFor(sum)
	default:
		return &exitError{code: runner.ResultInterrupted.ExitCode(), err: errors.New("run did not report a result")}
	}
}

func newRerunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "rerun <task-id>",
		Short: "Run one task again, whatever its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id < 1 {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return &exitError{code: 2, err: err}
			}

			var opts []runner.Option
			if a.verbose {
				opts = append(opts, runner.WithEventHandler(verboseEventHandler(a.stderr)))
			}
			r, err := a.openRunner(cfg, opts...)
			if err != nil {
				return err
			}
			defer r.Close()

			o, err := r.RunOne(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, outcomeText(o))
			switch o.Kind {
			case runner.OutcomeCompleted:
				return nil
			case runner.OutcomeInterrupted:
				return &exitError{code: runner.ResultInterrupted.ExitCode()}
			default:
				return &exitError{code: runner.ResultPartial.ExitCode()}
			}
		},
	}
	f.register(cmd)
	return cmd
}

// outcomeText describes a single-task outcome.
func outcomeText(o runner.TaskOutcome) string {
	s := fmt.Sprintf("Task %d %s in %s (exit %d)\n", o.TaskID, o.Kind, o.Duration.Round(100*time.Millisecond), o.ExitCode)
	if o.Error != "" {
		s += "Error: " + o.Error + "\n"
	}
	if o.ResultPath != "" {
		s += "Result: " + o.ResultPath + "\n"
	}
	return s
}

// exitFor maps a run summary to the command's error.
func exitFor(sum runner.RunSummary) error {
	code := sum.Result.ExitCode()
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}

// verboseEventHandler prints lifecycle events to w. Output chunks are
// skipped; they go to the result artifact.
func verboseEventHandler(w io.Writer) func(runner.EngineEvent) {
	return func(evt runner.EngineEvent) {
		switch evt.Type {
		case runner.EventRunStarted:
			fmt.Fprintf(w, "[run] %v started\n", evt.Data["run_id"])
		case runner.EventRunCompleted, runner.EventRunAborted:
			if msg, _ := evt.Data["error"].(string); msg != "" {
				fmt.Fprintf(w, "[run] %v: %s\n", evt.Data["result"], msg)
			} else {
				fmt.Fprintf(w, "[run] %v\n", evt.Data["result"])
			}
		case runner.EventResetFailed:
			fmt.Fprintf(w, "[reset] attempt %v failed: %v\n", evt.Data["attempt"], evt.Data["error"])
		case runner.EventTaskStarted:
			fmt.Fprintf(w, "[task] %d started: %v\n", evt.TaskID, evt.Data["title"])
		case runner.EventTaskCompleted:
			fmt.Fprintf(w, "[task] %d completed (%v)\n", evt.TaskID, evt.Data["duration"])
		case runner.EventTaskFailed, runner.EventTaskTimedOut, runner.EventTaskInterrupt:
			fmt.Fprintf(w, "[task] %d %s: %v\n", evt.TaskID, evt.Type, evt.Data["error"])
		case runner.EventTaskStalled:
			fmt.Fprintf(w, "[task] %d silent for %v\n", evt.TaskID, evt.Data["silent"])
		case runner.EventStreamMalformed:
			fmt.Fprintf(w, "[stream] task %d: %v\n", evt.TaskID, evt.Data["error"])
		}
	}
}
