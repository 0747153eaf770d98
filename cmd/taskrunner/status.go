// ABOUTME: Read-mostly subcommands: status renders the Run Record, clean reconciles it, history lists transitions.
// ABOUTME: Output formats come from the render package (table, text, json, markdown, html).
package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/2389-research/taskrunner/render"
	"github.com/2389-research/taskrunner/runner"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task states and progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runner.Status(a.baseDir)
			if err != nil {
				return err
			}
			if asJSON {
				format = render.FormatJSON
			}
			out, err := render.Render(cmd.Context(), report, format)
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Shorthand for --format json")
	cmd.Flags().StringVarP(&format, "format", "f", render.FormatTable, "Output format: table, text, json, markdown, html")
	return cmd
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Stop lingering workers and mark orphaned running tasks interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := runner.Clean(a.baseDir, cfg, runner.WithLogger(a.logger())); err != nil {
				return err
			}
			report, err := runner.Status(a.baseDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Cleaned up all processes.")
			fmt.Fprint(a.stdout, render.StatusTable(report))
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [task-id]",
		Short: "List recorded state transitions, optionally for one task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid task id %q", args[0])
				}
				id = n
			}
			entries, err := runner.History(a.baseDir, id, a.logger())
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			if asJSON {
				data, err := render.JSON(entries)
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(data)
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "No history recorded.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.stdout, "%5d  %s  task %-3d %-11s -> %-11s %s\n",
					e.Seq, e.At.Local().Format("2006-01-02 15:04:05"), e.TaskID, e.From, e.To, e.Detail)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
