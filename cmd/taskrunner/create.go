// ABOUTME: The create subcommand: split a markdown task list into instruction files and a fresh Run Record.
// ABOUTME: Existing tasks are kept unless --replace is given.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389-research/taskrunner/runner"
	"github.com/2389-research/taskrunner/tasklist"
)

func newCreateCmd(a *app) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "create <task_list.md>",
		Short: "Create tasks from a markdown task list",
		Long: `Create tasks from a markdown task list. Each "## Task N: Title" heading starts
a task; everything up to the next task heading becomes its instruction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := tasklist.ParseFile(args[0])
			if err != nil {
				return err
			}
			tasks, err := runner.CreateProject(a.baseDir, descs, replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Created %d tasks in %s\n", len(tasks), a.baseDir)
			for _, t := range tasks {
				fmt.Fprintf(a.stdout, "  %3d. %s\n", t.ID, t.Title)
			}
			fmt.Fprintln(a.stdout, "Run them with: taskrunner run")
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace existing tasks and results")
	return cmd
}
