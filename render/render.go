// ABOUTME: Renders a run status report as plain text, JSON, a lipgloss table, markdown, or HTML.
// ABOUTME: Provides Render for the status surfaces and Summary for the one-shot CLI run report.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389-research/taskrunner/runner"
)

// Output formats accepted by Render.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// State colors shared by the table renderer and the run summary.
var (
	pendingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	runningStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	completedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	interruptedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	cellStyle        = lipgloss.NewStyle().Padding(0, 1)
)

// markdown renders GitHub-flavored markdown so status tables survive.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Render converts a status report into the requested format.
func Render(ctx context.Context, report runner.StatusReport, format string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch format {
	case FormatText, "":
		return []byte(report.Text()), nil
	case FormatJSON:
		return JSON(report)
	case FormatTable:
		return []byte(StatusTable(report)), nil
	case FormatMarkdown:
		return []byte(Markdown(report)), nil
	case FormatHTML:
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(Markdown(report)), &buf); err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// JSON encodes v indented with a trailing newline.
func JSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

// StyleForState returns the display style for a task state.
func StyleForState(state runner.TaskState) lipgloss.Style {
	switch state {
	case runner.StateRunning:
		return runningStyle
	case runner.StateCompleted:
		return completedStyle
	case runner.StateFailed:
		return failedStyle
	case runner.StateInterrupted:
		return interruptedStyle
	default:
		return pendingStyle
	}
}

// StatusTable renders the report as a bordered table followed by the
// aggregate counts.
func StatusTable(report runner.StatusReport) string {
	tasks := report.Tasks
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))).
		Headers("#", "STATE", "TITLE", "DURATION", "DETAIL").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 1 && row >= 0 && row < len(tasks) {
				return StyleForState(tasks[row].State).Padding(0, 1)
			}
			return cellStyle
		})

	for _, task := range tasks {
		t.Row(
			fmt.Sprintf("%d", task.ID),
			string(task.State),
			task.Title,
			formatDuration(task.Duration()),
			detail(task),
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", report.RunID, report.Phase)
	b.WriteString(t.String())
	b.WriteByte('\n')
	b.WriteString(counts(report.Summary))
	b.WriteByte('\n')
	return b.String()
}

// Markdown renders the report as a markdown document with a task table.
func Markdown(report runner.StatusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", report.RunID)
	fmt.Fprintf(&b, "Phase: **%s**. %s\n\n", report.Phase, counts(report.Summary))
	if len(report.Tasks) == 0 {
		b.WriteString("_No tasks._\n")
		return b.String()
	}
	b.WriteString("| # | State | Title | Duration | Detail |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, task := range report.Tasks {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			task.ID, task.State, escapeCell(task.Title), formatDuration(task.Duration()), escapeCell(detail(task)))
	}
	return b.String()
}

// Summary renders the outcome of one RunAll call for terminal output.
func Summary(sum runner.RunSummary) string {
	var b strings.Builder
	for _, o := range sum.Outcomes {
		style := StyleForState(o.Kind.State())
		fmt.Fprintf(&b, "  %s %s\n", style.Render(fmt.Sprintf("%-11s", o.Kind)), fmt.Sprintf("task %d (%s)", o.TaskID, formatDuration(o.Duration)))
	}

	resultStyle := completedStyle
	switch sum.Result {
	case runner.ResultPartial, runner.ResultInterrupted:
		resultStyle = runningStyle
	case runner.ResultFatal:
		resultStyle = failedStyle
	}
	fmt.Fprintf(&b, "Run %s finished: %s (%s)\n", sum.RunID, resultStyle.Render(string(sum.Result)), sum.Phase)
	b.WriteString(counts(sum.Summary))
	b.WriteByte('\n')
	if sum.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", sum.Error)
	}
	return b.String()
}

func counts(s runner.Summary) string {
	return fmt.Sprintf("%d/%d done (%d%%): %d completed, %d failed, %d interrupted, %d running, %d pending",
		s.Completed+s.Failed, s.Total, s.CompletionPct, s.Completed, s.Failed, s.Interrupted, s.Running, s.Pending)
}

func detail(task runner.Task) string {
	var parts []string
	if task.TimedOut {
		parts = append(parts, "timed out")
	}
	if task.Error != "" && task.State != runner.StateCompleted {
		msg := task.Error
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, ": ")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// formatDuration formats a duration like "0.4s", "12s" or "2m05s"; zero is "-".
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	secs := d.Seconds()
	if secs < 10 {
		return fmt.Sprintf("%.1fs", secs)
	}
	if secs < 60 {
		return fmt.Sprintf("%.0fs", secs)
	}
	return fmt.Sprintf("%dm%02ds", int(secs)/60, int(secs)%60)
}
