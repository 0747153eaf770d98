// ABOUTME: Status reporting over the persisted Run Record, as a structured report and as plain text.
// ABOUTME: Reads only durable state, so a report never shows progress that was not persisted.
package runner

import (
	"fmt"
	"strings"
	"time"
)

// StatusReport is the per-task state plus aggregate counts.
type StatusReport struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Tasks     []Task    `json:"tasks"`
	Summary   Summary   `json:"summary"`
	ActivePID int       `json:"active_pid,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newStatusReport builds a report from a record.
func newStatusReport(rec RunRecord, phase Phase) StatusReport {
	sum := summarize(rec.Tasks)
	if phase == "" {
		phase = derivePhase(sum)
	}
	return StatusReport{
		RunID:     rec.RunID,
		Phase:     phase,
		Tasks:     rec.Tasks,
		Summary:   sum,
		ActivePID: rec.ActivePID,
		UpdatedAt: rec.UpdatedAt,
	}
}

// Status reports the current Run Record. An idle runner rereads it from
// disk first so runs by other instances show up.
func (r *Runner) Status() StatusReport {
	if !r.Busy() {
		if _, err := r.store.Load(); err != nil {
			r.logger.Printf("component=runner action=status_reload err=%v", err)
		}
	}
	return newStatusReport(r.store.Snapshot(), r.Phase())
}

// Text renders the report as plain text, one task per line.
func (s StatusReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", s.RunID, s.Phase)
	for _, t := range s.Tasks {
		fmt.Fprintf(&b, "  %3d. %-12s %s", t.ID, "["+string(t.State)+"]", t.Title)
		if d := t.Duration(); d > 0 {
			fmt.Fprintf(&b, " (%s)", d.Round(100*time.Millisecond))
		}
		if t.TimedOut {
			b.WriteString(" timed out")
		}
		if t.Error != "" && t.State != StateCompleted {
			fmt.Fprintf(&b, " - %s", firstLine(t.Error))
		}
		b.WriteByte('\n')
	}
	sum := s.Summary
	fmt.Fprintf(&b, "Total: %d  Completed: %d  Failed: %d  Interrupted: %d  Running: %d  Pending: %d  (%d%% done)\n",
		sum.Total, sum.Completed, sum.Failed, sum.Interrupted, sum.Running, sum.Pending, sum.CompletionPct)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
