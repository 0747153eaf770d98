// ABOUTME: SQLite-backed transition journal recording every task state change across runs.
// ABOUTME: An append-only history for `taskrunner history`; run_state.json stays the source of truth.
package runner

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// journalFileName is the history database inside the base directory.
const journalFileName = "history.db"

// HistoryEntry is one recorded transition.
type HistoryEntry struct {
	Seq    int64     `json:"seq"`
	RunID  string    `json:"run_id"`
	TaskID int       `json:"task_id"`
	From   TaskState `json:"from"`
	To     TaskState `json:"to"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// Journal appends transitions to a SQLite database. It is a queryable log,
// not the source of truth: losing it never affects a run.
type Journal struct {
	db     *sql.DB
	logger *log.Logger
}

var _ TransitionObserver = (*Journal)(nil)

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS transitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			task_id INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			at TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_task ON transitions(task_id, seq);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// ObserveTransition appends tr. Failures are logged and dropped.
func (j *Journal) ObserveTransition(tr Transition) {
	_, err := j.db.Exec(
		`INSERT INTO transitions (run_id, task_id, from_state, to_state, at, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tr.RunID, tr.TaskID, string(tr.From), string(tr.To),
		tr.At.UTC().Format(time.RFC3339Nano), tr.Detail,
	)
	if err != nil {
		j.logger.Printf("component=journal action=append_failed task=%d err=%v", tr.TaskID, err)
	}
}

// History returns recorded transitions in order. taskID 0 means all tasks.
func (j *Journal) History(taskID int) ([]HistoryEntry, error) {
	query := `SELECT seq, run_id, task_id, from_state, to_state, at, detail FROM transitions`
	var args []any
	if taskID > 0 {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY seq`

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var from, to, at string
		if err := rows.Scan(&e.Seq, &e.RunID, &e.TaskID, &from, &to, &at, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.From = TaskState(from)
		e.To = TaskState(to)
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse history time %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
