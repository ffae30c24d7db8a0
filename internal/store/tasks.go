package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
)

// Task statuses. A task only moves forward: todo -> in_progress -> done.
// ResetStuck is the single exception, rolling crashed in_progress tasks
// back to todo at startup.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

// Task is one unit of sync work: fetch a single calendar day for a single
// credential. Tasks are durable so an interrupted sync resumes where it
// stopped instead of re-discovering from scratch.
type Task struct {
	ID           string `json:"id"`
	CredentialID string `json:"credentialId"`
	Date         string `json:"date"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
	CompletedAt  *int64 `json:"completedAt,omitempty"`
}

// TaskID derives the deterministic task key. One task per (credential, date)
// pair; re-discovering a date replaces the earlier task rather than queuing
// a second one.
func TaskID(credentialID, date string) string {
	return credentialID + "|" + date
}

// CreateTasks enqueues one task per date for the credential. For each date
// it clears that date's existing facts and writes the task in a single
// transaction: the remote report for a changed day may contain fewer rows
// than before, so stale rows must not survive the re-fetch.
//
// Existing tasks for the same (credential, date) are reset to todo.
func (db *DB) CreateTasks(ctx context.Context, credentialID string, dates []string) error {
	now := ledger.NowMillis()

	for _, date := range dates {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"DELETE FROM sales WHERE credential_id = ? AND date = ?", credentialID, date)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to clear stale facts for %s: %w", date, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO sync_tasks (id, credential_id, date, status, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, NULL)`,
			TaskID(credentialID, date), credentialID, date, TaskTodo, now)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to enqueue task for %s: %w", date, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit task for %s: %w", date, err)
		}
	}
	return nil
}

// Claim moves a task from todo to in_progress. Claiming a task that is not
// in todo returns ErrInvalidTransition, which signals a competing sync loop.
func (db *DB) Claim(ctx context.Context, taskID string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE sync_tasks SET status = ? WHERE id = ? AND status = ?",
		TaskInProgress, taskID, TaskTodo)
	if err != nil {
		return fmt.Errorf("failed to claim task %s: %w", taskID, err)
	}
	return db.requireTransition(res, taskID)
}

// Complete moves a task from in_progress to done and stamps completed_at.
func (db *DB) Complete(ctx context.Context, taskID string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE sync_tasks SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
		TaskDone, ledger.NowMillis(), taskID, TaskInProgress)
	if err != nil {
		return fmt.Errorf("failed to complete task %s: %w", taskID, err)
	}
	return db.requireTransition(res, taskID)
}

// Release moves a task from in_progress back to todo after a failed fetch,
// so the next run retries it.
func (db *DB) Release(ctx context.Context, taskID string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE sync_tasks SET status = ? WHERE id = ? AND status = ?",
		TaskTodo, taskID, TaskInProgress)
	if err != nil {
		return fmt.Errorf("failed to release task %s: %w", taskID, err)
	}
	return db.requireTransition(res, taskID)
}

func (db *DB) requireTransition(res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s", ErrInvalidTransition, taskID)
	}
	return nil
}

// ResetStuck rolls every in_progress task back to todo. Called once at
// process startup: any task still marked in_progress was orphaned by a
// crash, since a healthy run always completes or releases what it claims.
func (db *DB) ResetStuck(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE sync_tasks SET status = ? WHERE status = ?", TaskTodo, TaskInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// Pending returns tasks still in todo, oldest dates first. An empty
// credentialID returns pending work across all credentials.
func (db *DB) Pending(ctx context.Context, credentialID string) ([]Task, error) {
	query := "SELECT id, credential_id, date, status, created_at, completed_at FROM sync_tasks WHERE status = ?"
	args := []any{TaskTodo}
	if credentialID != "" {
		query += " AND credential_id = ?"
		args = append(args, credentialID)
	}
	query += " ORDER BY date ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.CredentialID, &t.Date, &t.Status, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// CountByStatus returns the number of tasks per status, for dashboards.
func (db *DB) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM sync_tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task counts: %w", err)
	}
	return counts, nil
}

// PurgeDone deletes completed tasks and returns how many were removed.
// The queue is a work ledger, not an audit log; done rows only grow it.
func (db *DB) PurgeDone(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM sync_tasks WHERE status = ?", TaskDone)
	if err != nil {
		return 0, fmt.Errorf("failed to purge done tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}
