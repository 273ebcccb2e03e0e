// Package tasklog persists task records in SQLite.
package tasklog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/tasks"
)

// InterruptedMessage is recorded on tasks that were still open when the
// previous process exited.
const InterruptedMessage = "interrupted by shutdown"

// Log is a tasks.Store backed by the task_log table.
type Log struct {
	db *sql.DB
}

var _ tasks.Store = (*Log)(nil)

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

func (l *Log) Create(ctx context.Context, snap tasks.Snapshot, params json.RawMessage) error {
	if snap.ID == "" {
		return fmt.Errorf("task id is empty")
	}
	if snap.Kind == "" {
		return fmt.Errorf("task kind is empty")
	}

	var payload any
	if len(params) > 0 {
		payload = string(params)
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO task_log(id, kind, status, phase, progress, message, params, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, snap.ID, snap.Kind, snap.Status, string(snap.Phase), snap.Progress, snap.Message, payload, formatTime(snap.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (l *Log) Update(ctx context.Context, snap tasks.Snapshot) error {
	var lastError any
	if snap.Error != "" {
		lastError = snap.Error
	}

	res, err := l.db.ExecContext(ctx, `
UPDATE task_log
SET status = ?, phase = ?, progress = ?, message = ?, last_error = ?, started_at = ?, completed_at = ?
WHERE id = ?;
`, snap.Status, string(snap.Phase), snap.Progress, snap.Message, lastError,
		formatTimePtr(snap.StartedAt), formatTimePtr(snap.CompletedAt), snap.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", tasks.ErrTaskNotFound, snap.ID)
	}
	return nil
}

func (l *Log) Get(ctx context.Context, id string) (*tasks.Snapshot, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, kind, status, phase, progress, message, last_error, created_at, started_at, completed_at
FROM task_log
WHERE id = ?;
`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", tasks.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}
	return snap, nil
}

// Recent returns up to limit tasks, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]tasks.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, kind, status, phase, progress, message, last_error, created_at, started_at, completed_at
FROM task_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []tasks.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// RecoverInterrupted marks tasks left queued or running by a previous
// process as failed. It returns how many rows changed.
func (l *Log) RecoverInterrupted(ctx context.Context) (int, error) {
	now := formatTime(time.Now())
	res, err := l.db.ExecContext(ctx, `
UPDATE task_log
SET status = ?, phase = ?, last_error = ?, message = ?, completed_at = ?
WHERE status IN (?, ?);
`, tasks.StatusFailed, string(events.PhaseFailed), InterruptedMessage, InterruptedMessage, now,
		tasks.StatusQueued, tasks.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	return int(n), nil
}

// Prune deletes finished tasks completed before now minus retention.
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-retention))
	res, err := l.db.ExecContext(ctx, `
DELETE FROM task_log
WHERE completed_at IS NOT NULL AND completed_at < ?;
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune task log: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(s scanner) (*tasks.Snapshot, error) {
	var (
		snap         tasks.Snapshot
		statusS      string
		phaseS       string
		lastError    sql.NullString
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
	)
	if err := s.Scan(&snap.ID, &snap.Kind, &statusS, &phaseS, &snap.Progress, &snap.Message,
		&lastError, &createdAtS, &startedAtS, &completedAtS); err != nil {
		return nil, err
	}

	snap.Status = tasks.Status(statusS)
	snap.Phase = events.Phase(phaseS)
	if lastError.Valid {
		snap.Error = lastError.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		snap.CreatedAt = t
	}
	snap.StartedAt = parseTimePtr(startedAtS)
	snap.CompletedAt = parseTimePtr(completedAtS)
	return &snap, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
