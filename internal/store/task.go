package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/avlloyd/remindd/internal/model"
)

// Per-row fixed overhead added to field lengths when estimating cache
// size. The estimate only needs to be monotonic and comparable for
// eviction ranking, not an exact serialized size.
const rowOverheadBytes = 96

// EstimateTaskSize returns the approximate byte cost of caching a task.
func EstimateTaskSize(t *model.Task) int64 {
	size := int64(rowOverheadBytes)
	size += int64(len(t.Title) + len(t.Description))
	size += int64(8 * len(t.AssignedUserIDs))
	return size
}

// UpsertTasks inserts or updates tasks using last-write-wins by UpdatedAt.
//
// A write whose UpdatedAt is older than the stored row is silently ignored
// (not an error) to tolerate out-of-order merges. Upserting the same
// version twice is a no-op.
func (s *Store) UpsertTasks(ctx context.Context, tasks []*model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &model.StorageError{Op: "upsert tasks", Err: err}
	}
	defer tx.Rollback()

	query := `
	INSERT INTO tasks (
		id, title, description, task_type, recurrence_type,
		recurrence_interval, interval_days, reminder_time, group_id,
		enabled, completed, assigned_user_ids, created_at, updated_at,
		last_accessed, last_shown_at, size_estimate
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		task_type = excluded.task_type,
		recurrence_type = excluded.recurrence_type,
		recurrence_interval = excluded.recurrence_interval,
		interval_days = excluded.interval_days,
		reminder_time = excluded.reminder_time,
		group_id = excluded.group_id,
		enabled = excluded.enabled,
		completed = excluded.completed,
		assigned_user_ids = excluded.assigned_user_ids,
		updated_at = excluded.updated_at,
		last_shown_at = excluded.last_shown_at,
		size_estimate = excluded.size_estimate
	WHERE excluded.updated_at >= tasks.updated_at
	`

	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("invalid task %d: %w", task.ID, err)
		}
		usersJSON, err := json.Marshal(task.AssignedUserIDs)
		if err != nil {
			return &model.StorageError{Op: "upsert tasks", Err: err}
		}
		_, err = tx.ExecContext(ctx, query,
			task.ID,
			task.Title,
			task.Description,
			string(task.Type),
			string(task.RecurrenceType),
			task.RecurrenceInterval,
			task.IntervalDays,
			timeToMillis(task.ReminderTime),
			task.GroupID,
			boolToInt(task.Enabled),
			boolToInt(task.Completed),
			string(usersJSON),
			timeToMillis(task.CreatedAt),
			timeToMillis(task.UpdatedAt),
			timeToMillis(task.LastAccessed),
			timeToMillis(task.LastShownAt),
			EstimateTaskSize(task),
		)
		if err != nil {
			return &model.StorageError{Op: "upsert tasks", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &model.StorageError{Op: "upsert tasks", Err: err}
	}
	return nil
}

// GetTask retrieves a single task by ID. Returns (nil, nil) if the task is
// not cached.
func (s *Store) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	row := s.conn.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get task", Err: err}
	}
	return task, nil
}

// DeleteTask removes a task from the cache. Idempotent.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return &model.StorageError{Op: "delete task", Err: err}
	}
	return nil
}

// ReplaceTaskID rewrites a locally-assigned placeholder ID with the
// server-assigned ID after a create is acknowledged.
func (s *Store) ReplaceTaskID(ctx context.Context, oldID, newID int64) error {
	if _, err := s.conn.ExecContext(ctx, `UPDATE tasks SET id = ? WHERE id = ?`, newID, oldID); err != nil {
		return &model.StorageError{Op: "replace task id", Err: err}
	}
	return nil
}

// TaskFilter configures ListTasks.
type TaskFilter struct {
	// Type filters by task type ("" = all types).
	Type model.TaskType
	// IncludeDisabled includes logically-deleted (enabled=false) rows.
	IncludeDisabled bool
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// ListTasks retrieves tasks matching the filter, ordered by reminder time
// ascending, then by ID.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*model.Task, error) {
	var conditions []string
	var args []interface{}

	if filter.Type != "" {
		conditions = append(conditions, "task_type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.IncludeDisabled {
		conditions = append(conditions, "enabled = 1")
	}

	query := taskSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY reminder_time ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list tasks", Err: err}
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListTasksByDateRange retrieves enabled tasks whose reminder time falls in
// [from, to), ordered by reminder time.
func (s *Store) ListTasksByDateRange(ctx context.Context, from, to time.Time) ([]*model.Task, error) {
	rows, err := s.conn.QueryContext(ctx,
		taskSelect+` WHERE enabled = 1 AND reminder_time >= ? AND reminder_time < ?
		ORDER BY reminder_time ASC, id ASC`,
		timeToMillis(from), timeToMillis(to))
	if err != nil {
		return nil, &model.StorageError{Op: "list tasks by range", Err: err}
	}
	defer rows.Close()

	return scanTasks(rows)
}

// TouchLastAccessed records a read of the task for LRU eviction ranking.
// Missing rows are ignored.
func (s *Store) TouchLastAccessed(ctx context.Context, id int64, now time.Time) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET last_accessed = ? WHERE id = ?`, timeToMillis(now), id); err != nil {
		return &model.StorageError{Op: "touch last accessed", Err: err}
	}
	return nil
}

// UpdateReminderTime rewrites a task's reminder time without bumping
// updated_at. Day-boundary recomputation is derived local state; bumping
// the version here would make last-write-wins ignore older-but-unseen
// remote edits.
func (s *Store) UpdateReminderTime(ctx context.Context, id int64, reminder time.Time) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET reminder_time = ? WHERE id = ?`, timeToMillis(reminder), id); err != nil {
		return &model.StorageError{Op: "update reminder time", Err: err}
	}
	return nil
}

// SizeEstimateBytes returns the approximate aggregate byte cost of all
// cached entities plus the pending queue payloads.
func (s *Store) SizeEstimateBytes(ctx context.Context) (int64, error) {
	var total int64
	query := `
	SELECT
		COALESCE((SELECT SUM(size_estimate) FROM tasks), 0) +
		COALESCE((SELECT SUM(size_estimate) FROM users), 0) +
		COALESCE((SELECT SUM(size_estimate) FROM groups), 0) +
		COALESCE((SELECT SUM(size_bytes) FROM queue WHERE status != 'synced'), 0)
	`
	if err := s.conn.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, &model.StorageError{Op: "size estimate", Err: err}
	}
	return total, nil
}

// Count returns the number of cached tasks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, &model.StorageError{Op: "count tasks", Err: err}
	}
	return count, nil
}

// EvictableTask is a retention candidate: a logically-inactive row with its
// LRU rank and size contribution.
type EvictableTask struct {
	ID           int64
	LastAccessed time.Time
	SizeEstimate int64
}

// ListEvictable returns enabled=false tasks ordered by last_accessed
// ascending (true LRU). Active tasks are never candidates.
func (s *Store) ListEvictable(ctx context.Context, limit int) ([]EvictableTask, error) {
	query := `
	SELECT id, last_accessed, size_estimate FROM tasks
	WHERE enabled = 0
	ORDER BY last_accessed ASC, id ASC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list evictable", Err: err}
	}
	defer rows.Close()

	var out []EvictableTask
	for rows.Next() {
		var e EvictableTask
		var accessed int64
		if err := rows.Scan(&e.ID, &accessed, &e.SizeEstimate); err != nil {
			return nil, &model.StorageError{Op: "list evictable", Err: err}
		}
		e.LastAccessed = millisToTime(accessed)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list evictable", Err: err}
	}
	return out, nil
}

const taskSelect = `
	SELECT id, title, description, task_type, recurrence_type,
	       recurrence_interval, interval_days, reminder_time, group_id,
	       enabled, completed, assigned_user_ids, created_at, updated_at,
	       last_accessed, last_shown_at
	FROM tasks`

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var task model.Task
	var taskType, recurType, usersJSON string
	var reminder, created, updated, accessed, shown int64
	var enabled, completed int

	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&taskType,
		&recurType,
		&task.RecurrenceInterval,
		&task.IntervalDays,
		&reminder,
		&task.GroupID,
		&enabled,
		&completed,
		&usersJSON,
		&created,
		&updated,
		&accessed,
		&shown,
	)
	if err != nil {
		return nil, err
	}

	task.Type = model.TaskType(taskType)
	task.RecurrenceType = model.RecurrenceType(recurType)
	task.ReminderTime = millisToTime(reminder)
	task.Enabled = enabled != 0
	task.Completed = completed != 0
	task.CreatedAt = millisToTime(created)
	task.UpdatedAt = millisToTime(updated)
	task.LastAccessed = millisToTime(accessed)
	task.LastShownAt = millisToTime(shown)

	if usersJSON != "" && usersJSON != "null" {
		if err := json.Unmarshal([]byte(usersJSON), &task.AssignedUserIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assigned users: %w", err)
		}
	}

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "scan task", Err: err}
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "scan tasks", Err: err}
	}
	return tasks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
