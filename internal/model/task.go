// Package model provides the data structures shared by the remindd cache,
// queue, and sync layers.
//
// All entities carry wall-clock timestamps used for last-write-wins conflict
// resolution: a merge keeps whichever version of an entity has the newer
// UpdatedAt. Fields are flat so that the remote service can evolve the
// schema additively without breaking older clients.
package model

import (
	"fmt"
	"strings"
	"time"
)

// TaskType classifies how a task's due date behaves over time.
type TaskType string

const (
	// TaskOneTime is due once; a past-due one-time task stays overdue
	// until explicitly completed.
	TaskOneTime TaskType = "one_time"
	// TaskRecurring repeats on a daily/weekly cadence.
	TaskRecurring TaskType = "recurring"
	// TaskInterval repeats every IntervalDays days.
	TaskInterval TaskType = "interval"
)

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskOneTime, TaskRecurring, TaskInterval:
		return true
	}
	return false
}

// Repeats reports whether tasks of this type advance their reminder time
// across day boundaries.
func (t TaskType) Repeats() bool {
	return t == TaskRecurring || t == TaskInterval
}

// RecurrenceType describes the step unit for repeating tasks.
type RecurrenceType string

const (
	// RecurDaily steps the reminder by RecurrenceInterval days.
	RecurDaily RecurrenceType = "daily"
	// RecurWeekly steps the reminder by RecurrenceInterval weeks.
	RecurWeekly RecurrenceType = "weekly"
	// RecurCustom steps the reminder by IntervalDays days.
	RecurCustom RecurrenceType = "custom"
)

// Valid reports whether r is one of the known recurrence types.
func (r RecurrenceType) Valid() bool {
	switch r {
	case RecurDaily, RecurWeekly, RecurCustom:
		return true
	}
	return false
}

// Task represents a single reminder in the local cache.
//
// IDs are assigned by the remote service. A task created while offline
// carries a negative placeholder ID until the create operation is
// acknowledged, at which point the row is rewritten with the server ID.
type Task struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        TaskType `json:"task_type"`

	// Recurrence fields. RecurrenceType and RecurrenceInterval are
	// required for recurring/interval tasks; IntervalDays is the custom
	// step used by interval tasks.
	RecurrenceType     RecurrenceType `json:"recurrence_type,omitempty"`
	RecurrenceInterval int            `json:"recurrence_interval,omitempty"`
	IntervalDays       int            `json:"interval_days,omitempty"`

	// ReminderTime is a logical wall-clock due time with no timezone
	// baked in; day-boundary recomputation preserves its hour/minute.
	ReminderTime time.Time `json:"reminder_time"`

	GroupID         int64   `json:"group_id,omitempty"`
	Enabled         bool    `json:"enabled"`
	Completed       bool    `json:"completed"`
	AssignedUserIDs []int64 `json:"assigned_user_ids,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`
	LastShownAt  time.Time `json:"last_shown_at,omitempty"`
}

// Validate checks the task's invariants. Recurring and interval tasks must
// carry a recurrence type and a positive step; violating this is an error,
// never a silent default.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if !t.Type.Valid() {
		return &ValidationError{Field: "task_type", Reason: fmt.Sprintf("unknown task type %q", string(t.Type))}
	}
	if t.Type.Repeats() {
		if !t.RecurrenceType.Valid() {
			return &ValidationError{Field: "recurrence_type", Reason: "recurring/interval tasks require a recurrence type"}
		}
		if t.RecurrenceInterval <= 0 {
			return &ValidationError{Field: "recurrence_interval", Reason: fmt.Sprintf("recurrence interval must be positive (got %d)", t.RecurrenceInterval)}
		}
		if t.RecurrenceType == RecurCustom && t.IntervalDays <= 0 {
			return &ValidationError{Field: "interval_days", Reason: fmt.Sprintf("custom recurrence requires positive interval days (got %d)", t.IntervalDays)}
		}
	}
	if t.ReminderTime.IsZero() {
		return &ValidationError{Field: "reminder_time", Reason: "reminder time is required"}
	}
	return nil
}

// Pending reports whether the task was created locally and has not yet been
// assigned a server ID.
func (t *Task) Pending() bool {
	return t.ID < 0
}

// Touch sets UpdatedAt to now. Call this whenever a user edit modifies
// any field.
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = now
}
