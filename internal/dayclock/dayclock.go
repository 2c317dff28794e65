// Package dayclock implements logical-day arithmetic for reminder due
// dates.
//
// A logical day starts at a configurable hour (for example 04:00), not at
// midnight: a timestamp belongs to the logical day that began at the most
// recent day-start hour at or before it. All due-date recomputation and
// visibility decisions use logical-day buckets so that a reminder checked
// at 01:30 still counts as "yesterday's" when the day starts at 04:00.
package dayclock

import (
	"time"

	"github.com/avlloyd/remindd/internal/model"
)

// DayStart returns the start of the logical day containing t: the most
// recent occurrence of dayStartHour at or before t.
func DayStart(t time.Time, dayStartHour int) time.Time {
	start := time.Date(t.Year(), t.Month(), t.Day(), dayStartHour, 0, 0, 0, t.Location())
	if t.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// IsNewDay reports whether now falls in a different logical day than
// lastUpdate. Each timestamp is bucketed with the day-start hour that was
// in effect at its time, so a user changing the setting between the two
// observations cannot suppress or duplicate a boundary.
func IsNewDay(lastUpdate, now time.Time, lastDayStartHour, currentDayStartHour int) bool {
	if lastUpdate.IsZero() {
		return true
	}
	return !DayStart(lastUpdate, lastDayStartHour).Equal(DayStart(now, currentDayStartHour))
}

// NextReminderTime advances a repeating task's reminder past now,
// preserving the original hour and minute.
//
// Recurring tasks step by RecurrenceInterval days (daily) or weeks
// (weekly); interval tasks step by IntervalDays. The reminder is advanced
// repeatedly until strictly in the future. One-time tasks never advance: a
// past one-time task stays visible as overdue until completed.
//
// The second return value reports whether the reminder moved.
func NextReminderTime(task *model.Task, now time.Time) (time.Time, bool) {
	if !task.Type.Repeats() {
		return task.ReminderTime, false
	}
	if task.ReminderTime.After(now) {
		return task.ReminderTime, false
	}

	stepDays := stepDays(task)
	if stepDays <= 0 {
		return task.ReminderTime, false
	}

	next := task.ReminderTime
	for !next.After(now) {
		next = next.AddDate(0, 0, stepDays)
	}
	return next, true
}

// stepDays returns the recurrence step in days for a repeating task.
func stepDays(task *model.Task) int {
	switch task.RecurrenceType {
	case model.RecurDaily:
		return task.RecurrenceInterval
	case model.RecurWeekly:
		return 7 * task.RecurrenceInterval
	case model.RecurCustom:
		return task.IntervalDays
	default:
		return 0
	}
}

// InTodayView reports whether a task belongs in today's view.
//
// One-time tasks are visible once due today or overdue, regardless of
// completed or enabled state; they leave the view only through an explicit
// completion plus a later retention pass. Repeating tasks are visible when
// their current due date falls in or before today's logical day, regardless
// of the completed flag for that occurrence.
func InTodayView(task *model.Task, now time.Time, dayStartHour int) bool {
	due := DayStart(task.ReminderTime, dayStartHour)
	today := DayStart(now, dayStartHour)
	return !due.After(today)
}
