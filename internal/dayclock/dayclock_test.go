package dayclock

import (
	"testing"
	"time"

	"github.com/avlloyd/remindd/internal/model"
)

func recurringDaily(reminder time.Time, interval int) *model.Task {
	return &model.Task{
		ID:                 1,
		Title:              "daily",
		Type:               model.TaskRecurring,
		RecurrenceType:     model.RecurDaily,
		RecurrenceInterval: interval,
		ReminderTime:       reminder,
		Enabled:            true,
	}
}

// TestDayStart tests logical-day bucketing around the start hour
func TestDayStart(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		hour int
		want time.Time
	}{
		{
			"afternoon belongs to same day",
			time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC), 4,
			time.Date(2025, 1, 10, 4, 0, 0, 0, time.UTC),
		},
		{
			"before start hour belongs to previous day",
			time.Date(2025, 1, 10, 1, 30, 0, 0, time.UTC), 4,
			time.Date(2025, 1, 9, 4, 0, 0, 0, time.UTC),
		},
		{
			"exactly at start hour begins the day",
			time.Date(2025, 1, 10, 4, 0, 0, 0, time.UTC), 4,
			time.Date(2025, 1, 10, 4, 0, 0, 0, time.UTC),
		},
		{
			"midnight start behaves like calendar day",
			time.Date(2025, 1, 10, 0, 0, 1, 0, time.UTC), 0,
			time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayStart(tt.at, tt.hour); !got.Equal(tt.want) {
				t.Errorf("DayStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestIsNewDay tests boundary detection including 01:30 vs 23:00 with a
// 04:00 day start
func TestIsNewDay(t *testing.T) {
	tests := []struct {
		name     string
		last     time.Time
		now      time.Time
		lastHour int
		curHour  int
		want     bool
	}{
		{
			"same afternoon",
			time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC),
			4, 4, false,
		},
		{
			"23:00 to 01:30 stays the same logical day",
			time.Date(2025, 1, 10, 23, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 11, 1, 30, 0, 0, time.UTC),
			4, 4, false,
		},
		{
			"crossing 04:00 is a new day",
			time.Date(2025, 1, 11, 1, 30, 0, 0, time.UTC),
			time.Date(2025, 1, 11, 4, 0, 0, 0, time.UTC),
			4, 4, true,
		},
		{
			"zero last update is always a new day",
			time.Time{},
			time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
			4, 4, true,
		},
		{
			"start-hour change moves the bucket",
			time.Date(2025, 1, 10, 5, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 10, 5, 0, 0, 0, time.UTC),
			4, 6, true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNewDay(tt.last, tt.now, tt.lastHour, tt.curHour); got != tt.want {
				t.Errorf("IsNewDay() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestNextReminderTime_Daily tests the canonical daily advance: a reminder
// at 10:00 checked at 12:00 moves to 10:00 tomorrow
func TestNextReminderTime_Daily(t *testing.T) {
	task := recurringDaily(time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC), 1)
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	next, moved := NextReminderTime(task, now)
	if !moved {
		t.Fatal("NextReminderTime() did not move a past daily reminder")
	}
	want := time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextReminderTime() = %v, want %v", next, want)
	}
}

// TestNextReminderTime_PreservesClock tests hour/minute preservation over
// multi-day catch-up
func TestNextReminderTime_PreservesClock(t *testing.T) {
	task := recurringDaily(time.Date(2025, 1, 1, 9, 45, 0, 0, time.UTC), 1)
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	next, moved := NextReminderTime(task, now)
	if !moved {
		t.Fatal("NextReminderTime() did not move")
	}
	if next.Hour() != 9 || next.Minute() != 45 {
		t.Errorf("clock = %02d:%02d, want 09:45", next.Hour(), next.Minute())
	}
	want := time.Date(2025, 1, 11, 9, 45, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextReminderTime() = %v, want %v (first slot after now)", next, want)
	}
}

// TestNextReminderTime_Weekly tests the 7-day step
func TestNextReminderTime_Weekly(t *testing.T) {
	task := recurringDaily(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC), 1)
	task.RecurrenceType = model.RecurWeekly
	now := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

	next, moved := NextReminderTime(task, now)
	if !moved {
		t.Fatal("NextReminderTime() did not move")
	}
	want := time.Date(2025, 1, 13, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextReminderTime() = %v, want %v", next, want)
	}
}

// TestNextReminderTime_CustomInterval tests the IntervalDays step
func TestNextReminderTime_CustomInterval(t *testing.T) {
	task := &model.Task{
		ID:                 2,
		Title:              "every 3 days",
		Type:               model.TaskInterval,
		RecurrenceType:     model.RecurCustom,
		RecurrenceInterval: 1,
		IntervalDays:       3,
		ReminderTime:       time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC),
		Enabled:            true,
	}
	now := time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)

	next, moved := NextReminderTime(task, now)
	if !moved {
		t.Fatal("NextReminderTime() did not move")
	}
	want := time.Date(2025, 1, 13, 7, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextReminderTime() = %v, want %v", next, want)
	}
}

// TestNextReminderTime_OneTimeNeverAdvances tests the overdue contract for
// one-time tasks
func TestNextReminderTime_OneTimeNeverAdvances(t *testing.T) {
	reminder := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	task := &model.Task{
		ID:           3,
		Title:        "overdue",
		Type:         model.TaskOneTime,
		ReminderTime: reminder,
		Enabled:      true,
	}

	next, moved := NextReminderTime(task, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if moved {
		t.Error("NextReminderTime() moved a one-time task")
	}
	if !next.Equal(reminder) {
		t.Errorf("NextReminderTime() = %v, want unchanged %v", next, reminder)
	}
}

// TestNextReminderTime_FutureUntouched tests that future reminders stay put
func TestNextReminderTime_FutureUntouched(t *testing.T) {
	reminder := time.Date(2025, 1, 12, 10, 0, 0, 0, time.UTC)
	task := recurringDaily(reminder, 1)

	next, moved := NextReminderTime(task, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	if moved {
		t.Error("NextReminderTime() moved a future reminder")
	}
	if !next.Equal(reminder) {
		t.Errorf("NextReminderTime() = %v, want unchanged %v", next, reminder)
	}
}

// TestInTodayView tests logical-day visibility
func TestInTodayView(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		reminder time.Time
		want     bool
	}{
		{"due today", time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC), true},
		{"overdue from last week", time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC), true},
		{"due tomorrow", time.Date(2025, 1, 11, 9, 0, 0, 0, time.UTC), false},
		{"early tomorrow before day start is still today", time.Date(2025, 1, 11, 1, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &model.Task{
				ID:           1,
				Title:        "visibility",
				Type:         model.TaskOneTime,
				ReminderTime: tt.reminder,
				Enabled:      true,
			}
			if got := InTodayView(task, now, 4); got != tt.want {
				t.Errorf("InTodayView() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestInTodayView_CompletedStaysVisible tests that completion does not
// remove a task from today's view
func TestInTodayView_CompletedStaysVisible(t *testing.T) {
	task := &model.Task{
		ID:           1,
		Title:        "done",
		Type:         model.TaskOneTime,
		ReminderTime: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
		Completed:    true,
		Enabled:      true,
	}
	now := time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
	if !InTodayView(task, now, 4) {
		t.Error("InTodayView() = false for completed task due today")
	}
}
