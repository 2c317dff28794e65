package dayclock

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/avlloyd/remindd/internal/model"
	"github.com/avlloyd/remindd/internal/store"
)

// Metadata keys persisted across restarts. The engine records when it last
// recomputed and with which day-start hour, so a boundary crossed while the
// process was down is caught on the next startup or sync cycle.
const (
	metaLastBoundary  = "last_day_boundary"
	metaLastStartHour = "last_day_start_hour"
)

// Engine recomputes due dates for cached repeating tasks when a logical
// day boundary passes.
type Engine struct {
	store  *store.Store
	logger *log.Logger
}

// NewEngine creates a day-boundary engine over the cache store.
// If logger is nil a default stderr logger is used.
func NewEngine(st *store.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[dayclock] ", log.LstdFlags)
	}
	return &Engine{store: st, logger: logger}
}

// RecomputeIfNewDay runs a recompute pass when now falls in a different
// logical day than the last recorded pass. Returns the number of tasks
// whose reminders advanced, or 0 when no boundary was crossed.
func (e *Engine) RecomputeIfNewDay(ctx context.Context, now time.Time, dayStartHour int) (int, error) {
	lastBoundary, lastHour, err := e.lastRun(ctx, dayStartHour)
	if err != nil {
		return 0, err
	}
	if !IsNewDay(lastBoundary, now, lastHour, dayStartHour) {
		return 0, nil
	}
	return e.Recompute(ctx, now, dayStartHour)
}

// Recompute advances the reminder time of every cached repeating task whose
// due time fell behind now, then records the pass. Individual task failures
// are logged and skipped so one bad row cannot wedge the boundary forever.
func (e *Engine) Recompute(ctx context.Context, now time.Time, dayStartHour int) (int, error) {
	advanced := 0
	for _, taskType := range []model.TaskType{model.TaskRecurring, model.TaskInterval} {
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{Type: taskType})
		if err != nil {
			return advanced, fmt.Errorf("failed to list %s tasks: %w", taskType, err)
		}
		for _, task := range tasks {
			next, moved := NextReminderTime(task, now)
			if !moved {
				continue
			}
			if err := e.store.UpdateReminderTime(ctx, task.ID, next); err != nil {
				e.logger.Printf("Warning: failed to advance reminder for task %d: %v", task.ID, err)
				continue
			}
			advanced++
		}
	}

	if err := e.recordRun(ctx, now, dayStartHour); err != nil {
		return advanced, err
	}
	if advanced > 0 {
		e.logger.Printf("Day boundary: advanced %d reminders", advanced)
	}
	return advanced, nil
}

// lastRun reads the persisted boundary bookkeeping. A missing record means
// the engine has never run; IsNewDay treats the zero time as a new day.
func (e *Engine) lastRun(ctx context.Context, fallbackHour int) (time.Time, int, error) {
	raw, err := e.store.GetMeta(ctx, metaLastBoundary)
	if err != nil {
		return time.Time{}, fallbackHour, err
	}
	if raw == "" {
		return time.Time{}, fallbackHour, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fallbackHour, nil
	}

	hour := fallbackHour
	if rawHour, err := e.store.GetMeta(ctx, metaLastStartHour); err == nil && rawHour != "" {
		if h, err := strconv.Atoi(rawHour); err == nil {
			hour = h
		}
	}
	return time.UnixMilli(ms), hour, nil
}

func (e *Engine) recordRun(ctx context.Context, now time.Time, dayStartHour int) error {
	if err := e.store.SetMeta(ctx, metaLastBoundary, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return err
	}
	return e.store.SetMeta(ctx, metaLastStartHour, strconv.Itoa(dayStartHour))
}
