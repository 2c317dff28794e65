// Package engine is the facade exposed to UI/CLI collaborators.
//
// It owns the foreground mutation path: validate, write the cache, enqueue
// the mutation, return, and never wait on the network. The
// background sync driver reconciles later. The engine is explicitly
// constructed by the process's composition root and handed to consumers;
// there is no lazily-initialized global instance.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/avlloyd/remindd/internal/dayclock"
	"github.com/avlloyd/remindd/internal/model"
	"github.com/avlloyd/remindd/internal/queue"
	"github.com/avlloyd/remindd/internal/store"
	"github.com/avlloyd/remindd/internal/sync"
)

// Engine ties the cache store, mutation queue, and sync service together
// behind the operations consumers are allowed to call.
type Engine struct {
	store        *store.Store
	queue        *queue.Queue
	sync         *sync.Service
	dayStartHour func() int
	logger       *log.Logger
}

// New creates an engine. dayStartHour is read per call so setting changes
// apply without restarting. If logger is nil a default stderr logger is
// used.
func New(st *store.Store, q *queue.Queue, svc *sync.Service, dayStartHour func() int, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		store:        st,
		queue:        q,
		sync:         svc,
		dayStartHour: dayStartHour,
		logger:       logger,
	}
}

// Filter selects cached entities for display.
type Filter struct {
	// Type restricts by task type ("" = all).
	Type model.TaskType
	// TodayOnly keeps only tasks in today's view per the logical-day
	// visibility rule.
	TodayOnly bool
	// IncludeDisabled includes logically-deleted rows.
	IncludeDisabled bool
}

// GetCachedEntities returns cached tasks matching the filter. Reads are
// served entirely from the local cache and never touch the network.
func (e *Engine) GetCachedEntities(ctx context.Context, filter Filter) ([]*model.Task, error) {
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{
		Type:            filter.Type,
		IncludeDisabled: filter.IncludeDisabled,
	})
	if err != nil {
		return nil, err
	}
	if !filter.TodayOnly {
		return tasks, nil
	}

	now := time.Now()
	hour := e.dayStartHour()
	visible := tasks[:0]
	for _, task := range tasks {
		if dayclock.InTodayView(task, now, hour) {
			visible = append(visible, task)
		}
	}
	return visible, nil
}

// GetTask returns one cached task and records the access for LRU ranking.
func (e *Engine) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil || task == nil {
		return task, err
	}
	if err := e.store.TouchLastAccessed(ctx, id, time.Now()); err != nil {
		e.logger.Printf("Warning: failed to touch task %d: %v", id, err)
	}
	return task, nil
}

// CreateTask validates and stores a new task locally, assigns a
// placeholder ID, and queues the create for the remote service. Returns
// the task with its placeholder ID.
func (e *Engine) CreateTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	if err := task.Validate(); err != nil {
		return nil, err
	}

	localID, err := e.store.NextLocalID(ctx)
	if err != nil {
		return nil, err
	}
	task.ID = localID

	return task, e.applyAndEnqueue(ctx, model.OpCreate, task)
}

// UpdateTask validates and applies an edit locally, then queues the
// update.
func (e *Engine) UpdateTask(ctx context.Context, task *model.Task) error {
	task.Touch(time.Now())
	if err := task.Validate(); err != nil {
		return err
	}
	return e.applyAndEnqueue(ctx, model.OpUpdate, task)
}

// CompleteTask marks a task done locally and queues the completion.
func (e *Engine) CompleteTask(ctx context.Context, id int64) error {
	return e.toggleCompleted(ctx, id, true, model.OpComplete)
}

// UncompleteTask reverts a completion locally and queues the reversal.
func (e *Engine) UncompleteTask(ctx context.Context, id int64) error {
	return e.toggleCompleted(ctx, id, false, model.OpUncomplete)
}

// DeleteTask logically deletes a task: the row is disabled locally (a
// retention sweep purges it after the server confirms) and the delete is
// queued. A delete that annihilates a pending create removes the row
// outright since the server never saw it.
func (e *Engine) DeleteTask(ctx context.Context, id int64) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return &model.ValidationError{Field: "id", Reason: "task not found in cache"}
	}

	item, err := e.queue.Enqueue(ctx, model.OpDelete, model.EntityTask, id, nil)
	if err != nil {
		return err
	}
	if item == nil && task.Pending() {
		// Create/delete pair annihilated; nothing for the server.
		return e.store.DeleteTask(ctx, id)
	}

	task.Enabled = false
	task.Touch(time.Now())
	return e.store.UpsertTasks(ctx, []*model.Task{task})
}

// TriggerSyncNow runs one reconciliation cycle immediately.
func (e *Engine) TriggerSyncNow(ctx context.Context) (sync.Summary, error) {
	return e.sync.RunCycle(ctx)
}

// ObserveSyncState returns a stream of sync lifecycle states. The current
// state is delivered first.
func (e *Engine) ObserveSyncState() <-chan sync.State {
	return e.sync.Notifier().Subscribe()
}

// Stats are cache/queue counters for the status surface.
type Stats struct {
	Tasks            int64
	PendingMutations int64
	CacheSizeBytes   int64
	QueueSizeBytes   int64
}

// Stats reports current cache and queue counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error
	if stats.Tasks, err = e.store.Count(ctx); err != nil {
		return stats, err
	}
	if stats.PendingMutations, err = e.queue.PendingCount(ctx); err != nil {
		return stats, err
	}
	if stats.CacheSizeBytes, err = e.store.SizeEstimateBytes(ctx); err != nil {
		return stats, err
	}
	if stats.QueueSizeBytes, err = e.queue.PendingSizeBytes(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

func (e *Engine) toggleCompleted(ctx context.Context, id int64, completed bool, op model.Operation) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return &model.ValidationError{Field: "id", Reason: "task not found in cache"}
	}
	task.Completed = completed
	task.Touch(time.Now())
	return e.applyAndEnqueue(ctx, op, task)
}

// applyAndEnqueue is the durable write path: the mutation is recorded in
// the queue and applied to the cache before returning. Both writes go
// through the same SQLite database, so the edit is durable exactly when
// its queue record is.
func (e *Engine) applyAndEnqueue(ctx context.Context, op model.Operation, task *model.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return &model.StorageError{Op: "marshal task", Err: err}
	}
	if _, err := e.queue.Enqueue(ctx, op, model.EntityTask, task.ID, payload); err != nil {
		return err
	}
	return e.store.UpsertTasks(ctx, []*model.Task{task})
}
