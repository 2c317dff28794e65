// Package sync implements the push/pull reconciliation protocol between
// the local cache and the remote reminder service.
//
// Reconciliation always pushes before pulling so that a crash mid-cycle
// can never let stale remote data clobber a locally-pending change: a
// pending edit either reaches the server first, or its newer UpdatedAt
// protects it from the pull merge's last-write-wins rule.
//
// The remote service is the sole arbiter of conflicting concurrent edits.
// The engine performs no three-way merges; a push rejected for a version
// mismatch is a retryable failure, and the following pull's overwrite is
// the resolution mechanism.
package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/avlloyd/remindd/internal/dayclock"
	"github.com/avlloyd/remindd/internal/model"
	"github.com/avlloyd/remindd/internal/queue"
	"github.com/avlloyd/remindd/internal/remote"
	"github.com/avlloyd/remindd/internal/retention"
	"github.com/avlloyd/remindd/internal/store"
)

// Metadata keys persisting the last-pull content hash per entity type.
const (
	metaHashTasks  = "last_pull_hash_tasks"
	metaHashUsers  = "last_pull_hash_users"
	metaHashGroups = "last_pull_hash_groups"
)

// syncedRetention is how long acknowledged queue items linger before the
// garbage-collection sweep removes them.
const syncedRetention = 24 * time.Hour

// Settings are the configuration values consumed at the start of each
// cycle. They come from a read-only config source the engine does not own.
type Settings struct {
	// DayStartHour is the logical-day start used for due-date recompute.
	DayStartHour int
	// PushBatchSize bounds how many queue items one cycle drains.
	PushBatchSize int
	// QueueCeilingBytes triggers payload compaction of the largest
	// pending items when the queue's aggregate size exceeds it. Zero
	// disables compaction.
	QueueCeilingBytes int64
}

// SettingsFunc supplies the current settings; it is called once per cycle
// so config edits take effect on the next cycle without a restart.
type SettingsFunc func() Settings

// Summary reports what one reconciliation cycle did.
type Summary struct {
	Pushed      int
	PushFailed  int
	PushSkipped int

	// Pulled counts merged entities per type. A type absent from the map
	// was skipped because its content hash was unchanged.
	Pulled map[model.EntityType]int

	RemindersAdvanced int
	Evicted           int
	OverageBytes      int64
	Duration          time.Duration
}

// Service runs reconciliation cycles.
type Service struct {
	store     *store.Store
	queue     *queue.Queue
	remote    remote.Client
	day       *dayclock.Engine
	retention *retention.Policy
	notifier  *Notifier
	settings  SettingsFunc
	logger    *log.Logger

	// One cycle at a time; TriggerSyncNow and the background driver
	// serialize here.
	mu sync.Mutex
}

// New creates a sync service. If logger is nil a default stderr logger is
// used.
func New(st *store.Store, q *queue.Queue, rc remote.Client, day *dayclock.Engine, ret *retention.Policy, settings SettingsFunc, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Service{
		store:     st,
		queue:     q,
		remote:    rc,
		day:       day,
		retention: ret,
		notifier:  NewNotifier(),
		settings:  settings,
		logger:    logger,
	}
}

// Notifier returns the sync-state notifier for observers.
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// RunCycle performs one push/pull reconciliation round.
//
// The cycle is safe to abandon via ctx: each queue item transitions state
// atomically, so cancellation mid-push leaves the queue consistent and
// resumable. Errors are recorded in the observable sync state as well as
// returned.
func (s *Service) RunCycle(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	cfg := s.settings()
	summary := Summary{Pulled: make(map[model.EntityType]int)}

	s.notifier.setSyncing()

	pushErr := s.push(ctx, cfg, &summary)
	pullErr := s.pull(ctx, cfg, &summary)

	// Post-merge housekeeping runs even when the network was down: day
	// boundaries pass and retention pressure builds regardless.
	if advanced, err := s.day.RecomputeIfNewDay(ctx, time.Now(), cfg.DayStartHour); err != nil {
		s.logger.Printf("Warning: day-boundary recompute failed: %v", err)
	} else {
		summary.RemindersAdvanced = advanced
	}
	if report, err := s.retention.Run(ctx); err != nil {
		s.logger.Printf("Warning: retention sweep failed: %v", err)
	} else {
		summary.Evicted = report.Evicted
		summary.OverageBytes = report.OverageBytes
	}
	if _, err := s.queue.SweepSynced(ctx, syncedRetention); err != nil {
		s.logger.Printf("Warning: queue sweep failed: %v", err)
	}
	if cfg.QueueCeilingBytes > 0 {
		if compacted, err := s.queue.CompactOversize(ctx, cfg.QueueCeilingBytes); err != nil {
			s.logger.Printf("Warning: queue compaction failed: %v", err)
		} else if compacted > 0 {
			s.logger.Printf("Compacted %d oversized queue payloads", compacted)
		}
	}

	summary.Duration = time.Since(start)

	err := firstError(pushErr, pullErr)
	if err != nil {
		s.notifier.setError(model.Classify(err), err.Error())
		return summary, err
	}

	s.notifier.setIdle()
	s.logger.Printf("Cycle complete: pushed=%d (failed=%d skipped=%d) pulled=%v advanced=%d evicted=%d in %s",
		summary.Pushed, summary.PushFailed, summary.PushSkipped, summary.Pulled,
		summary.RemindersAdvanced, summary.Evicted, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// push drains a bounded batch and sends each operation in queue order.
//
// A failure on one item does not block independent items, but it blocks
// every later item targeting the same entity: per-entity operations must
// reach the remote service in enqueue order.
func (s *Service) push(ctx context.Context, cfg Settings, summary *Summary) error {
	items, err := s.queue.DrainPending(ctx, cfg.PushBatchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	blocked := make(map[model.EntityKey]bool)
	var firstErr error

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			// Abandoned cycle; unsent items stay pending.
			return &model.TransientNetworkError{Err: err}
		}

		if blocked[item.Key()] {
			summary.PushSkipped++
			continue
		}

		ack, err := s.remote.Apply(ctx, item)
		if err != nil {
			summary.PushFailed++
			blocked[item.Key()] = true
			if firstErr == nil {
				firstErr = err
			}
			if markErr := s.queue.MarkResult(ctx, item.ID, false); markErr != nil {
				s.logger.Printf("Warning: failed to mark item %d failed: %v", item.ID, markErr)
			}
			continue
		}

		if item.Op == model.OpCreate && item.EntityType == model.EntityTask && ack.EntityID != 0 {
			if err := s.adoptServerID(ctx, item.EntityID, ack.EntityID); err != nil {
				s.logger.Printf("Warning: failed to adopt server id %d for local %d: %v", ack.EntityID, item.EntityID, err)
			}
		}

		// A disabled row stays cached until the remote confirms the
		// delete, then it is purged for real.
		if item.Op == model.OpDelete && item.EntityType == model.EntityTask {
			if err := s.store.DeleteTask(ctx, item.EntityID); err != nil {
				s.logger.Printf("Warning: failed to purge deleted task %d: %v", item.EntityID, err)
			}
		}

		if err := s.queue.MarkResult(ctx, item.ID, true); err != nil {
			// The remote applied the operation but we could not record
			// it; the item will be re-sent and the remote must dedupe.
			s.logger.Printf("Warning: failed to mark item %d synced: %v", item.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		summary.Pushed++
	}

	return firstErr
}

// adoptServerID rewrites a local placeholder ID with the server-assigned
// one, both in the cache row and in any queued items behind the create.
func (s *Service) adoptServerID(ctx context.Context, localID, serverID int64) error {
	if err := s.store.ReplaceTaskID(ctx, localID, serverID); err != nil {
		return err
	}
	return s.queue.ReassignEntity(ctx, model.EntityTask, localID, serverID)
}

// pull fetches authoritative entity lists and merges the changed ones.
// Users and groups merge before tasks so references resolve.
func (s *Service) pull(ctx context.Context, cfg Settings, summary *Summary) error {
	var firstErr error
	for _, entityType := range model.EntityTypes() {
		if err := ctx.Err(); err != nil {
			return &model.TransientNetworkError{Err: err}
		}
		if err := s.pullOne(ctx, entityType, summary); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) pullOne(ctx context.Context, entityType model.EntityType, summary *Summary) error {
	switch entityType {
	case model.EntityUser:
		users, err := s.remote.ListUsers(ctx)
		if err != nil {
			return err
		}
		changed, err := s.hashChanged(ctx, metaHashUsers, HashUsers(users))
		if err != nil || !changed {
			return err
		}
		if err := s.store.UpsertUsers(ctx, users); err != nil {
			return err
		}
		summary.Pulled[entityType] = len(users)
		return s.store.SetMeta(ctx, metaHashUsers, HashUsers(users))

	case model.EntityGroup:
		groups, err := s.remote.ListGroups(ctx)
		if err != nil {
			return err
		}
		changed, err := s.hashChanged(ctx, metaHashGroups, HashGroups(groups))
		if err != nil || !changed {
			return err
		}
		if err := s.store.UpsertGroups(ctx, groups); err != nil {
			return err
		}
		summary.Pulled[entityType] = len(groups)
		return s.store.SetMeta(ctx, metaHashGroups, HashGroups(groups))

	case model.EntityTask:
		tasks, err := s.remote.ListTasks(ctx)
		if err != nil {
			return err
		}
		changed, err := s.hashChanged(ctx, metaHashTasks, HashTasks(tasks))
		if err != nil || !changed {
			return err
		}
		if err := s.store.UpsertTasks(ctx, tasks); err != nil {
			return err
		}
		summary.Pulled[entityType] = len(tasks)
		return s.store.SetMeta(ctx, metaHashTasks, HashTasks(tasks))

	default:
		return fmt.Errorf("unknown entity type %q", entityType)
	}
}

// hashChanged compares a fetched set's digest against the persisted one.
// An unchanged digest skips the merge entirely.
func (s *Service) hashChanged(ctx context.Context, metaKey, hash string) (bool, error) {
	last, err := s.store.GetMeta(ctx, metaKey)
	if err != nil {
		return false, err
	}
	return last != hash, nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
