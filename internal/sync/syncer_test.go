package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/avlloyd/remindd/internal/dayclock"
	"github.com/avlloyd/remindd/internal/model"
	"github.com/avlloyd/remindd/internal/queue"
	"github.com/avlloyd/remindd/internal/remote"
	"github.com/avlloyd/remindd/internal/retention"
	"github.com/avlloyd/remindd/internal/store"
)

// harness wires a sync service over a real temporary cache and a fake
// remote
type harness struct {
	store  *store.Store
	queue  *queue.Queue
	remote *remote.Fake
	svc    *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	quiet := log.New(io.Discard, "", 0)
	q := queue.New(s.RawDB(), 0, quiet)
	fake := remote.NewFake()
	day := dayclock.NewEngine(s, quiet)
	policy := retention.New(s, retention.DefaultCeilingBytes, quiet)
	settings := func() Settings {
		return Settings{DayStartHour: 4, PushBatchSize: 100}
	}

	return &harness{
		store:  s,
		queue:  q,
		remote: fake,
		svc:    New(s, q, fake, day, policy, settings, quiet),
	}
}

func cachedTask(id int64, title string, updatedAt time.Time) *model.Task {
	return &model.Task{
		ID:           id,
		Title:        title,
		Type:         model.TaskOneTime,
		ReminderTime: time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC),
		Enabled:      true,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
}

// TestRunCycle_PushesThenPulls tests that pending mutations reach the
// remote and the remote task list is merged in the same cycle
func TestRunCycle_PushesThenPulls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	local := cachedTask(1, "local edit", now)
	if err := h.store.UpsertTasks(ctx, []*model.Task{local}); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}
	item, err := h.queue.Enqueue(ctx, model.OpUpdate, model.EntityTask, 1, []byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	h.remote.SetTasks([]*model.Task{
		local,
		cachedTask(2, "remote only", now),
	})

	summary, err := h.svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}

	if summary.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", summary.Pushed)
	}
	applied := h.remote.Applied()
	if len(applied) != 1 || applied[0].Op != model.OpUpdate {
		t.Fatalf("remote saw %v, want one update", applied)
	}

	got, _ := h.queue.Get(ctx, item.ID)
	if got.Status != model.StatusSynced {
		t.Errorf("queue item status = %q, want synced", got.Status)
	}

	if summary.Pulled[model.EntityTask] != 2 {
		t.Errorf("Pulled[task] = %d, want 2", summary.Pulled[model.EntityTask])
	}
	merged, _ := h.store.GetTask(ctx, 2)
	if merged == nil || merged.Title != "remote only" {
		t.Errorf("GetTask(2) = %+v, want merged remote task", merged)
	}
}

// TestRunCycle_HashSkipsUnchangedPull tests that an unchanged remote set
// skips the merge on the second cycle
func TestRunCycle_HashSkipsUnchangedPull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	h.remote.SetTasks([]*model.Task{cachedTask(1, "stable", now)})

	first, err := h.svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() first failed: %v", err)
	}
	if first.Pulled[model.EntityTask] != 1 {
		t.Errorf("first Pulled[task] = %d, want 1", first.Pulled[model.EntityTask])
	}

	second, err := h.svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() second failed: %v", err)
	}
	if _, pulled := second.Pulled[model.EntityTask]; pulled {
		t.Error("second cycle merged an unchanged task set")
	}
}

// TestRunCycle_PullKeepsNewerLocalEdit tests that last-write-wins protects
// a pending local edit from a stale remote version
func TestRunCycle_PullKeepsNewerLocalEdit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond).Add(-time.Hour)
	remoteVersion := cachedTask(1, "remote version", base)
	localEdit := cachedTask(1, "local newer", base.Add(time.Minute))

	if err := h.store.UpsertTasks(ctx, []*model.Task{localEdit}); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}
	// Make the push fail so the local edit is still pending when the
	// stale remote list arrives.
	h.remote.RejectOps[model.OpUpdate] = &model.TransientNetworkError{Err: errors.New("offline")}
	if _, err := h.queue.Enqueue(ctx, model.OpUpdate, model.EntityTask, 1, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	h.remote.SetTasks([]*model.Task{remoteVersion})

	if _, err := h.svc.RunCycle(ctx); err == nil {
		t.Fatal("RunCycle() succeeded, want push error")
	}

	got, _ := h.store.GetTask(ctx, 1)
	if got.Title != "local newer" {
		t.Errorf("Title = %q, want pending local edit preserved", got.Title)
	}
}

// TestRunCycle_AdoptsServerID tests the offline-create round trip: the
// placeholder row and queued references are rewritten from the create ack
func TestRunCycle_AdoptsServerID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	localID, err := h.store.NextLocalID(ctx)
	if err != nil {
		t.Fatalf("NextLocalID() failed: %v", err)
	}
	created := cachedTask(localID, "offline create", now)
	if err := h.store.UpsertTasks(ctx, []*model.Task{created}); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}
	if _, err := h.queue.Enqueue(ctx, model.OpCreate, model.EntityTask, localID, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	summary, err := h.svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}
	if summary.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", summary.Pushed)
	}

	if got, _ := h.store.GetTask(ctx, localID); got != nil {
		t.Error("placeholder row still present after adoption")
	}
	applied := h.remote.Applied()
	if len(applied) != 1 {
		t.Fatalf("remote saw %d operations, want 1", len(applied))
	}
	adopted, _ := h.store.GetTask(ctx, 1001)
	if adopted == nil || adopted.Title != "offline create" {
		t.Errorf("GetTask(1001) = %+v, want adopted row", adopted)
	}
}

// TestRunCycle_PurgesConfirmedDelete tests that a disabled row is removed
// from the cache once the remote confirms the delete
func TestRunCycle_PurgesConfirmedDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	doomed := cachedTask(7, "to delete", now)
	doomed.Enabled = false
	if err := h.store.UpsertTasks(ctx, []*model.Task{doomed}); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}
	if _, err := h.queue.Enqueue(ctx, model.OpDelete, model.EntityTask, 7, nil); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	summary, err := h.svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}
	if summary.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", summary.Pushed)
	}
	if got, _ := h.store.GetTask(ctx, 7); got != nil {
		t.Errorf("GetTask(7) = %+v, want purged after delete ack", got)
	}
}

// TestRunCycle_FailureSurfacesInState tests the observable error state and
// that failed items stay queued for retry
func TestRunCycle_FailureSurfacesInState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.FailWith = &model.TransientNetworkError{Err: errors.New("no route to host")}
	item, err := h.queue.Enqueue(ctx, model.OpComplete, model.EntityTask, 1, nil)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if _, err := h.svc.RunCycle(ctx); err == nil {
		t.Fatal("RunCycle() succeeded, want error")
	}

	state := h.svc.Notifier().Current()
	if state.Phase != PhaseError {
		t.Errorf("Phase = %q, want error", state.Phase)
	}
	if state.Cause != model.FailureNetwork {
		t.Errorf("Cause = %q, want network", state.Cause)
	}

	got, _ := h.queue.Get(ctx, item.ID)
	if got.Status != model.StatusFailed {
		t.Errorf("item status = %q, want failed", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
}

// TestRunCycle_OfflineCycleStillDoesHousekeeping tests that a network
// failure does not block day-boundary recomputation
func TestRunCycle_OfflineCycleStillDoesHousekeeping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := time.Now().Add(-72 * time.Hour)
	stale := &model.Task{
		ID:                 1,
		Title:              "stale daily",
		Type:               model.TaskRecurring,
		RecurrenceType:     model.RecurDaily,
		RecurrenceInterval: 1,
		ReminderTime:       created,
		Enabled:            true,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	if err := h.store.UpsertTasks(ctx, []*model.Task{stale}); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}

	h.remote.FailWith = &model.TransientNetworkError{Err: errors.New("offline")}

	summary, err := h.svc.RunCycle(ctx)
	if err == nil {
		t.Fatal("RunCycle() succeeded, want network error")
	}
	if summary.RemindersAdvanced != 1 {
		t.Errorf("RemindersAdvanced = %d, want 1 despite network failure", summary.RemindersAdvanced)
	}
	got, _ := h.store.GetTask(ctx, 1)
	if !got.ReminderTime.After(time.Now()) {
		t.Errorf("ReminderTime = %v, want advanced past now", got.ReminderTime)
	}
}

// TestRunCycle_PullsUsersAndGroupsBeforeTasks tests reference entities
// merge in the same cycle
func TestRunCycle_PullsUsersAndGroupsBeforeTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	h.remote.SetUsers([]*model.User{{ID: 1, Name: "zoe", UpdatedAt: now}})
	h.remote.SetGroups([]*model.Group{{ID: 2, Name: "household", MemberIDs: []int64{1}, UpdatedAt: now}})
	task := cachedTask(3, "assigned", now)
	task.GroupID = 2
	task.AssignedUserIDs = []int64{1}
	h.remote.SetTasks([]*model.Task{task})

	summary, err := h.svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() failed: %v", err)
	}
	if summary.Pulled[model.EntityUser] != 1 || summary.Pulled[model.EntityGroup] != 1 || summary.Pulled[model.EntityTask] != 1 {
		t.Errorf("Pulled = %v, want one of each type", summary.Pulled)
	}

	if u, _ := h.store.GetUser(ctx, 1); u == nil {
		t.Error("user not merged")
	}
	if g, _ := h.store.GetGroup(ctx, 2); g == nil {
		t.Error("group not merged")
	}
}
