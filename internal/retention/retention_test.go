package retention

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avlloyd/remindd/internal/model"
	"github.com/avlloyd/remindd/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// sizedTask builds a task whose size estimate is dominated by its title
func sizedTask(id int64, enabled bool, lastAccessed time.Time) *model.Task {
	now := time.Now()
	return &model.Task{
		ID:           id,
		Title:        strings.Repeat("x", 400),
		Type:         model.TaskOneTime,
		ReminderTime: now,
		Enabled:      enabled,
		LastAccessed: lastAccessed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TestRun_UnderCeilingIsNoop tests that a small cache is left alone
func TestRun_UnderCeilingIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertTasks(ctx, []*model.Task{sizedTask(1, false, time.Now())}); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}

	report, err := New(s, 1<<20, quiet()).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.Evicted != 0 || report.OverageBytes != 0 {
		t.Errorf("Report = %+v, want no evictions under ceiling", report)
	}
	if count, _ := s.Count(ctx); count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

// TestRun_EvictsDisabledLRUFirst tests eviction order and that the sweep
// stops once under budget
func TestRun_EvictsDisabledLRUFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	oldest := sizedTask(1, false, now.Add(-72*time.Hour))
	newer := sizedTask(2, false, now.Add(-1*time.Hour))
	active := sizedTask(3, true, now.Add(-96*time.Hour))
	if err := s.UpsertTasks(ctx, []*model.Task{oldest, newer, active}); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}

	// Ceiling sized so removing one candidate is enough.
	size, _ := s.SizeEstimateBytes(ctx)
	perTask := store.EstimateTaskSize(oldest)
	report, err := New(s, size-perTask, quiet()).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if report.Evicted != 1 {
		t.Fatalf("Evicted = %d, want 1", report.Evicted)
	}
	if got, _ := s.GetTask(ctx, 1); got != nil {
		t.Error("least recently accessed candidate survived")
	}
	if got, _ := s.GetTask(ctx, 2); got == nil {
		t.Error("newer candidate evicted unnecessarily")
	}
}

// TestRun_NeverEvictsActiveTasks tests the hard guarantee for enabled rows
func TestRun_NeverEvictsActiveTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	tasks := []*model.Task{
		sizedTask(1, true, now.Add(-100*time.Hour)),
		sizedTask(2, true, now.Add(-200*time.Hour)),
	}
	if err := s.UpsertTasks(ctx, tasks); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}

	// Ceiling far below the cache size, with zero candidates.
	report, err := New(s, 64, quiet()).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if report.Evicted != 0 {
		t.Errorf("Evicted = %d, want 0", report.Evicted)
	}
	if report.OverageBytes <= 0 {
		t.Error("OverageBytes not reported for unbudgetable cache")
	}
	if count, _ := s.Count(ctx); count != 2 {
		t.Errorf("Count() = %d, want 2 (active tasks untouchable)", count)
	}
}

// TestRun_ReportsResidualOverage tests overage accounting after all
// candidates are gone
func TestRun_ReportsResidualOverage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	disabled := sizedTask(1, false, now)
	active := sizedTask(2, true, now)
	if err := s.UpsertTasks(ctx, []*model.Task{disabled, active}); err != nil {
		t.Fatalf("UpsertTasks() failed: %v", err)
	}

	report, err := New(s, 64, quiet()).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", report.Evicted)
	}
	if report.OverageBytes <= 0 {
		t.Error("OverageBytes not reported after candidates ran out")
	}
	if got, _ := s.GetTask(ctx, 2); got == nil {
		t.Error("active task evicted")
	}
}
