package dayclock

import (
	"testing"
	"time"
)

// TestSpec tests cron expression construction
func TestSpec(t *testing.T) {
	if got := spec(4); got != "0 0 4 * * *" {
		t.Errorf("spec(4) = %q, want %q", got, "0 0 4 * * *")
	}
	if got := spec(0); got != "0 0 0 * * *" {
		t.Errorf("spec(0) = %q, want %q", got, "0 0 0 * * *")
	}
	// Out-of-range hours clamp to midnight instead of producing an
	// expression cron would reject.
	if got := spec(99); got != "0 0 0 * * *" {
		t.Errorf("spec(99) = %q, want %q", got, "0 0 0 * * *")
	}
}

// TestScheduler_FireOncePerLogicalDay tests the duplicate-trigger guard
func TestScheduler_FireOncePerLogicalDay(t *testing.T) {
	s := NewScheduler(4, time.UTC, nil)

	s.fire()
	select {
	case <-s.Events():
	default:
		t.Fatal("first fire() emitted nothing")
	}

	// A second trigger within the same logical day is suppressed.
	s.fire()
	select {
	case <-s.Events():
		t.Error("duplicate fire() emitted a second event")
	default:
	}
}

// TestScheduler_DroppedEventDoesNotBlock tests that an unconsumed event
// never blocks the cron job
func TestScheduler_DroppedEventDoesNotBlock(t *testing.T) {
	s := NewScheduler(4, time.UTC, nil)

	// Consumer never reads; repeated fires must return promptly.
	s.fire()
	s.lastFired = time.Time{} // reopen the once-per-day guard
	s.fire()

	select {
	case <-s.Events():
	default:
		t.Fatal("no event buffered")
	}
}

// TestScheduler_StartStop tests clean lifecycle
func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(4, time.UTC, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	s.Stop()
}
