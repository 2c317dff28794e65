package sync

import (
	"testing"

	"github.com/avlloyd/remindd/internal/model"
)

// TestNotifier_SubscribeDeliversCurrentState tests that late subscribers
// immediately see the latest state
func TestNotifier_SubscribeDeliversCurrentState(t *testing.T) {
	n := NewNotifier()
	n.setError(model.FailureNetwork, "unreachable")

	ch := n.Subscribe()
	select {
	case state := <-ch:
		if state.Phase != PhaseError || state.Cause != model.FailureNetwork {
			t.Errorf("initial state = %+v, want current error state", state)
		}
	default:
		t.Fatal("Subscribe() delivered nothing immediately")
	}
}

// TestNotifier_Transitions tests the idle/syncing/error lifecycle and that
// LastSuccess survives failures
func TestNotifier_Transitions(t *testing.T) {
	n := NewNotifier()

	n.setSyncing()
	if n.Current().Phase != PhaseSyncing {
		t.Errorf("Phase = %q, want syncing", n.Current().Phase)
	}

	n.setIdle()
	idle := n.Current()
	if idle.Phase != PhaseIdle || idle.LastSuccess.IsZero() {
		t.Errorf("idle state = %+v, want idle with LastSuccess set", idle)
	}

	n.setError(model.FailureRemote, "rejected")
	failed := n.Current()
	if failed.Phase != PhaseError || failed.Cause != model.FailureRemote {
		t.Errorf("error state = %+v, want remote error", failed)
	}
	if !failed.LastSuccess.Equal(idle.LastSuccess) {
		t.Error("failure erased LastSuccess")
	}
}

// TestNotifier_SlowConsumerDoesNotBlock tests lossy broadcast
func TestNotifier_SlowConsumerDoesNotBlock(t *testing.T) {
	n := NewNotifier()
	n.Subscribe() // never drained

	// More transitions than the subscriber buffer holds; must not hang.
	for i := 0; i < 20; i++ {
		n.setSyncing()
		n.setIdle()
	}

	if n.Current().Phase != PhaseIdle {
		t.Errorf("Phase = %q, want idle", n.Current().Phase)
	}
}
