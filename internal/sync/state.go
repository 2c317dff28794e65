package sync

import (
	"sync"
	"time"

	"github.com/avlloyd/remindd/internal/model"
)

// Phase is the coarse reconciliation state observed by the UI layer.
type Phase string

const (
	// PhaseIdle means no cycle is running and the last one succeeded.
	PhaseIdle Phase = "idle"
	// PhaseSyncing means a push/pull cycle is in flight.
	PhaseSyncing Phase = "syncing"
	// PhaseError means the last cycle failed; Cause carries the category.
	PhaseError Phase = "error"
)

// State is one observable snapshot of the sync lifecycle. The UI sees an
// aggregate "last sync failed" signal with a cause category, never raw
// transport errors.
type State struct {
	Phase Phase
	// Cause is set when Phase is PhaseError.
	Cause model.FailureKind
	// Message is a short human-readable description of the failure.
	Message string
	// At is when this state was entered.
	At time.Time
	// LastSuccess is when a cycle last completed cleanly.
	LastSuccess time.Time
}

// Notifier fans sync state transitions out to subscribers.
//
// Delivery is lossy by design: each subscriber channel holds a small
// buffer, and a slow consumer misses intermediate transitions rather than
// blocking the reconciliation driver. The latest state is always available
// via Current.
type Notifier struct {
	mu   sync.Mutex
	cur  State
	subs []chan State
}

// NewNotifier creates a notifier in the idle state.
func NewNotifier() *Notifier {
	return &Notifier{cur: State{Phase: PhaseIdle, At: time.Now()}}
}

// Subscribe registers a new observer. The current state is delivered
// immediately so late subscribers start consistent.
func (n *Notifier) Subscribe() <-chan State {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan State, 8)
	ch <- n.cur
	n.subs = append(n.subs, ch)
	return ch
}

// Current returns the latest state.
func (n *Notifier) Current() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cur
}

func (n *Notifier) setSyncing() {
	n.transition(State{Phase: PhaseSyncing})
}

func (n *Notifier) setIdle() {
	now := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cur = State{Phase: PhaseIdle, At: now, LastSuccess: now}
	n.broadcastLocked()
}

func (n *Notifier) setError(cause model.FailureKind, message string) {
	n.transition(State{Phase: PhaseError, Cause: cause, Message: message})
}

func (n *Notifier) transition(next State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	next.At = time.Now()
	next.LastSuccess = n.cur.LastSuccess
	n.cur = next
	n.broadcastLocked()
}

func (n *Notifier) broadcastLocked() {
	for _, ch := range n.subs {
		select {
		case ch <- n.cur:
		default:
			// Slow consumer; it will catch up from Current.
		}
	}
}
