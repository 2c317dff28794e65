package remote

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/avlloyd/remindd/internal/model"
)

// Fake is an in-memory Client for tests. It records applied mutations in
// order and serves canned entity lists. All methods are safe for
// concurrent use.
type Fake struct {
	mu      sync.Mutex
	tasks   []*model.Task
	users   []*model.User
	groups  []*model.Group
	applied []*model.QueueItem
	nextID  atomic.Int64

	// FailWith, when non-nil, is returned from every call.
	FailWith error
	// RejectOps maps operations to an error returned from Apply.
	RejectOps map[model.Operation]error
}

// NewFake returns an empty fake remote. Server-assigned IDs start at 1000
// so they never collide with fixture IDs.
func NewFake() *Fake {
	f := &Fake{RejectOps: make(map[model.Operation]error)}
	f.nextID.Store(1000)
	return f
}

// SetTasks replaces the canned task list.
func (f *Fake) SetTasks(tasks []*model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = tasks
}

// SetUsers replaces the canned user list.
func (f *Fake) SetUsers(users []*model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = users
}

// SetGroups replaces the canned group list.
func (f *Fake) SetGroups(groups []*model.Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = groups
}

// Applied returns the mutations applied so far, in arrival order.
func (f *Fake) Applied() []*model.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.QueueItem, len(f.applied))
	copy(out, f.applied)
	return out
}

func (f *Fake) ListTasks(ctx context.Context) ([]*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	return f.tasks, nil
}

func (f *Fake) ListUsers(ctx context.Context) ([]*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	return f.users, nil
}

func (f *Fake) ListGroups(ctx context.Context) ([]*model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	return f.groups, nil
}

// Apply records the mutation. Creates are acknowledged with a fresh
// server-assigned ID.
func (f *Fake) Apply(ctx context.Context, item *model.QueueItem) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return Ack{}, f.FailWith
	}
	if err := f.RejectOps[item.Op]; err != nil {
		return Ack{}, err
	}
	f.applied = append(f.applied, item)
	ack := Ack{EntityID: item.EntityID}
	if item.Op == model.OpCreate {
		ack.EntityID = f.nextID.Add(1)
	}
	return ack, nil
}
