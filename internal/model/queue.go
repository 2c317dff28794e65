package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is a closed set of mutations that can be queued against the
// remote service. Unknown strings are rejected at the serialization
// boundary rather than carried through the queue.
type Operation string

const (
	// OpCreate creates a new entity on the remote service.
	OpCreate Operation = "create"
	// OpUpdate replaces an entity's fields.
	OpUpdate Operation = "update"
	// OpComplete marks a task occurrence done.
	OpComplete Operation = "complete"
	// OpUncomplete reverts a completion.
	OpUncomplete Operation = "uncomplete"
	// OpDelete logically deletes an entity.
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpComplete, OpUncomplete, OpDelete:
		return true
	}
	return false
}

// Priority returns the drain ordering class for the operation. Completion
// toggles and deletes sort before creates/updates at equal enqueue time:
// they are cheaper to apply and less likely to conflict, so a stale update
// never blocks a more urgent complete.
func (op Operation) Priority() int {
	switch op {
	case OpComplete, OpUncomplete, OpDelete:
		return 0
	default:
		return 1
	}
}

// UnmarshalJSON validates the operation at the decode boundary.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := Operation(s)
	if !v.Valid() {
		return fmt.Errorf("unknown operation %q", s)
	}
	*op = v
	return nil
}

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

const (
	// StatusPending means the item has not been acknowledged yet.
	StatusPending ItemStatus = "pending"
	// StatusFailed means the last send attempt failed; the item remains
	// eligible for retry until its retry budget is exhausted.
	StatusFailed ItemStatus = "failed"
	// StatusSynced means the remote service acknowledged the operation.
	// Synced items linger briefly for idempotency checks before being
	// swept.
	StatusSynced ItemStatus = "synced"
)

// Valid reports whether s is one of the known statuses.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFailed, StatusSynced:
		return true
	}
	return false
}

// QueueItem is a durable record of one pending local mutation awaiting
// remote confirmation.
//
// Every offline mutation to a Task/User/Group produces exactly one queue
// item before the cache write is considered durable. At most one
// outstanding (pending or failed) item exists per (EntityType, EntityID)
// pair; superseding edits coalesce into the outstanding item.
type QueueItem struct {
	// ID is assigned locally and increases monotonically with enqueue
	// order.
	ID int64 `json:"id"`

	Op         Operation  `json:"op"`
	EntityType EntityType `json:"entity_type"`

	// EntityID is the entity the operation targets. Negative for
	// not-yet-acknowledged local creates.
	EntityID int64 `json:"entity_id"`

	// Payload is the serialized entity snapshot taken at enqueue time.
	// It may be dropped by oversize compaction; the identifying fields
	// above always survive.
	Payload []byte `json:"payload,omitempty"`

	Timestamp  time.Time  `json:"timestamp"`
	RetryCount int        `json:"retry_count"`
	LastRetry  time.Time  `json:"last_retry,omitempty"`
	Status     ItemStatus `json:"status"`

	// SizeBytes is the payload size used for queue accounting and
	// oversize compaction ranking.
	SizeBytes int64 `json:"size_bytes"`
}

// Key identifies the entity a queue item targets.
func (q *QueueItem) Key() EntityKey {
	return EntityKey{Type: q.EntityType, ID: q.EntityID}
}

// EntityKey uniquely identifies a cached entity across types.
type EntityKey struct {
	Type EntityType
	ID   int64
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s/%d", k.Type, k.ID)
}
