// Package queue implements the durable pending-mutation queue.
//
// Every local edit made while offline is recorded here before the cache
// write is considered durable. Items are drained in priority order by the
// sync service, acknowledged per item, and garbage-collected a while after
// they sync so recent acks remain available for idempotency checks against
// duplicate remote echoes.
//
// The queue shares the cache store's SQLite handle: enqueueing an item and
// applying the edit to the cache commit through the same database, so a
// crash can never leave an applied edit without its queue record.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/avlloyd/remindd/internal/model"
)

// DefaultMaxRetries bounds how often a failed item is re-sent before it is
// surfaced as a persistent error instead of retried.
const DefaultMaxRetries = 8

// retryBackoffBase is the initial delay before a failed item becomes
// eligible for another drain; it doubles per retry.
const retryBackoffBase = 30 * time.Second

// Queue manages pending mutation records.
type Queue struct {
	db         *sql.DB
	maxRetries int
	logger     *log.Logger
}

// New creates a queue over the given database handle (normally the cache
// store's RawDB). If logger is nil a default stderr logger is used.
func New(db *sql.DB, maxRetries int, logger *log.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{db: db, maxRetries: maxRetries, logger: logger}
}

// Enqueue records a mutation, coalescing with any outstanding item for the
// same entity so that at most one unsynced item exists per
// (entityType, entityID) pair.
//
// Coalescing rules:
//   - no outstanding item: a new row is inserted
//   - outstanding create + later edit: the edit folds into the create
//     (the payload snapshot already reflects the latest state)
//   - outstanding create + delete: both are dropped; the remote service
//     never saw the entity, so there is nothing to send
//   - outstanding update/complete/uncomplete + later op: the newer op and
//     payload replace the older ones
//   - outstanding delete + anything but create: rejected as a validation
//     error; the entity is already logically gone
//
// Returns the resulting queue item, or nil when a create/delete pair
// annihilated.
func (q *Queue) Enqueue(ctx context.Context, op model.Operation, entityType model.EntityType, entityID int64, payload []byte) (*model.QueueItem, error) {
	if !op.Valid() {
		return nil, &model.ValidationError{Field: "op", Reason: fmt.Sprintf("unknown operation %q", string(op))}
	}
	if !entityType.Valid() {
		return nil, &model.ValidationError{Field: "entity_type", Reason: fmt.Sprintf("unknown entity type %q", string(entityType))}
	}

	now := time.Now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &model.StorageError{Op: "enqueue", Err: err}
	}
	defer tx.Rollback()

	existing, err := outstandingForEntity(ctx, tx, entityType, entityID)
	if err != nil {
		return nil, &model.StorageError{Op: "enqueue", Err: err}
	}

	var item *model.QueueItem
	switch {
	case existing == nil:
		item, err = insertItem(ctx, tx, op, entityType, entityID, payload, now)

	case existing.Op == model.OpCreate && op == model.OpDelete:
		// The entity never reached the server; drop the create outright.
		_, err = tx.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, existing.ID)
		item = nil

	case existing.Op == model.OpCreate:
		item, err = replaceItem(ctx, tx, existing, model.OpCreate, payload, now)

	case existing.Op == model.OpDelete && op != model.OpCreate:
		return nil, &model.ValidationError{
			Field:  "op",
			Reason: fmt.Sprintf("entity %s/%d has a pending delete", entityType, entityID),
		}

	case op == model.OpDelete:
		item, err = replaceItem(ctx, tx, existing, model.OpDelete, nil, now)

	default:
		item, err = replaceItem(ctx, tx, existing, op, payload, now)
	}
	if err != nil {
		return nil, &model.StorageError{Op: "enqueue", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &model.StorageError{Op: "enqueue", Err: err}
	}
	return item, nil
}

// DrainPending returns up to limit items eligible to send, in drain order:
// completion toggles and deletes before creates/updates at equal enqueue
// time, then FIFO within the priority class.
//
// Failed items are skipped while inside their backoff window or after their
// retry budget is exhausted.
func (q *Queue) DrainPending(ctx context.Context, limit int) ([]*model.QueueItem, error) {
	query := `
	SELECT id, op, entity_type, entity_id, payload, ts, retry_count, last_retry, status, size_bytes
	FROM queue
	WHERE status IN ('pending', 'failed') AND retry_count < ?
	ORDER BY
		CASE WHEN op IN ('complete', 'uncomplete', 'delete') THEN 0 ELSE 1 END,
		ts ASC, id ASC
	`

	rows, err := q.db.QueryContext(ctx, query, q.maxRetries)
	if err != nil {
		return nil, &model.StorageError{Op: "drain pending", Err: err}
	}
	defer rows.Close()

	now := time.Now()
	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "drain pending", Err: err}
		}
		if item.Status == model.StatusFailed && now.Before(nextAttemptAt(item)) {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "drain pending", Err: err}
	}
	return items, nil
}

// MarkResult records the outcome of a send attempt. Success flips the item
// to synced; failure increments the retry count and records the attempt
// time. Marking an already-synced item succeeds without side effects.
func (q *Queue) MarkResult(ctx context.Context, id int64, success bool) error {
	if success {
		// The status guard makes repeated success acks idempotent.
		_, err := q.db.ExecContext(ctx,
			`UPDATE queue SET status = 'synced' WHERE id = ? AND status != 'synced'`, id)
		if err != nil {
			return &model.StorageError{Op: "mark result", Err: err}
		}
		return nil
	}

	_, err := q.db.ExecContext(ctx, `
		UPDATE queue SET status = 'failed', retry_count = retry_count + 1, last_retry = ?
		WHERE id = ? AND status != 'synced'`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return &model.StorageError{Op: "mark result", Err: err}
	}
	return nil
}

// Get retrieves a queue item by ID. Returns (nil, nil) if absent.
func (q *Queue) Get(ctx context.Context, id int64) (*model.QueueItem, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, op, entity_type, entity_id, payload, ts, retry_count, last_retry, status, size_bytes
		FROM queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get queue item", Err: err}
	}
	return item, nil
}

// PendingSizeBytes returns the aggregate payload size of unsynced items.
func (q *Queue) PendingSizeBytes(ctx context.Context) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM queue WHERE status != 'synced'`).Scan(&total)
	if err != nil {
		return 0, &model.StorageError{Op: "pending size", Err: err}
	}
	return total, nil
}

// PendingCount returns the number of unsynced items.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue WHERE status != 'synced'`).Scan(&count)
	if err != nil {
		return 0, &model.StorageError{Op: "pending count", Err: err}
	}
	return count, nil
}

// Exhausted returns items whose retry budget ran out. These surface to the
// caller as a persistent error state and are no longer drained.
func (q *Queue) Exhausted(ctx context.Context) ([]*model.QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, op, entity_type, entity_id, payload, ts, retry_count, last_retry, status, size_bytes
		FROM queue WHERE status = 'failed' AND retry_count >= ?
		ORDER BY ts ASC, id ASC`, q.maxRetries)
	if err != nil {
		return nil, &model.StorageError{Op: "list exhausted", Err: err}
	}
	defer rows.Close()
	return scanItems(rows)
}

// ReassignEntity rewrites the entity ID on queued items after a create is
// acknowledged with a server-assigned ID, preserving per-entity ordering
// for items enqueued behind the create.
func (q *Queue) ReassignEntity(ctx context.Context, entityType model.EntityType, oldID, newID int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE queue SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`,
		newID, string(entityType), oldID)
	if err != nil {
		return &model.StorageError{Op: "reassign entity", Err: err}
	}
	return nil
}

// SweepSynced removes synced items older than the retention window. Recent
// acks are kept for idempotency checks against duplicate remote echoes.
func (q *Queue) SweepSynced(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM queue WHERE status = 'synced' AND ts < ?`, cutoff)
	if err != nil {
		return 0, &model.StorageError{Op: "sweep synced", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.logger.Printf("Swept %d synced queue items", n)
	}
	return n, nil
}

// CompactOversize drops optional payloads from the largest pending items
// until the aggregate size falls under the ceiling. Identifying fields
// always survive: an operation is never dropped without succeeding remotely
// or being explicitly superseded.
func (q *Queue) CompactOversize(ctx context.Context, ceiling int64) (int64, error) {
	total, err := q.PendingSizeBytes(ctx)
	if err != nil {
		return 0, err
	}
	if total <= ceiling {
		return 0, nil
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, size_bytes FROM queue
		WHERE status != 'synced' AND payload IS NOT NULL AND op != 'create'
		ORDER BY size_bytes DESC`)
	if err != nil {
		return 0, &model.StorageError{Op: "compact oversize", Err: err}
	}
	defer rows.Close()

	type candidate struct {
		id   int64
		size int64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.size); err != nil {
			return 0, &model.StorageError{Op: "compact oversize", Err: err}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return 0, &model.StorageError{Op: "compact oversize", Err: err}
	}

	var compacted int64
	for _, c := range candidates {
		if total <= ceiling {
			break
		}
		// Create payloads are irreplaceable (the entity exists nowhere
		// else), so only updates and toggles are compacted.
		if _, err := q.db.ExecContext(ctx,
			`UPDATE queue SET payload = NULL, size_bytes = 0 WHERE id = ?`, c.id); err != nil {
			return compacted, &model.StorageError{Op: "compact oversize", Err: err}
		}
		total -= c.size
		compacted++
	}
	if compacted > 0 {
		q.logger.Printf("Compacted %d oversize queue payloads", compacted)
	}
	return compacted, nil
}

// Clear removes all queue items. Used when a device is unpaired.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queue`); err != nil {
		return &model.StorageError{Op: "clear queue", Err: err}
	}
	return nil
}

// nextAttemptAt computes when a failed item becomes eligible again:
// exponential backoff doubling per retry.
func nextAttemptAt(item *model.QueueItem) time.Time {
	if item.LastRetry.IsZero() {
		return time.Time{}
	}
	backoff := retryBackoffBase << uint(item.RetryCount-1)
	return item.LastRetry.Add(backoff)
}

func outstandingForEntity(ctx context.Context, tx *sql.Tx, entityType model.EntityType, entityID int64) (*model.QueueItem, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, op, entity_type, entity_id, payload, ts, retry_count, last_retry, status, size_bytes
		FROM queue
		WHERE entity_type = ? AND entity_id = ? AND status != 'synced'
		ORDER BY id DESC LIMIT 1`,
		string(entityType), entityID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func insertItem(ctx context.Context, tx *sql.Tx, op model.Operation, entityType model.EntityType, entityID int64, payload []byte, now time.Time) (*model.QueueItem, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO queue (op, entity_type, entity_id, payload, ts, status, size_bytes)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)`,
		string(op), string(entityType), entityID, payloadArg(payload), now.UnixMilli(), int64(len(payload)))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.QueueItem{
		ID:         id,
		Op:         op,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Timestamp:  now,
		Status:     model.StatusPending,
		SizeBytes:  int64(len(payload)),
	}, nil
}

func replaceItem(ctx context.Context, tx *sql.Tx, existing *model.QueueItem, op model.Operation, payload []byte, now time.Time) (*model.QueueItem, error) {
	_, err := tx.ExecContext(ctx, `
		UPDATE queue SET op = ?, payload = ?, ts = ?, size_bytes = ?, status = 'pending'
		WHERE id = ?`,
		string(op), payloadArg(payload), now.UnixMilli(), int64(len(payload)), existing.ID)
	if err != nil {
		return nil, err
	}
	existing.Op = op
	existing.Payload = payload
	existing.Timestamp = now
	existing.SizeBytes = int64(len(payload))
	existing.Status = model.StatusPending
	return existing, nil
}

// payloadArg maps an empty payload to SQL NULL.
func payloadArg(payload []byte) interface{} {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*model.QueueItem, error) {
	var item model.QueueItem
	var op, entityType, status string
	var payload sql.NullString
	var ts int64
	var lastRetry sql.NullInt64

	err := row.Scan(
		&item.ID, &op, &entityType, &item.EntityID, &payload,
		&ts, &item.RetryCount, &lastRetry, &status, &item.SizeBytes,
	)
	if err != nil {
		return nil, err
	}

	item.Op = model.Operation(op)
	item.EntityType = model.EntityType(entityType)
	item.Status = model.ItemStatus(status)
	item.Timestamp = time.UnixMilli(ts)
	if payload.Valid {
		item.Payload = []byte(payload.String)
	}
	if lastRetry.Valid {
		item.LastRetry = time.UnixMilli(lastRetry.Int64)
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*model.QueueItem, error) {
	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "scan queue items", Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "scan queue items", Err: err}
	}
	return items, nil
}
