// Package store defines the persistence contract consumed by the workflow
// core and provides DynamoDB and in-memory implementations.
package store

import (
	"context"
	"fmt"

	"claims-review-service/internal/models"
)

// batchGetLimit caps how many task ids go into one batch lookup round trip.
const batchGetLimit = 10

// Store is the collaborator contract for task, change-log and upload-log
// persistence. Implementations are expected to treat the upload log as
// write-once per record id and to drop change-record appends that repeat an
// already-stored (taskID, idempotencyKey) pair.
type Store interface {
	// GetTask returns the task with the given id, or ok=false if absent.
	GetTask(ctx context.Context, id string) (models.Task, bool, error)

	// SaveTask persists the task, overwriting any existing document with the
	// same id (last writer wins).
	SaveTask(ctx context.Context, task models.Task) error

	// SaveTaskWithChange persists the task and appends the change record as
	// one unit. Implementations that support transactions make the pair
	// atomic; others issue the two writes back to back.
	SaveTaskWithChange(ctx context.Context, task models.Task, change models.TaskChangeRecord) error

	// AppendChange appends one change record to the audit log.
	AppendChange(ctx context.Context, change models.TaskChangeRecord) error

	// QueryTasksByState returns all tasks currently in the given state.
	QueryTasksByState(ctx context.Context, state models.TaskState) ([]models.Task, error)

	// SubscribeTasksByState registers a callback invoked with a fresh read of
	// the state bucket whenever the bucket is refreshed. The returned
	// function unsubscribes.
	SubscribeTasksByState(state models.TaskState, fn func([]models.Task)) (unsubscribe func())

	// RefreshStates re-reads the given state buckets and notifies their
	// subscribers. Errors during refresh are swallowed; a subscriber that
	// needs guarantees re-reads via QueryTasksByState.
	RefreshStates(ctx context.Context, states ...models.TaskState)

	// ChangesForTask returns the change records for one task, timestamp
	// ascending.
	ChangesForTask(ctx context.Context, taskID string) ([]models.TaskChangeRecord, error)

	// AllChanges returns every change record, timestamp ascending.
	AllChanges(ctx context.Context) ([]models.TaskChangeRecord, error)

	// LookupUploadedRecord reports whether the external record id has been
	// ingested before.
	LookupUploadedRecord(ctx context.Context, recordID string) (bool, error)

	// RecordUploadedRecord marks an external record id as ingested.
	// Write-once: recording an id that is already present is a no-op.
	RecordUploadedRecord(ctx context.Context, rec models.UploadedRecord) error

	// GetTasksByIDs fetches the given tasks, batching lookups internally.
	// Missing ids are skipped, not errors.
	GetTasksByIDs(ctx context.Context, ids []string) ([]models.Task, error)
}

// WriteError wraps a rejected or timed-out write against the backing store.
// The core does not retry these; the caller re-invokes the whole operation.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// chunkIDs splits ids into groups of at most batchGetLimit.
func chunkIDs(ids []string) [][]string {
	var out [][]string
	for len(ids) > batchGetLimit {
		out = append(out, ids[:batchGetLimit])
		ids = ids[batchGetLimit:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
