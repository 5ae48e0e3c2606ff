package store

import (
	"context"
	"sort"
	"sync"

	"claims-review-service/internal/models"
)

// Memory is an in-memory Store used by tests and the local dev server. It
// mirrors the conditional-write semantics of the DynamoDB store: the upload
// log is write-once per record id and duplicate change appends (same task id
// and idempotency key) are dropped.
type Memory struct {
	hub subHub

	mu      sync.RWMutex
	tasks   map[string]models.Task
	changes []models.TaskChangeRecord
	seen    map[string]struct{} // taskID + "/" + idempotencyKey
	uploads map[string]models.UploadedRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:   make(map[string]models.Task),
		seen:    make(map[string]struct{}),
		uploads: make(map[string]models.UploadedRecord),
	}
}

// GetTask returns the task with the given id, or ok=false if absent.
func (m *Memory) GetTask(_ context.Context, id string) (models.Task, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok, nil
}

// SaveTask persists the task, last writer wins.
func (m *Memory) SaveTask(_ context.Context, task models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return nil
}

// SaveTaskWithChange persists the task and appends the change record under a
// single lock, so readers never observe one without the other.
func (m *Memory) SaveTaskWithChange(_ context.Context, task models.Task, change models.TaskChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	m.appendLocked(change)
	return nil
}

// AppendChange appends one change record to the audit log.
func (m *Memory) AppendChange(_ context.Context, change models.TaskChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(change)
	return nil
}

func (m *Memory) appendLocked(change models.TaskChangeRecord) {
	if change.IdempotencyKey != "" {
		key := change.TaskID + "/" + change.IdempotencyKey
		if _, dup := m.seen[key]; dup {
			return
		}
		m.seen[key] = struct{}{}
	}
	m.changes = append(m.changes, change)
}

// QueryTasksByState returns all tasks currently in the given state.
func (m *Memory) QueryTasksByState(_ context.Context, state models.TaskState) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Task
	for _, t := range m.tasks {
		if t.State == state {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SubscribeTasksByState registers a callback for refreshes of one state
// bucket.
func (m *Memory) SubscribeTasksByState(state models.TaskState, fn func([]models.Task)) func() {
	return m.hub.subscribe(state, fn)
}

// RefreshStates re-reads the given buckets and notifies subscribers.
func (m *Memory) RefreshStates(ctx context.Context, states ...models.TaskState) {
	m.hub.notify(ctx, m.QueryTasksByState, states...)
}

// ChangesForTask returns the change records for one task, timestamp
// ascending.
func (m *Memory) ChangesForTask(_ context.Context, taskID string) ([]models.TaskChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TaskChangeRecord
	for _, c := range m.changes {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	sortChanges(out)
	return out, nil
}

// AllChanges returns every change record, timestamp ascending.
func (m *Memory) AllChanges(_ context.Context) ([]models.TaskChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TaskChangeRecord, len(m.changes))
	copy(out, m.changes)
	sortChanges(out)
	return out, nil
}

// LookupUploadedRecord reports whether the external record id was ingested
// before.
func (m *Memory) LookupUploadedRecord(_ context.Context, recordID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.uploads[recordID]
	return ok, nil
}

// RecordUploadedRecord marks an external record id as ingested; the first
// write wins.
func (m *Memory) RecordUploadedRecord(_ context.Context, rec models.UploadedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[rec.RecordID]; ok {
		return nil
	}
	m.uploads[rec.RecordID] = rec
	return nil
}

// GetTasksByIDs fetches the given tasks; missing ids are skipped.
func (m *Memory) GetTasksByIDs(_ context.Context, ids []string) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Task
	for _, chunk := range chunkIDs(ids) {
		for _, id := range chunk {
			if t, ok := m.tasks[id]; ok {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// sortChanges orders records timestamp ascending, stable on task id for
// records written in the same millisecond.
func sortChanges(cs []models.TaskChangeRecord) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Timestamp < cs[j].Timestamp })
}
