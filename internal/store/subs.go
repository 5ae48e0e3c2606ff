package store

import (
	"context"
	"sync"

	"claims-review-service/internal/models"
)

// subHub fans bucket refreshes out to per-state subscribers. Both store
// implementations embed one; delivery is in-process, single shot per refresh,
// no replay.
type subHub struct {
	mu   sync.Mutex
	next int
	subs map[models.TaskState]map[int]func([]models.Task)
}

func (h *subHub) subscribe(state models.TaskState, fn func([]models.Task)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[models.TaskState]map[int]func([]models.Task))
	}
	if h.subs[state] == nil {
		h.subs[state] = make(map[int]func([]models.Task))
	}
	id := h.next
	h.next++
	h.subs[state][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[state], id)
	}
}

// notify re-reads each state bucket through query and invokes its
// subscribers. States with no subscribers are skipped without a read.
func (h *subHub) notify(ctx context.Context, query func(context.Context, models.TaskState) ([]models.Task, error), states ...models.TaskState) {
	for _, state := range states {
		h.mu.Lock()
		fns := make([]func([]models.Task), 0, len(h.subs[state]))
		for _, fn := range h.subs[state] {
			fns = append(fns, fn)
		}
		h.mu.Unlock()
		if len(fns) == 0 {
			continue
		}
		tasks, err := query(ctx, state)
		if err != nil {
			continue
		}
		for _, fn := range fns {
			fn(tasks)
		}
	}
}
