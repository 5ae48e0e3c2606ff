package store

import (
	"context"
	"fmt"
	"testing"

	"claims-review-service/internal/models"
)

func TestAppendChangeIdempotent(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	change := models.TaskChangeRecord{
		TaskID:         "t1",
		FromState:      models.StateAudit,
		State:          models.StatePay,
		Timestamp:      100,
		IdempotencyKey: "key-1",
	}
	if err := st.AppendChange(ctx, change); err != nil {
		t.Fatalf("first append: %v", err)
	}
	// A retried invocation re-appends the identical record.
	if err := st.AppendChange(ctx, change); err != nil {
		t.Fatalf("retried append: %v", err)
	}

	changes, _ := st.ChangesForTask(ctx, "t1")
	if len(changes) != 1 {
		t.Fatalf("retry duplicated the audit entry: %d records", len(changes))
	}

	// Same key on a different task is a distinct record (one invocation
	// spans several tasks).
	other := change
	other.TaskID = "t2"
	if err := st.AppendChange(ctx, other); err != nil {
		t.Fatalf("append other task: %v", err)
	}
	all, _ := st.AllChanges(ctx)
	if len(all) != 2 {
		t.Errorf("all changes = %d, want 2", len(all))
	}
}

func TestSaveTaskWithChange(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	task := models.Task{ID: "t1", State: models.StatePay}
	change := models.TaskChangeRecord{
		TaskID: "t1", FromState: models.StateAudit, State: models.StatePay,
		Timestamp: 100, IdempotencyKey: "k",
	}
	if err := st.SaveTaskWithChange(ctx, task, change); err != nil {
		t.Fatalf("save with change: %v", err)
	}

	got, ok, _ := st.GetTask(ctx, "t1")
	if !ok || got.State != models.StatePay {
		t.Errorf("task = %+v, ok=%v", got, ok)
	}
	changes, _ := st.ChangesForTask(ctx, "t1")
	if len(changes) != 1 {
		t.Errorf("changes = %d, want 1", len(changes))
	}
}

func TestUploadLogWriteOnce(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	first := models.UploadedRecord{RecordID: "R1", BatchID: "b1", By: "Alice", Timestamp: 1}
	if err := st.RecordUploadedRecord(ctx, first); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Second write for the same id is a no-op, not an error.
	second := models.UploadedRecord{RecordID: "R1", BatchID: "b2", By: "Bob", Timestamp: 2}
	if err := st.RecordUploadedRecord(ctx, second); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	present, err := st.LookupUploadedRecord(ctx, "R1")
	if err != nil || !present {
		t.Fatalf("lookup = %v, %v", present, err)
	}
	if present, _ := st.LookupUploadedRecord(ctx, "R2"); present {
		t.Error("R2 should be absent")
	}
}

func TestGetTasksByIDsChunksAndSkipsMissing(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("t%02d", i)
		ids = append(ids, id)
		if err := st.SaveTask(ctx, models.Task{ID: id, State: models.StateAudit}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	ids = append(ids, "missing")

	tasks, err := st.GetTasksByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(tasks) != 25 {
		t.Errorf("fetched %d tasks, want 25 (missing id skipped)", len(tasks))
	}
}

func TestChunkIDs(t *testing.T) {
	cases := []struct {
		n    int
		want []int
	}{
		{0, nil},
		{1, []int{1}},
		{10, []int{10}},
		{11, []int{10, 1}},
		{25, []int{10, 10, 5}},
	}
	for _, tc := range cases {
		ids := make([]string, tc.n)
		chunks := chunkIDs(ids)
		if len(chunks) != len(tc.want) {
			t.Errorf("n=%d: %d chunks, want %d", tc.n, len(chunks), len(tc.want))
			continue
		}
		for i, c := range chunks {
			if len(c) != tc.want[i] {
				t.Errorf("n=%d chunk %d: len %d, want %d", tc.n, i, len(c), tc.want[i])
			}
		}
	}
}

func TestSubscriptions(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	var deliveries [][]models.Task
	unsub := st.SubscribeTasksByState(models.StateAudit, func(ts []models.Task) {
		deliveries = append(deliveries, ts)
	})

	if err := st.SaveTask(ctx, models.Task{ID: "t1", State: models.StateAudit}); err != nil {
		t.Fatalf("save: %v", err)
	}
	st.RefreshStates(ctx, models.StateAudit)
	if len(deliveries) != 1 || len(deliveries[0]) != 1 {
		t.Fatalf("deliveries = %v", deliveries)
	}

	// Refreshing a bucket nobody watches delivers nothing.
	st.RefreshStates(ctx, models.StatePay)
	if len(deliveries) != 1 {
		t.Errorf("unwatched refresh delivered: %v", deliveries)
	}

	unsub()
	st.RefreshStates(ctx, models.StateAudit)
	if len(deliveries) != 1 {
		t.Errorf("delivery after unsubscribe: %v", deliveries)
	}
}
