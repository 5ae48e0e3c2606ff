package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"claims-review-service/internal/models"
	"claims-review-service/internal/store"
)

func fixedNow() time.Time { return time.UnixMilli(1700000000000) }

func newTask(id string, state models.TaskState) models.Task {
	return models.Task{
		ID:    id,
		State: state,
		Site:  models.Site{Name: "Acme Pharmacy"},
		Entries: []models.ClaimEntry{
			{Item: "amoxicillin", TotalCost: 500, ClaimedCost: 450},
		},
		CreatedAt: 1600000000000,
		UpdatedAt: 1600000000000,
	}
}

func seed(t *testing.T, st *store.Memory, tasks ...models.Task) {
	t.Helper()
	for _, task := range tasks {
		if err := st.SaveTask(context.Background(), task); err != nil {
			t.Fatalf("seed task %s: %v", task.ID, err)
		}
	}
}

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to models.TaskState }{
		{models.StateCSV, models.StateAudit},
		{models.StateAudit, models.StateFollowup},
		{models.StateAudit, models.StatePay},
		{models.StateFollowup, models.StateAudit},
		{models.StateFollowup, models.StatePay},
		{models.StateFollowup, models.StateRejected},
		{models.StatePay, models.StateFollowup},
		{models.StatePay, models.StateCompleted},
	}
	for _, e := range legal {
		if !CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be legal", e.from, e.to)
		}
	}

	illegal := []struct{ from, to models.TaskState }{
		{models.StateCSV, models.StatePay},
		{models.StateCSV, models.StateCompleted},
		{models.StateAudit, models.StateCompleted},
		{models.StateAudit, models.StateRejected},
		{models.StateCompleted, models.StateAudit},
		{models.StateRejected, models.StateAudit},
		{models.StatePay, models.StateRejected},
	}
	for _, e := range illegal {
		if CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be illegal", e.from, e.to)
		}
	}
}

func TestTransitionAppendsOneChangePerTask(t *testing.T) {
	st := store.NewMemory()
	t1, t2 := newTask("t1", models.StateAudit), newTask("t2", models.StateAudit)
	seed(t, st, t1, t2)

	eng := &Engine{Store: st, Strict: true, Now: fixedNow}
	res, err := eng.Transition(context.Background(), Request{
		Tasks: []models.Task{t1, t2},
		To:    models.StatePay,
		Notes: "looks fine",
		Actor: "Grace",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if failed := res.FailedIDs(); len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}

	for _, id := range []string{"t1", "t2"} {
		task, ok, _ := st.GetTask(context.Background(), id)
		if !ok {
			t.Fatalf("task %s missing", id)
		}
		if task.State != models.StatePay {
			t.Errorf("task %s state = %s, want PAY", id, task.State)
		}
		if task.UpdatedAt != fixedNow().UnixMilli() {
			t.Errorf("task %s UpdatedAt not bumped", id)
		}

		changes, _ := st.ChangesForTask(context.Background(), id)
		if len(changes) != 1 {
			t.Fatalf("task %s has %d change records, want 1", id, len(changes))
		}
		c := changes[0]
		if c.FromState != models.StateAudit || c.State != models.StatePay {
			t.Errorf("change %s: from=%s to=%s", id, c.FromState, c.State)
		}
		if c.By != "Grace" || c.Notes != "looks fine" {
			t.Errorf("change %s actor/notes = %q/%q", id, c.By, c.Notes)
		}
		if c.IdempotencyKey != res.IdempotencyKey {
			t.Errorf("change %s key = %q, want %q", id, c.IdempotencyKey, res.IdempotencyKey)
		}
	}
}

func TestCompletedRequiresPayment(t *testing.T) {
	st := store.NewMemory()
	task := newTask("t1", models.StatePay)
	seed(t, st, task)

	eng := &Engine{Store: st, Strict: true, Now: fixedNow}
	_, err := eng.Transition(context.Background(), Request{
		Tasks: []models.Task{task},
		To:    models.StateCompleted,
		Actor: "Peter",
	})

	var ve *ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, ErrMissingPayment) {
		t.Fatalf("err = %v, want ValidationError wrapping ErrMissingPayment", err)
	}

	// No writes: the task keeps its state and the log stays empty.
	got, _, _ := st.GetTask(context.Background(), "t1")
	if got.State != models.StatePay {
		t.Errorf("task state = %s, want PAY", got.State)
	}
	if changes, _ := st.AllChanges(context.Background()); len(changes) != 0 {
		t.Errorf("change log has %d records, want 0", len(changes))
	}
}

func TestStrictRejectsIllegalEdge(t *testing.T) {
	st := store.NewMemory()
	task := newTask("t1", models.StateCSV)
	seed(t, st, task)

	eng := &Engine{Store: st, Strict: true, Now: fixedNow}
	_, err := eng.Transition(context.Background(), Request{
		Tasks: []models.Task{task},
		To:    models.StatePay,
		Actor: "Grace",
	})

	var ite *IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want IllegalTransitionError", err)
	}
	if ite.From != models.StateCSV || ite.To != models.StatePay {
		t.Errorf("edge = %s -> %s", ite.From, ite.To)
	}
}

func TestPermissiveRecordsAnyPair(t *testing.T) {
	st := store.NewMemory()
	task := newTask("t1", models.StateCSV)
	seed(t, st, task)

	eng := &Engine{Store: st, Strict: false, Now: fixedNow}
	if _, err := eng.Transition(context.Background(), Request{
		Tasks: []models.Task{task},
		To:    models.StatePay,
		Actor: "Grace",
	}); err != nil {
		t.Fatalf("permissive transition: %v", err)
	}

	changes, _ := st.ChangesForTask(context.Background(), "t1")
	if len(changes) != 1 || changes[0].FromState != models.StateCSV || changes[0].State != models.StatePay {
		t.Fatalf("recorded changes = %+v", changes)
	}
}

func TestOverrideLeavesTerminalState(t *testing.T) {
	st := store.NewMemory()
	task := newTask("t1", models.StateRejected)
	seed(t, st, task)

	eng := &Engine{Store: st, Strict: true, Now: fixedNow}
	if _, err := eng.Transition(context.Background(), Request{
		Tasks: []models.Task{task}, To: models.StateAudit, Actor: "Root",
	}); err == nil {
		t.Fatal("normal transition out of REJECTED should fail in strict mode")
	}
	if _, err := eng.Override(context.Background(), Request{
		Tasks: []models.Task{task}, To: models.StateAudit, Actor: "Root", Notes: "re-opened on appeal",
	}); err != nil {
		t.Fatalf("override: %v", err)
	}
	got, _, _ := st.GetTask(context.Background(), "t1")
	if got.State != models.StateAudit {
		t.Errorf("task state = %s, want AUDIT", got.State)
	}
}

func TestBundledCompletionCrossReferences(t *testing.T) {
	st := store.NewMemory()
	p := newTask("P", models.StatePay)
	s1 := newTask("S1", models.StatePay)
	s2 := newTask("S2", models.StatePay)
	seed(t, st, p, s1, s2)

	eng := &Engine{Store: st, Strict: true, Now: fixedNow}
	res, err := eng.Transition(context.Background(), Request{
		Tasks:         []models.Task{p, s1, s2},
		To:            models.StateCompleted,
		Actor:         "Peter",
		Payment:       &models.PaymentRecord{Type: models.PaymentBundled, Amount: 12000},
		PrimaryTaskID: "P",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if failed := res.FailedIDs(); len(failed) != 0 {
		t.Fatalf("failures: %v", failed)
	}

	primary, _ := st.ChangesForTask(context.Background(), "P")
	if len(primary) != 1 || primary[0].Payment == nil {
		t.Fatalf("primary change = %+v", primary)
	}
	members := primary[0].Payment.BundledTaskIDs
	if len(members) != 2 || members[0] != "S1" || members[1] != "S2" {
		t.Errorf("primary BundledTaskIDs = %v, want [S1 S2]", members)
	}
	if primary[0].Payment.BundledUnderTaskID != "" {
		t.Error("primary must not carry a back-reference")
	}

	for _, id := range []string{"S1", "S2"} {
		changes, _ := st.ChangesForTask(context.Background(), id)
		if len(changes) != 1 || changes[0].Payment == nil {
			t.Fatalf("%s change = %+v", id, changes)
		}
		pr := changes[0].Payment
		if pr.BundledUnderTaskID != "P" {
			t.Errorf("%s BundledUnderTaskID = %q, want P", id, pr.BundledUnderTaskID)
		}
		if len(pr.BundledTaskIDs) != 0 {
			t.Errorf("%s must not list bundle members", id)
		}
	}
}

func TestBundlePrimaryDefaultsToMostRecent(t *testing.T) {
	st := store.NewMemory()
	older := newTask("older", models.StatePay)
	newer := newTask("newer", models.StatePay)
	newer.UpdatedAt = older.UpdatedAt + 5000
	seed(t, st, older, newer)

	eng := &Engine{Store: st, Strict: true, Now: fixedNow}
	if _, err := eng.Transition(context.Background(), Request{
		Tasks:   []models.Task{older, newer},
		To:      models.StateCompleted,
		Actor:   "Peter",
		Payment: &models.PaymentRecord{Type: models.PaymentBundled, Amount: 800},
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	changes, _ := st.ChangesForTask(context.Background(), "newer")
	if got := changes[0].Payment.BundledTaskIDs; len(got) != 1 || got[0] != "older" {
		t.Errorf("default primary should be the most recently updated task, got members %v", got)
	}
}

type fakeIssuer struct {
	calls int
	fail  bool
}

func (f *fakeIssuer) Issue(_ context.Context, _ models.Recipient, _ float64, _ map[string]string) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("gateway unavailable")
	}
	return "CONF-42", nil
}

func TestDirectPaymentFailureWritesNothing(t *testing.T) {
	st := store.NewMemory()
	task := newTask("t1", models.StatePay)
	seed(t, st, task)

	issuer := &fakeIssuer{fail: true}
	eng := &Engine{Store: st, Issuer: issuer, Strict: true, Now: fixedNow}
	_, err := eng.Transition(context.Background(), Request{
		Tasks: []models.Task{task},
		To:    models.StateCompleted,
		Actor: "Peter",
		Payment: &models.PaymentRecord{
			Type:      models.PaymentDirect,
			Amount:    700,
			Recipient: &models.Recipient{Phone: "712345678", Currency: "KES"},
		},
	})
	if err == nil {
		t.Fatal("expected issuance failure to surface")
	}
	if issuer.calls != 1 {
		t.Errorf("issuer calls = %d, want 1", issuer.calls)
	}
	got, _, _ := st.GetTask(context.Background(), "t1")
	if got.State != models.StatePay {
		t.Errorf("task state = %s, want PAY (no partial completion)", got.State)
	}
	if changes, _ := st.AllChanges(context.Background()); len(changes) != 0 {
		t.Errorf("change log has %d records, want 0", len(changes))
	}
}

func TestDirectPaymentStampsConfirmation(t *testing.T) {
	st := store.NewMemory()
	task := newTask("t1", models.StatePay)
	seed(t, st, task)

	eng := &Engine{Store: st, Issuer: &fakeIssuer{}, Strict: true, Now: fixedNow}
	if _, err := eng.Transition(context.Background(), Request{
		Tasks: []models.Task{task},
		To:    models.StateCompleted,
		Actor: "Peter",
		Payment: &models.PaymentRecord{
			Type:      models.PaymentDirect,
			Amount:    700,
			Recipient: &models.Recipient{Phone: "712345678", Currency: "KES"},
		},
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	changes, _ := st.ChangesForTask(context.Background(), "t1")
	if got := changes[0].Payment.ConfirmationNumber; got != "CONF-42" {
		t.Errorf("confirmation = %q, want CONF-42", got)
	}
}

func TestTransitionRefreshesBothBuckets(t *testing.T) {
	st := store.NewMemory()
	task := newTask("t1", models.StateAudit)
	seed(t, st, task)

	var auditSeen, paySeen [][]models.Task
	unsubA := st.SubscribeTasksByState(models.StateAudit, func(ts []models.Task) { auditSeen = append(auditSeen, ts) })
	defer unsubA()
	unsubP := st.SubscribeTasksByState(models.StatePay, func(ts []models.Task) { paySeen = append(paySeen, ts) })
	defer unsubP()

	eng := &Engine{Store: st, Strict: true, Now: fixedNow}
	if _, err := eng.Transition(context.Background(), Request{
		Tasks: []models.Task{task}, To: models.StatePay, Actor: "Grace",
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if len(auditSeen) != 1 || len(auditSeen[0]) != 0 {
		t.Errorf("audit bucket refresh = %v, want one empty delivery", auditSeen)
	}
	if len(paySeen) != 1 || len(paySeen[0]) != 1 || paySeen[0][0].ID != "t1" {
		t.Errorf("pay bucket refresh = %v, want one delivery holding t1", paySeen)
	}
}

func TestEmptyTaskSetRejected(t *testing.T) {
	eng := &Engine{Store: store.NewMemory(), Strict: true, Now: fixedNow}
	_, err := eng.Transition(context.Background(), Request{To: models.StateAudit, Actor: "Grace"})
	if !errors.Is(err, ErrNoTasks) {
		t.Fatalf("err = %v, want ErrNoTasks", err)
	}
}
