package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"claims-review-service/internal/bundle"
	"claims-review-service/internal/models"
	"claims-review-service/internal/store"

	"github.com/oklog/ulid/v2"
)

// Issuer sends a direct payment through the external payment service and
// returns a confirmation number.
type Issuer interface {
	Issue(ctx context.Context, recipient models.Recipient, amount float64, metadata map[string]string) (string, error)
}

// Engine applies state transitions to tasks. Strict enforces the edge table;
// with Strict false any from -> to pair is recorded as given, matching the
// permissive legacy behavior.
type Engine struct {
	Store  store.Store
	Issuer Issuer // required only for DIRECT payments
	Strict bool
	Now    func() time.Time // defaults to time.Now
}

// Request describes one transition invocation over a set of tasks.
type Request struct {
	Tasks []models.Task
	To    models.TaskState
	Notes string
	Actor string // display name recorded on each change
	// Payment is required when To is COMPLETED.
	Payment *models.PaymentRecord
	// PrimaryTaskID selects the bundle primary when several tasks complete
	// under one payment. Empty means the most recently updated task.
	PrimaryTaskID string
}

// TaskResult is the per-task outcome of a transition fan-out.
type TaskResult struct {
	TaskID string
	Err    error
}

// Result reports one transition invocation. Failed members keep their prior
// state in the store and must be retried by the caller; the shared
// IdempotencyKey makes the retry safe against duplicate audit entries.
type Result struct {
	IdempotencyKey string
	Results        []TaskResult
}

// FailedIDs returns the ids of tasks whose writes failed.
func (r *Result) FailedIDs() []string {
	var out []string
	for _, tr := range r.Results {
		if tr.Err != nil {
			out = append(out, tr.TaskID)
		}
	}
	return out
}

// Transition validates the request and moves every task to req.To, appending
// one change record per task. No writes happen if validation fails.
func (e *Engine) Transition(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, req, e.Strict)
}

// Override is the privileged transition path: it skips the edge table (so an
// admin can, for example, reopen a REJECTED task) but still validates
// payment requirements and still writes change records.
func (e *Engine) Override(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, req, false)
}

func (e *Engine) run(ctx context.Context, req Request, enforceEdges bool) (*Result, error) {
	if err := e.validate(req, enforceEdges); err != nil {
		return nil, err
	}

	perTask, err := e.paymentsPerTask(req)
	if err != nil {
		return nil, err
	}

	// Direct payments go out before any store write: a failed issuance must
	// leave every task in its prior state.
	if req.Payment != nil && req.Payment.Type == models.PaymentDirect {
		confirmation, err := e.issueDirect(ctx, req)
		if err != nil {
			return nil, err
		}
		for id, p := range perTask {
			p.ConfirmationNumber = confirmation
			perTask[id] = p
		}
	}

	now := e.now()
	res := &Result{
		IdempotencyKey: ulid.Make().String(),
		Results:        make([]TaskResult, len(req.Tasks)),
	}

	// Fan out across tasks with no ordering guarantee. A failed member does
	// not roll back the others.
	var wg sync.WaitGroup
	for i, task := range req.Tasks {
		wg.Add(1)
		go func(i int, task models.Task) {
			defer wg.Done()
			res.Results[i] = TaskResult{
				TaskID: task.ID,
				Err:    e.applyOne(ctx, task, req, perTask, now, res.IdempotencyKey),
			}
		}(i, task)
	}
	wg.Wait()

	e.Store.RefreshStates(ctx, refreshSet(req)...)
	return res, nil
}

func (e *Engine) validate(req Request, enforceEdges bool) error {
	if len(req.Tasks) == 0 {
		return invalid(ErrNoTasks)
	}
	if !req.To.Valid() {
		return invalid(fmt.Errorf("unknown state %q", req.To))
	}
	if req.To == models.StateCompleted && req.Payment == nil {
		return invalid(ErrMissingPayment)
	}
	if p := req.Payment; p != nil {
		if p.Amount < 0 {
			return invalid(errors.New("payment amount must be non-negative"))
		}
		if len(p.BundledTaskIDs) > 0 && p.BundledUnderTaskID != "" {
			return invalid(errors.New("payment cannot be both bundle primary and bundle member"))
		}
		if p.Type == models.PaymentDirect && p.Recipient == nil {
			return invalid(errors.New("direct payment requires a recipient"))
		}
	}
	if enforceEdges {
		for _, t := range req.Tasks {
			if !CanTransition(t.State, req.To) {
				return invalid(&IllegalTransitionError{TaskID: t.ID, From: t.State, To: req.To})
			}
		}
	}
	return nil
}

// paymentsPerTask derives each task's payment record. Completing several
// tasks under one payment bundles them: the primary carries the member ids,
// each member carries a back-reference to the primary.
func (e *Engine) paymentsPerTask(req Request) (map[string]models.PaymentRecord, error) {
	if req.Payment == nil {
		return nil, nil
	}
	if req.To != models.StateCompleted || len(req.Tasks) == 1 {
		perTask := make(map[string]models.PaymentRecord, len(req.Tasks))
		for _, t := range req.Tasks {
			perTask[t.ID] = *req.Payment
		}
		return perTask, nil
	}

	primary := req.PrimaryTaskID
	if primary == "" {
		primary = mostRecentlyUpdated(req.Tasks)
	}
	ids := make([]string, len(req.Tasks))
	for i, t := range req.Tasks {
		ids[i] = t.ID
	}
	perTask, err := bundle.Apply(primary, ids, *req.Payment)
	if err != nil {
		return nil, invalid(err)
	}
	return perTask, nil
}

func (e *Engine) issueDirect(ctx context.Context, req Request) (string, error) {
	if e.Issuer == nil {
		return "", invalid(errors.New("direct payments are not configured"))
	}
	meta := map[string]string{"actor": req.Actor}
	for i, t := range req.Tasks {
		meta[fmt.Sprintf("task_%d", i)] = t.ID
	}
	confirmation, err := e.Issuer.Issue(ctx, *req.Payment.Recipient, req.Payment.Amount, meta)
	if err != nil {
		return "", fmt.Errorf("issue payment: %w", err)
	}
	return confirmation, nil
}

// applyOne saves one task in its new state and appends the matching change
// record as a single store unit.
func (e *Engine) applyOne(ctx context.Context, task models.Task, req Request, perTask map[string]models.PaymentRecord, now time.Time, idemKey string) error {
	change := models.TaskChangeRecord{
		TaskID:         task.ID,
		FromState:      task.State,
		State:          req.To,
		Timestamp:      now.UnixMilli(),
		By:             req.Actor,
		Notes:          req.Notes,
		IdempotencyKey: idemKey,
	}
	if p, ok := perTask[task.ID]; ok {
		change.Payment = &p
	}
	task.State = req.To
	task.Touch(now)
	return e.Store.SaveTaskWithChange(ctx, task, change)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// refreshSet lists the distinct prior states plus the target state, so
// subscribers on both sides of the move see the task change buckets.
func refreshSet(req Request) []models.TaskState {
	seen := map[models.TaskState]bool{req.To: true}
	out := []models.TaskState{req.To}
	for _, t := range req.Tasks {
		if !seen[t.State] {
			seen[t.State] = true
			out = append(out, t.State)
		}
	}
	return out
}

func mostRecentlyUpdated(tasks []models.Task) string {
	best := tasks[0]
	for _, t := range tasks[1:] {
		if t.UpdatedAt > best.UpdatedAt {
			best = t
		}
	}
	return best.ID
}
