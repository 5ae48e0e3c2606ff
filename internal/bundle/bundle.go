// Package bundle derives per-task payment records when several tasks
// complete under one payment event, and resolves the cross-references back
// into a displayable payment.
package bundle

import (
	"context"
	"errors"
	"fmt"

	"claims-review-service/internal/models"
)

// Apply distributes one aggregate payment across the tasks in a bundle. The
// primary task's record lists every other member in BundledTaskIDs; each
// member's record points back at the primary through BundledUnderTaskID. The
// caller picks the primary; ids must contain it.
func Apply(primaryID string, ids []string, payment models.PaymentRecord) (map[string]models.PaymentRecord, error) {
	if len(ids) == 0 {
		return nil, errors.New("empty bundle")
	}
	found := false
	for _, id := range ids {
		if id == primaryID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("primary task %s is not in the bundle", primaryID)
	}

	out := make(map[string]models.PaymentRecord, len(ids))
	var members []string
	for _, id := range ids {
		if id != primaryID {
			members = append(members, id)
		}
	}
	for _, id := range ids {
		p := payment
		p.BundledTaskIDs = nil
		p.BundledUnderTaskID = ""
		if id == primaryID {
			p.BundledTaskIDs = members
		} else {
			p.BundledUnderTaskID = primaryID
		}
		out[id] = p
	}
	return out, nil
}

// TaskFetcher is the slice of the store contract the resolver needs.
type TaskFetcher interface {
	GetTasksByIDs(ctx context.Context, ids []string) ([]models.Task, error)
	ChangesForTask(ctx context.Context, taskID string) ([]models.TaskChangeRecord, error)
}

// FetchReferenced loads the tasks a payment cross-references: the members
// for a primary record, or the primary for a member record. The store chunks
// id lookups internally.
func FetchReferenced(ctx context.Context, f TaskFetcher, payment *models.PaymentRecord) ([]models.Task, error) {
	if payment == nil || !payment.Bundled() {
		return nil, nil
	}
	ids := payment.BundledTaskIDs
	if payment.BundledUnderTaskID != "" {
		ids = []string{payment.BundledUnderTaskID}
	}
	return f.GetTasksByIDs(ctx, ids)
}

// ResolveDisplayed returns the payment whose amount should be shown for a
// change record. A bundle member's own record has no meaningful amount; the
// displayable figure lives on the primary task's completing change record,
// reached through the back-reference.
func ResolveDisplayed(ctx context.Context, f TaskFetcher, payment *models.PaymentRecord) (*models.PaymentRecord, error) {
	if payment == nil || payment.BundledUnderTaskID == "" {
		return payment, nil
	}
	changes, err := f.ChangesForTask(ctx, payment.BundledUnderTaskID)
	if err != nil {
		return nil, err
	}
	// Latest completing record wins; changes come back timestamp ascending.
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		if c.State == models.StateCompleted && c.Payment != nil && len(c.Payment.BundledTaskIDs) > 0 {
			return c.Payment, nil
		}
	}
	return nil, fmt.Errorf("primary task %s has no bundled payment record", payment.BundledUnderTaskID)
}
