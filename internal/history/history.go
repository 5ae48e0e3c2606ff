// Package history exposes the read side of the append-only change log and
// renders transitions as human-readable narrative lines.
package history

import (
	"context"
	"fmt"

	"claims-review-service/internal/models"
)

// Reader is the slice of the store contract the history views need.
type Reader interface {
	ChangesForTask(ctx context.Context, taskID string) ([]models.TaskChangeRecord, error)
	AllChanges(ctx context.Context) ([]models.TaskChangeRecord, error)
}

// ForTask returns one task's change records, timestamp ascending.
func ForTask(ctx context.Context, r Reader, taskID string) ([]models.TaskChangeRecord, error) {
	return r.ChangesForTask(ctx, taskID)
}

// All returns every change record, timestamp ascending, for global audit
// views.
func All(ctx context.Context, r Reader) ([]models.TaskChangeRecord, error) {
	return r.AllChanges(ctx)
}

// Narrative maps a (from, to) pair to the phrase shown in the audit trail.
// Unmapped pairs fall back to a generic "moved from X to Y" line.
func Narrative(from, to models.TaskState) string {
	switch from {
	case models.StateCSV:
		if to == models.StateAudit {
			return "ingested and assigned for audit"
		}
	case models.StateAudit:
		switch to {
		case models.StateFollowup:
			return "flagged for follow-up review"
		case models.StatePay:
			return "approved for payment"
		}
	case models.StateFollowup:
		switch to {
		case models.StateAudit:
			return "returned to audit"
		case models.StatePay:
			return "cleared follow-up and approved for payment"
		case models.StateRejected:
			return "rejected"
		}
	case models.StatePay:
		switch to {
		case models.StateFollowup:
			return "payment held, sent back for follow-up"
		case models.StateCompleted:
			return "paid"
		}
	}
	return fmt.Sprintf("moved from %s to %s", from, to)
}

// Line renders one change record as an audit-trail sentence.
func Line(c models.TaskChangeRecord) string {
	s := fmt.Sprintf("%s: %s", c.By, Narrative(c.FromState, c.State))
	if c.Notes != "" {
		s += " (" + c.Notes + ")"
	}
	return s
}
