// Package workflow implements the task state-transition engine: edge
// validation, change-record emission, payment handling and bundled-payment
// fan-out.
package workflow

import "claims-review-service/internal/models"

// legalEdges is the adjacency table of the review flow:
//
//	CSV -> AUDIT -> {FOLLOWUP | PAY}
//	FOLLOWUP -> {AUDIT | PAY | REJECTED}
//	PAY -> {FOLLOWUP | COMPLETED}
//
// COMPLETED and REJECTED are terminal; only the privileged override path can
// move a task out of them.
var legalEdges = map[models.TaskState][]models.TaskState{
	models.StateCSV:      {models.StateAudit},
	models.StateAudit:    {models.StateFollowup, models.StatePay},
	models.StateFollowup: {models.StateAudit, models.StatePay, models.StateRejected},
	models.StatePay:      {models.StateFollowup, models.StateCompleted},
}

// CanTransition reports whether from -> to is a legal edge of the normal
// review flow.
func CanTransition(from, to models.TaskState) bool {
	for _, s := range legalEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}
