package workflow

import (
	"errors"
	"fmt"

	"claims-review-service/internal/models"
)

// ErrMissingPayment is returned when a COMPLETED transition carries no
// payment details.
var ErrMissingPayment = errors.New("completing a task requires payment details")

// ErrNoTasks is returned when a transition is invoked with an empty task set.
var ErrNoTasks = errors.New("no tasks given")

// ValidationError wraps any input problem detected before writes. The
// underlying cause is reachable with errors.Is / errors.As.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) error { return &ValidationError{Err: err} }

// IllegalTransitionError reports a from -> to pair outside the edge table.
// Only raised in strict mode.
type IllegalTransitionError struct {
	TaskID string
	From   models.TaskState
	To     models.TaskState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("task %s: no edge %s -> %s", e.TaskID, e.From, e.To)
}
