// Package models defines the data models used in the application.
package models

import "time"

// TaskState represents the lifecycle stage of a claim batch.
type TaskState string

// Possible values for TaskState
const (
	StateCSV       TaskState = "CSV"       // freshly ingested, not yet shown to reviewers
	StateAudit     TaskState = "AUDIT"     // primary review
	StateFollowup  TaskState = "FOLLOWUP"  // secondary review
	StatePay       TaskState = "PAY"       // approved, awaiting payment
	StateCompleted TaskState = "COMPLETED" // paid
	StateRejected  TaskState = "REJECTED"  // declined
)

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	switch s {
	case StateCSV, StateAudit, StateFollowup, StatePay, StateCompleted, StateRejected:
		return true
	}
	return false
}

// Terminal reports whether s ends the normal review flow. Terminal tasks are
// retained for audit and never hard-deleted.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateRejected
}

// PaymentType represents how a completed task was paid.
type PaymentType string

// Possible values for PaymentType
const (
	PaymentBundled PaymentType = "BUNDLED"
	PaymentManual  PaymentType = "MANUAL"
	PaymentDirect  PaymentType = "DIRECT"
)

// Site identifies the pharmacy a claim batch belongs to.
type Site struct {
	Name     string `json:"name" dynamodbav:"name"`
	Phone    string `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Location string `json:"location,omitempty" dynamodbav:"location,omitempty"`
}

// ClaimEntry is one patient claim line within a Task. Patient fields are
// best-effort from the ingestion source and may be empty.
type ClaimEntry struct {
	FirstName   string   `json:"first_name,omitempty" dynamodbav:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty" dynamodbav:"last_name,omitempty"`
	Age         int      `json:"age,omitempty" dynamodbav:"age,omitempty"`
	Sex         string   `json:"sex,omitempty" dynamodbav:"sex,omitempty"`
	Item        string   `json:"item" dynamodbav:"item"`
	TotalCost   float64  `json:"total_cost" dynamodbav:"total_cost"`
	ClaimedCost float64  `json:"claimed_cost" dynamodbav:"claimed_cost"`
	Images      []string `json:"images,omitempty" dynamodbav:"images,omitempty"`
	// Timestamp is the service date in epoch millis. Zero means unknown.
	Timestamp int64    `json:"timestamp,omitempty" dynamodbav:"timestamp,omitempty"`
	Rejected  bool     `json:"rejected,omitempty" dynamodbav:"rejected,omitempty"`
	Reviewed  bool     `json:"reviewed,omitempty" dynamodbav:"reviewed,omitempty"`
	Notes     []string `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
	// ClaimID cross-references an external claims system.
	ClaimID string `json:"claim_id,omitempty" dynamodbav:"claim_id,omitempty"`
	// RecordID is the stable external record id of the source row, used for
	// deduplication across uploads.
	RecordID string `json:"record_id,omitempty" dynamodbav:"record_id,omitempty"`
}

// Task is one reviewable unit of work: a claim batch tied to a site. ID is
// immutable after creation; State changes only through the transition engine.
type Task struct {
	ID        string       `json:"id" dynamodbav:"id"`
	State     TaskState    `json:"state" dynamodbav:"state"`
	Site      Site         `json:"site" dynamodbav:"site"`
	Entries   []ClaimEntry `json:"entries" dynamodbav:"entries"`
	CreatedAt int64        `json:"created_at" dynamodbav:"created_at"` // epoch millis
	UpdatedAt int64        `json:"updated_at" dynamodbav:"updated_at"` // epoch millis, touched on every write
}

// Touch bumps UpdatedAt to now.
func (t *Task) Touch(now time.Time) { t.UpdatedAt = now.UnixMilli() }

// Recipient is the destination of a direct payment.
type Recipient struct {
	Phone    string `json:"phone" dynamodbav:"phone"`
	Currency string `json:"currency" dynamodbav:"currency"`
}

// PaymentRecord describes the payment attached to a COMPLETED transition.
// For bundled payments exactly one of BundledTaskIDs (on the primary task)
// or BundledUnderTaskID (on each secondary task) is set, never both.
type PaymentRecord struct {
	Type               PaymentType `json:"type" dynamodbav:"type"`
	Amount             float64     `json:"amount" dynamodbav:"amount"`
	Recipient          *Recipient  `json:"recipient,omitempty" dynamodbav:"recipient,omitempty"`
	ConfirmationNumber string      `json:"confirmation_number,omitempty" dynamodbav:"confirmation_number,omitempty"`
	BundledTaskIDs     []string    `json:"bundled_task_ids,omitempty" dynamodbav:"bundled_task_ids,omitempty"`
	BundledUnderTaskID string      `json:"bundled_under_task_id,omitempty" dynamodbav:"bundled_under_task_id,omitempty"`
}

// Bundled reports whether p participates in a bundle, on either side.
func (p *PaymentRecord) Bundled() bool {
	return len(p.BundledTaskIDs) > 0 || p.BundledUnderTaskID != ""
}

// TaskChangeRecord is one immutable audit-log entry describing a state
// transition. TaskID is a reference, not ownership: the task may be deleted
// independently and the record survives.
type TaskChangeRecord struct {
	TaskID    string    `json:"task_id" dynamodbav:"task_id"`
	FromState TaskState `json:"from_state" dynamodbav:"from_state"`
	State     TaskState `json:"state" dynamodbav:"state"`
	Timestamp int64     `json:"timestamp" dynamodbav:"timestamp"` // epoch millis
	By        string    `json:"by" dynamodbav:"by"`               // actor display name
	Notes     string    `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
	// IdempotencyKey is shared by every record appended in one transition
	// invocation so the store can drop duplicate appends on retry.
	IdempotencyKey string         `json:"idempotency_key" dynamodbav:"idempotency_key"`
	Payment        *PaymentRecord `json:"payment,omitempty" dynamodbav:"payment,omitempty"`
}

// UploadedRecord marks one external record id as ingested. Write-once per id;
// used only for deduplication lookups.
type UploadedRecord struct {
	RecordID  string `json:"record_id" dynamodbav:"record_id"`
	BatchID   string `json:"batch_id" dynamodbav:"batch_id"`
	By        string `json:"by" dynamodbav:"by"`
	Timestamp int64  `json:"timestamp" dynamodbav:"timestamp"` // epoch millis
}

// ClaimRow is one parsed row from an ingestion CSV before it is grouped into
// a Task.
type ClaimRow struct {
	RecordID string
	Site     Site
	Entry    ClaimEntry
}
