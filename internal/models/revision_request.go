package models

import (
	"time"

	"github.com/noah-isme/perf-eval-api/pkg/events"
)

// RecipientType classifies who a revision request is addressed to.
type RecipientType string

const (
	RecipientEvaluatee          RecipientType = "evaluatee"
	RecipientPrimaryEvaluator   RecipientType = "primary_evaluator"
	RecipientSecondaryEvaluator RecipientType = "secondary_evaluator"
)

// Valid reports whether t is a known recipient type.
func (t RecipientType) Valid() bool {
	switch t {
	case RecipientEvaluatee, RecipientPrimaryEvaluator, RecipientSecondaryEvaluator:
		return true
	default:
		return false
	}
}

// Counterpart returns the jointly-owning party for criteria and self steps.
func (t RecipientType) Counterpart() (RecipientType, bool) {
	switch t {
	case RecipientEvaluatee:
		return RecipientPrimaryEvaluator, true
	case RecipientPrimaryEvaluator:
		return RecipientEvaluatee, true
	default:
		return "", false
	}
}

// RevisionRequest asks recipients to revise one step of an employee's evaluation.
type RevisionRequest struct {
	ID                 string                      `db:"id" json:"id"`
	EvaluationPeriodID string                      `db:"evaluation_period_id" json:"evaluationPeriodId"`
	EmployeeID         string                      `db:"employee_id" json:"employeeId"`
	Step               Step                        `db:"step" json:"step"`
	Comment            string                      `db:"comment" json:"comment"`
	RequestedBy        string                      `db:"requested_by" json:"requestedBy"`
	RequestedAt        time.Time                   `db:"requested_at" json:"requestedAt"`
	Recipients         []*RevisionRequestRecipient `db:"-" json:"recipients"`
	AuditColumns
	events.Recorder `db:"-" json:"-"`
}

// ActiveRecipients returns the recipients that are not soft-deleted.
func (r *RevisionRequest) ActiveRecipients() []*RevisionRequestRecipient {
	out := make([]*RevisionRequestRecipient, 0, len(r.Recipients))
	for _, rc := range r.Recipients {
		if !rc.IsDeleted() {
			out = append(out, rc)
		}
	}
	return out
}

// Recipient returns the active recipient with the given id.
func (r *RevisionRequest) Recipient(recipientID string) *RevisionRequestRecipient {
	for _, rc := range r.ActiveRecipients() {
		if rc.RecipientID == recipientID {
			return rc
		}
	}
	return nil
}

// OpenRecipient returns the active, non-completed recipient matching id and type.
func (r *RevisionRequest) OpenRecipient(recipientID string, typ RecipientType) *RevisionRequestRecipient {
	for _, rc := range r.ActiveRecipients() {
		if rc.RecipientID == recipientID && rc.RecipientType == typ && !rc.IsCompleted {
			return rc
		}
	}
	return nil
}

// OpenRecipientOfType returns the first active, non-completed recipient of typ.
func (r *RevisionRequest) OpenRecipientOfType(typ RecipientType) *RevisionRequestRecipient {
	for _, rc := range r.ActiveRecipients() {
		if rc.RecipientType == typ && !rc.IsCompleted {
			return rc
		}
	}
	return nil
}

// IsResolved reports whether every active recipient has completed.
func (r *RevisionRequest) IsResolved() bool {
	active := r.ActiveRecipients()
	if len(active) == 0 {
		return false
	}
	for _, rc := range active {
		if !rc.IsCompleted {
			return false
		}
	}
	return true
}

// RevisionRequestRecipient tracks one addressee of a revision request.
type RevisionRequestRecipient struct {
	ID                string        `db:"id" json:"id"`
	RevisionRequestID string        `db:"revision_request_id" json:"revisionRequestId"`
	RecipientID       string        `db:"recipient_id" json:"recipientId"`
	RecipientType     RecipientType `db:"recipient_type" json:"recipientType"`
	IsRead            bool          `db:"is_read" json:"isRead"`
	ReadAt            *time.Time    `db:"read_at" json:"readAt,omitempty"`
	IsCompleted       bool          `db:"is_completed" json:"isCompleted"`
	CompletedAt       *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	ResponseComment   *string       `db:"response_comment" json:"responseComment,omitempty"`
	AuditColumns
}

// Complete marks the recipient completed. It reports false when already completed.
func (rc *RevisionRequestRecipient) Complete(comment, by string, at time.Time) bool {
	if rc.IsCompleted {
		return false
	}
	rc.IsCompleted = true
	rc.CompletedAt = &at
	rc.ResponseComment = optional(comment)
	rc.Touch(at, by)
	return true
}

// MarkRead flags the recipient as read. It reports false when already read.
func (rc *RevisionRequestRecipient) MarkRead(at time.Time) bool {
	if rc.IsRead {
		return false
	}
	rc.IsRead = true
	rc.ReadAt = &at
	rc.Touch(at, rc.RecipientID)
	return true
}

// RevisionRequestFilter constrains request listings.
type RevisionRequestFilter struct {
	EvaluationPeriodID string
	EmployeeID         string
	Step               Step
	RequestedBy        string
	IncludeDeleted     bool
	Limit              int
	Offset             int
}

// RecipientFilter constrains a recipient's own listing.
type RecipientFilter struct {
	RecipientID    string
	IsRead         *bool
	IsCompleted    *bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// RevisionKey identifies the requests that share a lock scope.
type RevisionKey struct {
	EvaluationPeriodID string
	EmployeeID         string
	Step               Step
}
