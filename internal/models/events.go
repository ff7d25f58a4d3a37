package models

import "time"

// Domain event names.
const (
	EventStepStatusChanged          = "step_approval.status_changed"
	EventSecondaryStepStatusChanged = "secondary_step_approval.status_changed"
	EventRevisionRequested          = "revision_request.requested"
	EventRevisionCompleted          = "revision_request.completed"
	EventRevisionRead               = "revision_request.read"
)

// StepStatusChanged is recorded when a mapping ledger step moves.
type StepStatusChanged struct {
	LedgerID  string
	MappingID string
	Step      Step
	From      StepStatus
	To        StepStatus
	UpdatedBy string
	At        time.Time
}

func (e StepStatusChanged) EventName() string { return EventStepStatusChanged }
func (e StepStatusChanged) OccurredAt() time.Time { return e.At }

// SecondaryStepStatusChanged is recorded when a per-evaluator ledger moves.
type SecondaryStepStatusChanged struct {
	LedgerID          string
	MappingID         string
	EvaluatorID       string
	From              StepStatus
	To                StepStatus
	RevisionRequestID *string
	UpdatedBy         string
	At                time.Time
}

func (e SecondaryStepStatusChanged) EventName() string { return EventSecondaryStepStatusChanged }
func (e SecondaryStepStatusChanged) OccurredAt() time.Time { return e.At }

// RevisionRequested is recorded for every created request.
type RevisionRequested struct {
	RequestID     string
	PeriodID      string
	EmployeeID    string
	Step          Step
	RecipientID   string
	RecipientType RecipientType
	Superseded    []string
	RequestedBy   string
	At            time.Time
}

func (e RevisionRequested) EventName() string { return EventRevisionRequested }
func (e RevisionRequested) OccurredAt() time.Time { return e.At }

// RevisionCompleted is recorded for every recipient that completes.
type RevisionCompleted struct {
	RequestID     string
	PeriodID      string
	EmployeeID    string
	Step          Step
	RecipientID   string
	RecipientType RecipientType
	AutoCompleted bool
	At            time.Time
}

func (e RevisionCompleted) EventName() string { return EventRevisionCompleted }
func (e RevisionCompleted) OccurredAt() time.Time { return e.At }

// RevisionRead is recorded when a recipient first opens a request.
type RevisionRead struct {
	RequestID   string
	RecipientID string
	At          time.Time
}

func (e RevisionRead) EventName() string { return EventRevisionRead }
func (e RevisionRead) OccurredAt() time.Time { return e.At }
