package models

import (
	"time"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/events"
)

// StepApprovalLedger holds the status of the four workflow steps of one mapping.
type StepApprovalLedger struct {
	ID                            string     `db:"id" json:"id"`
	MappingID                     string     `db:"mapping_id" json:"mappingId"`
	CriteriaSettingStatus         StepStatus `db:"criteria_setting_status" json:"criteriaSettingStatus"`
	CriteriaSettingApprovedBy     *string    `db:"criteria_setting_approved_by" json:"criteriaSettingApprovedBy,omitempty"`
	CriteriaSettingApprovedAt     *time.Time `db:"criteria_setting_approved_at" json:"criteriaSettingApprovedAt,omitempty"`
	SelfEvaluationStatus          StepStatus `db:"self_evaluation_status" json:"selfEvaluationStatus"`
	SelfEvaluationApprovedBy      *string    `db:"self_evaluation_approved_by" json:"selfEvaluationApprovedBy,omitempty"`
	SelfEvaluationApprovedAt      *time.Time `db:"self_evaluation_approved_at" json:"selfEvaluationApprovedAt,omitempty"`
	PrimaryEvaluationStatus       StepStatus `db:"primary_evaluation_status" json:"primaryEvaluationStatus"`
	PrimaryEvaluationApprovedBy   *string    `db:"primary_evaluation_approved_by" json:"primaryEvaluationApprovedBy,omitempty"`
	PrimaryEvaluationApprovedAt   *time.Time `db:"primary_evaluation_approved_at" json:"primaryEvaluationApprovedAt,omitempty"`
	SecondaryEvaluationStatus     StepStatus `db:"secondary_evaluation_status" json:"secondaryEvaluationStatus"`
	SecondaryEvaluationApprovedBy *string    `db:"secondary_evaluation_approved_by" json:"secondaryEvaluationApprovedBy,omitempty"`
	SecondaryEvaluationApprovedAt *time.Time `db:"secondary_evaluation_approved_at" json:"secondaryEvaluationApprovedAt,omitempty"`
	AuditColumns
	events.Recorder `db:"-" json:"-"`
}

// NewStepApprovalLedger returns a ledger with every step pending.
func NewStepApprovalLedger(id, mappingID, createdBy string, at time.Time) *StepApprovalLedger {
	l := &StepApprovalLedger{
		ID:                        id,
		MappingID:                 mappingID,
		CriteriaSettingStatus:     StepStatusPending,
		SelfEvaluationStatus:      StepStatusPending,
		PrimaryEvaluationStatus:   StepStatusPending,
		SecondaryEvaluationStatus: StepStatusPending,
	}
	l.Stamp(at, createdBy)
	return l
}

// approvalSlot points at the status columns of one step.
type approvalSlot struct {
	status     *StepStatus
	approvedBy **string
	approvedAt **time.Time
}

type ledgerSlots struct{ l *StepApprovalLedger }

func (c ledgerSlots) Criteria() (approvalSlot, error) {
	return approvalSlot{&c.l.CriteriaSettingStatus, &c.l.CriteriaSettingApprovedBy, &c.l.CriteriaSettingApprovedAt}, nil
}

func (c ledgerSlots) Self() (approvalSlot, error) {
	return approvalSlot{&c.l.SelfEvaluationStatus, &c.l.SelfEvaluationApprovedBy, &c.l.SelfEvaluationApprovedAt}, nil
}

func (c ledgerSlots) Primary() (approvalSlot, error) {
	return approvalSlot{&c.l.PrimaryEvaluationStatus, &c.l.PrimaryEvaluationApprovedBy, &c.l.PrimaryEvaluationApprovedAt}, nil
}

func (c ledgerSlots) Secondary() (approvalSlot, error) {
	return approvalSlot{&c.l.SecondaryEvaluationStatus, &c.l.SecondaryEvaluationApprovedBy, &c.l.SecondaryEvaluationApprovedAt}, nil
}

// StatusOf returns the current status of step.
func (l *StepApprovalLedger) StatusOf(step Step) (StepStatus, error) {
	slot, err := VisitStep[approvalSlot](step, ledgerSlots{l})
	if err != nil {
		return "", err
	}
	return *slot.status, nil
}

// ChangeStatus moves step to status and records StepStatusChanged.
func (l *StepApprovalLedger) ChangeStatus(step Step, status StepStatus, updatedBy string, at time.Time) error {
	slot, err := VisitStep[approvalSlot](step, ledgerSlots{l})
	if err != nil {
		return err
	}
	from, err := slot.apply(status, updatedBy, at)
	if err != nil {
		return err
	}
	l.Touch(at, updatedBy)
	l.Record(StepStatusChanged{
		LedgerID:  l.ID,
		MappingID: l.MappingID,
		Step:      step,
		From:      from,
		To:        status,
		UpdatedBy: updatedBy,
		At:        at,
	})
	return nil
}

// apply validates the transition and maintains the approver columns, which are only
// populated while the step is approved.
func (s approvalSlot) apply(to StepStatus, updatedBy string, at time.Time) (StepStatus, error) {
	from := *s.status
	if err := CheckTransition(from, to); err != nil {
		return from, err
	}
	*s.status = to
	if to == StepStatusApproved {
		*s.approvedBy = optional(updatedBy)
		*s.approvedAt = &at
	} else {
		*s.approvedBy = nil
		*s.approvedAt = nil
	}
	return from, nil
}

// SecondaryStepApprovalLedger holds the secondary step status for one evaluator.
type SecondaryStepApprovalLedger struct {
	ID                string     `db:"id" json:"id"`
	MappingID         string     `db:"mapping_id" json:"mappingId"`
	EvaluatorID       string     `db:"evaluator_id" json:"evaluatorId"`
	Status            StepStatus `db:"status" json:"status"`
	ApprovedBy        *string    `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	RevisionRequestID *string    `db:"revision_request_id" json:"revisionRequestId,omitempty"`
	AuditColumns
	events.Recorder `db:"-" json:"-"`
}

// NewSecondaryStepApprovalLedger returns a pending per-evaluator ledger.
func NewSecondaryStepApprovalLedger(id, mappingID, evaluatorID, createdBy string, at time.Time) *SecondaryStepApprovalLedger {
	l := &SecondaryStepApprovalLedger{
		ID:          id,
		MappingID:   mappingID,
		EvaluatorID: evaluatorID,
		Status:      StepStatusPending,
	}
	l.Stamp(at, createdBy)
	return l
}

// ChangeStatus moves the evaluator's step. A revision request id is mandatory when
// requesting a revision and is kept as a back-reference afterwards.
func (l *SecondaryStepApprovalLedger) ChangeStatus(status StepStatus, updatedBy string, revisionRequestID *string, at time.Time) error {
	if status == StepStatusRevisionRequested && (revisionRequestID == nil || *revisionRequestID == "") {
		return appErrors.Clone(appErrors.ErrValidation, "revision request id is required for revision_requested")
	}
	slot := approvalSlot{&l.Status, &l.ApprovedBy, &l.ApprovedAt}
	from, err := slot.apply(status, updatedBy, at)
	if err != nil {
		return err
	}
	if revisionRequestID != nil && *revisionRequestID != "" {
		id := *revisionRequestID
		l.RevisionRequestID = &id
	}
	l.Touch(at, updatedBy)
	l.Record(SecondaryStepStatusChanged{
		LedgerID:          l.ID,
		MappingID:         l.MappingID,
		EvaluatorID:       l.EvaluatorID,
		From:              from,
		To:                status,
		RevisionRequestID: l.RevisionRequestID,
		UpdatedBy:         updatedBy,
		At:                at,
	})
	return nil
}
