package dto

import "github.com/noah-isme/perf-eval-api/internal/models"

// UpdateStepRequest changes the status of one workflow step for an employee.
type UpdateStepRequest struct {
	EvaluationPeriodID string            `json:"evaluationPeriodId" validate:"required"`
	EmployeeID         string            `json:"employeeId" validate:"required"`
	Step               models.Step       `json:"step" validate:"required,oneof=criteria self primary secondary"`
	Status             models.StepStatus `json:"status" validate:"required,oneof=pending approved revision_requested revision_completed"`
	Comment            string            `json:"comment"`

	// EvaluatorID narrows a secondary step update to one evaluator.
	EvaluatorID string `json:"evaluatorId"`
	UpdatedBy   string `json:"updatedBy" validate:"required"`
}

// UpdateStepResult reports the ledgers and requests touched by UpdateStep.
type UpdateStepResult struct {
	Ledger           *models.StepApprovalLedger            `json:"ledger"`
	SecondaryLedgers []*models.SecondaryStepApprovalLedger `json:"secondaryLedgers,omitempty"`
	RevisionRequests []*models.RevisionRequest             `json:"revisionRequests,omitempty"`
	Failed           []RecipientFailure                    `json:"failed,omitempty"`
}
