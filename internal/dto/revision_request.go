package dto

import "github.com/noah-isme/perf-eval-api/internal/models"

// CreateRevisionRequest asks the recipients of a step to revise it.
type CreateRevisionRequest struct {
	EvaluationPeriodID string      `json:"evaluationPeriodId" validate:"required"`
	EmployeeID         string      `json:"employeeId" validate:"required"`
	Step               models.Step `json:"step" validate:"required,oneof=criteria self primary secondary"`
	Comment            string      `json:"comment" validate:"required"`
	RequestedBy        string      `json:"requestedBy" validate:"required"`

	// EvaluatorID limits a secondary request to one secondary evaluator.
	EvaluatorID string `json:"evaluatorId"`
}

// RecipientFailure describes a recipient whose request could not be created.
type RecipientFailure struct {
	RecipientID   string               `json:"recipientId"`
	RecipientType models.RecipientType `json:"recipientType"`
	Error         string               `json:"error"`
}

// CreateRevisionResult carries one request per successfully addressed recipient.
type CreateRevisionResult struct {
	Requests []*models.RevisionRequest `json:"requests"`
	Failed   []RecipientFailure        `json:"failed,omitempty"`
}

// CompletionResult reports the outcome of a recipient completion.
type CompletionResult struct {
	Request  *models.RevisionRequest `json:"request"`
	Resolved bool                    `json:"resolved"`

	// AutoCompleted lists recipient ids completed through cross-linking.
	AutoCompleted []string `json:"autoCompleted,omitempty"`
}

// CompleteForRequest completes a request located by business keys.
type CompleteForRequest struct {
	EvaluationPeriodID string      `json:"evaluationPeriodId" validate:"required"`
	EmployeeID         string      `json:"employeeId" validate:"required"`
	EvaluatorID        string      `json:"evaluatorId" validate:"required"`
	Step               models.Step `json:"step" validate:"required,oneof=criteria self primary secondary"`
	Comment            string      `json:"comment"`
}

// AutoCompleteRequest treats a submitter's own action as completing their open requests.
type AutoCompleteRequest struct {
	EvaluationPeriodID string               `json:"evaluationPeriodId" validate:"required"`
	EmployeeID         string               `json:"employeeId" validate:"required"`
	Step               models.Step          `json:"step" validate:"required,oneof=criteria self primary secondary"`
	RecipientID        string               `json:"recipientId" validate:"required"`
	RecipientType      models.RecipientType `json:"recipientType" validate:"required,oneof=evaluatee primary_evaluator secondary_evaluator"`
	Comment            string               `json:"comment"`
}

// RevisionRequestQuery filters the administrative listing.
type RevisionRequestQuery struct {
	EvaluationPeriodID string      `form:"evaluationPeriodId"`
	EmployeeID         string      `form:"employeeId"`
	Step               models.Step `form:"step"`
	RequestedBy        string      `form:"requestedBy"`
	Page               int         `form:"page"`
	PageSize           int         `form:"pageSize"`
}

// MyRevisionRequestQuery filters a recipient's own listing.
type MyRevisionRequestQuery struct {
	IsRead      *bool `form:"isRead"`
	IsCompleted *bool `form:"isCompleted"`
	Page        int   `form:"page"`
	PageSize    int   `form:"pageSize"`
}

// RevisionRequestItem is a request enriched with directory summaries.
type RevisionRequestItem struct {
	Request  *models.RevisionRequest `json:"request"`
	Employee *models.EmployeeSummary `json:"employee"`
	Period   *models.PeriodSummary   `json:"period"`
}

// MyRevisionRequestItem adds the caller's own recipient row.
type MyRevisionRequestItem struct {
	RevisionRequestItem
	Recipient *models.RevisionRequestRecipient `json:"recipient"`
}

// RevisionRequestList is a page of enriched requests.
type RevisionRequestList struct {
	Items      []RevisionRequestItem `json:"items"`
	Pagination models.Pagination     `json:"pagination"`

	// Skipped counts items dropped because a directory lookup found nothing.
	Skipped int `json:"skipped"`
}

// MyRevisionRequestList is a page of the caller's requests.
type MyRevisionRequestList struct {
	Items      []MyRevisionRequestItem `json:"items"`
	Pagination models.Pagination       `json:"pagination"`
	Skipped    int                     `json:"skipped"`
}
