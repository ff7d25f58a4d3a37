package models

import "time"

// EvaluatorType distinguishes the evaluation line an evaluator sits on.
type EvaluatorType string

const (
	EvaluatorPrimary   EvaluatorType = "primary"
	EvaluatorSecondary EvaluatorType = "secondary"
)

// EmployeeSummary is the display projection of an employee.
type EmployeeSummary struct {
	ID             string  `db:"id" json:"id"`
	EmployeeNumber string  `db:"employee_number" json:"employeeNumber"`
	Name           string  `db:"name" json:"name"`
	Email          *string `db:"email" json:"email,omitempty"`
	DepartmentID   *string `db:"department_id" json:"departmentId,omitempty"`
	DepartmentName *string `db:"department_name" json:"departmentName,omitempty"`
}

// PeriodSummary is the display projection of an evaluation period.
type PeriodSummary struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	StartDate time.Time  `db:"start_date" json:"startDate"`
	EndDate   *time.Time `db:"end_date" json:"endDate,omitempty"`
	Status    string     `db:"status" json:"status"`
}

// EvaluationMapping pairs an employee with an evaluation period.
type EvaluationMapping struct {
	ID                 string     `db:"id" json:"id"`
	EvaluationPeriodID string     `db:"evaluation_period_id" json:"evaluationPeriodId"`
	EmployeeID         string     `db:"employee_id" json:"employeeId"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt          *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}

// EvaluationLine assigns an evaluator to an employee for a period.
type EvaluationLine struct {
	ID                 string        `db:"id" json:"id"`
	EvaluationPeriodID string        `db:"evaluation_period_id" json:"evaluationPeriodId"`
	EmployeeID         string        `db:"employee_id" json:"employeeId"`
	EvaluatorID        string        `db:"evaluator_id" json:"evaluatorId"`
	EvaluatorType      EvaluatorType `db:"evaluator_type" json:"evaluatorType"`
	CreatedAt          time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updatedAt"`
	DeletedAt          *time.Time    `db:"deleted_at" json:"deletedAt,omitempty"`
}
