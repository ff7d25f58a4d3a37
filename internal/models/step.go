package models

import (
	"fmt"
	"strings"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
)

// Step identifies one of the four sequential evaluation workflow phases.
type Step string

const (
	StepCriteria  Step = "criteria"
	StepSelf      Step = "self"
	StepPrimary   Step = "primary"
	StepSecondary Step = "secondary"
)

// Steps lists every workflow phase in order.
var Steps = []Step{StepCriteria, StepSelf, StepPrimary, StepSecondary}

// ParseStep converts user input into a Step.
func ParseStep(raw string) (Step, error) {
	step := Step(strings.ToLower(strings.TrimSpace(raw)))
	if !step.Valid() {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown step %q", raw))
	}
	return step, nil
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	switch s {
	case StepCriteria, StepSelf, StepPrimary, StepSecondary:
		return true
	default:
		return false
	}
}

// JointlyOwned reports whether evaluatee and primary evaluator both own the step.
func (s Step) JointlyOwned() bool {
	return s == StepCriteria || s == StepSelf
}

// StepCases handles each step. Implementations must cover all four, so adding a step
// breaks every consumer at compile time.
type StepCases[T any] interface {
	Criteria() (T, error)
	Self() (T, error)
	Primary() (T, error)
	Secondary() (T, error)
}

// VisitStep dispatches step to the matching case.
func VisitStep[T any](step Step, cases StepCases[T]) (T, error) {
	switch step {
	case StepCriteria:
		return cases.Criteria()
	case StepSelf:
		return cases.Self()
	case StepPrimary:
		return cases.Primary()
	case StepSecondary:
		return cases.Secondary()
	}
	var zero T
	return zero, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown step %q", step))
}

// StepStatus is the approval state of a single step.
type StepStatus string

const (
	StepStatusPending           StepStatus = "pending"
	StepStatusApproved          StepStatus = "approved"
	StepStatusRevisionRequested StepStatus = "revision_requested"
	StepStatusRevisionCompleted StepStatus = "revision_completed"
)

// ParseStepStatus converts user input into a StepStatus.
func ParseStepStatus(raw string) (StepStatus, error) {
	status := StepStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[status]; !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown step status %q", raw))
	}
	return status, nil
}

var transitions = map[StepStatus][]StepStatus{
	StepStatusPending:           {StepStatusPending, StepStatusApproved, StepStatusRevisionRequested},
	StepStatusApproved:          {StepStatusPending, StepStatusRevisionRequested},
	StepStatusRevisionRequested: {StepStatusRevisionRequested, StepStatusRevisionCompleted},
	StepStatusRevisionCompleted: {StepStatusPending, StepStatusRevisionRequested},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckTransition returns a validation error when from cannot move to to.
func CheckTransition(from, to StepStatus) error {
	if from.CanTransitionTo(to) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid step status transition %s -> %s", from, to))
}
