package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/internal/dto"
	"github.com/noah-isme/perf-eval-api/internal/models"
	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

type stepStatusUpdater interface {
	ChangeStepStatus(ctx context.Context, params ChangeStepStatusParams) (*models.StepApprovalLedger, error)
	ChangeSecondaryStepStatus(ctx context.Context, params ChangeSecondaryStepStatusParams) (*models.SecondaryStepApprovalLedger, error)
	ReconcileSecondaryStep(ctx context.Context, mappingID, updatedBy string) (*models.StepApprovalLedger, error)
}

type revisionCreator interface {
	CreateRevisionRequest(ctx context.Context, req dto.CreateRevisionRequest) (*dto.CreateRevisionResult, error)
}

// StepWorkflowService is the entry point for moving a workflow step. Requesting a
// revision also fans the request out to the step's owners in the same transaction.
type StepWorkflowService struct {
	tx        txRunner
	lines     evaluationLineReader
	approvals stepStatusUpdater
	revisions revisionCreator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStepWorkflowService wires the workflow entry point.
func NewStepWorkflowService(tx txRunner, lines evaluationLineReader, approvals stepStatusUpdater, revisions revisionCreator, validate *validator.Validate, logger *zap.Logger) *StepWorkflowService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepWorkflowService{
		tx:        tx,
		lines:     lines,
		approvals: approvals,
		revisions: revisions,
		validator: validate,
		logger:    logger,
	}
}

// UpdateStep applies a status change to an employee's step.
func (s *StepWorkflowService) UpdateStep(ctx context.Context, req dto.UpdateStepRequest) (*dto.UpdateStepResult, error) {
	req.Comment = strings.TrimSpace(req.Comment)
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	if req.Status == models.StepStatusRevisionRequested && req.Comment == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment is required when requesting a revision")
	}
	if req.Step == models.StepSecondary && req.Status != models.StepStatusRevisionRequested && req.EvaluatorID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "evaluatorId is required for secondary step updates")
	}

	var result *dto.UpdateStepResult
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, nil, func(ctx context.Context) error {
		result = &dto.UpdateStepResult{}
		mapping, err := s.lines.FindMapping(ctx, req.EvaluationPeriodID, req.EmployeeID)
		if err != nil {
			return notFound(err, "employee is not part of the evaluation period")
		}
		if req.Status == models.StepStatusRevisionRequested {
			return s.requestRevision(ctx, mapping, req, result)
		}
		if req.Step == models.StepSecondary {
			secondary, err := s.approvals.ChangeSecondaryStepStatus(ctx, ChangeSecondaryStepStatusParams{
				MappingID:   mapping.ID,
				EvaluatorID: req.EvaluatorID,
				Status:      req.Status,
				UpdatedBy:   req.UpdatedBy,
			})
			if err != nil {
				return err
			}
			result.SecondaryLedgers = append(result.SecondaryLedgers, secondary)
			result.Ledger, err = s.approvals.ReconcileSecondaryStep(ctx, mapping.ID, req.UpdatedBy)
			return err
		}
		result.Ledger, err = s.approvals.ChangeStepStatus(ctx, ChangeStepStatusParams{
			MappingID: mapping.ID,
			Step:      req.Step,
			Status:    req.Status,
			UpdatedBy: req.UpdatedBy,
		})
		return err
	}, transaction.WithOperation("step_workflow.update_step"))
	if err != nil {
		return nil, finish(ctx, err)
	}
	s.logger.Info("workflow step updated",
		zap.String("employee_id", req.EmployeeID),
		zap.String("evaluation_period_id", req.EvaluationPeriodID),
		zap.String("step", string(req.Step)),
		zap.String("status", string(req.Status)),
		zap.Int("revision_requests", len(result.RevisionRequests)),
	)
	return result, nil
}

func (s *StepWorkflowService) requestRevision(ctx context.Context, mapping *models.EvaluationMapping, req dto.UpdateStepRequest, result *dto.UpdateStepResult) error {
	created, err := s.revisions.CreateRevisionRequest(ctx, dto.CreateRevisionRequest{
		EvaluationPeriodID: req.EvaluationPeriodID,
		EmployeeID:         req.EmployeeID,
		Step:               req.Step,
		Comment:            req.Comment,
		RequestedBy:        req.UpdatedBy,
		EvaluatorID:        req.EvaluatorID,
	})
	if err != nil {
		return err
	}
	result.RevisionRequests = created.Requests
	result.Failed = created.Failed

	if req.Step == models.StepSecondary {
		for _, request := range created.Requests {
			requestID := request.ID
			for _, rc := range request.ActiveRecipients() {
				secondary, err := s.approvals.ChangeSecondaryStepStatus(ctx, ChangeSecondaryStepStatusParams{
					MappingID:         mapping.ID,
					EvaluatorID:       rc.RecipientID,
					Status:            models.StepStatusRevisionRequested,
					UpdatedBy:         req.UpdatedBy,
					RevisionRequestID: &requestID,
				})
				if err != nil {
					return err
				}
				result.SecondaryLedgers = append(result.SecondaryLedgers, secondary)
			}
		}
	}

	result.Ledger, err = s.approvals.ChangeStepStatus(ctx, ChangeStepStatusParams{
		MappingID: mapping.ID,
		Step:      req.Step,
		Status:    models.StepStatusRevisionRequested,
		UpdatedBy: req.UpdatedBy,
	})
	return err
}
