package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/internal/models"
	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/events"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

type stepApprovalStore interface {
	FindByMappingID(ctx context.Context, mappingID string, lock bool) (*models.StepApprovalLedger, error)
	Create(ctx context.Context, ledger *models.StepApprovalLedger) error
	Update(ctx context.Context, ledger *models.StepApprovalLedger) error
}

type secondaryApprovalStore interface {
	Find(ctx context.Context, mappingID, evaluatorID string, lock bool) (*models.SecondaryStepApprovalLedger, error)
	ListByMapping(ctx context.Context, mappingID string, includeDeleted bool) ([]*models.SecondaryStepApprovalLedger, error)
	Create(ctx context.Context, ledger *models.SecondaryStepApprovalLedger) error
	Update(ctx context.Context, ledger *models.SecondaryStepApprovalLedger) error
}

type revisionLookup interface {
	FindByID(ctx context.Context, id string, includeDeleted bool) (*models.RevisionRequest, error)
}

// ChangeStepStatusParams moves one step of a mapping ledger.
type ChangeStepStatusParams struct {
	MappingID string
	Step      models.Step
	Status    models.StepStatus
	UpdatedBy string
}

// ChangeSecondaryStepStatusParams moves one evaluator's secondary step.
type ChangeSecondaryStepStatusParams struct {
	MappingID         string
	EvaluatorID       string
	Status            models.StepStatus
	UpdatedBy         string
	RevisionRequestID *string
}

// StepApprovalService owns the per-mapping approval ledger and the per-evaluator
// secondary ledgers. Ledgers are created lazily on first write.
type StepApprovalService struct {
	tx        txRunner
	ledgers   stepApprovalStore
	secondary secondaryApprovalStore
	lines     evaluationLineReader
	revisions revisionLookup
	logger    *zap.Logger
	now       func() time.Time
}

// NewStepApprovalService wires the ledger service.
func NewStepApprovalService(tx txRunner, ledgers stepApprovalStore, secondary secondaryApprovalStore, lines evaluationLineReader, revisions revisionLookup, logger *zap.Logger) *StepApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepApprovalService{
		tx:        tx,
		ledgers:   ledgers,
		secondary: secondary,
		lines:     lines,
		revisions: revisions,
		logger:    logger,
		now:       utcNow,
	}
}

// GetLedger returns the mapping ledger or NotFound when none was written yet.
func (s *StepApprovalService) GetLedger(ctx context.Context, mappingID string) (*models.StepApprovalLedger, error) {
	ledger, err := s.ledgers.FindByMappingID(ctx, mappingID, false)
	if err != nil {
		return nil, notFound(err, "step approval not found")
	}
	return ledger, nil
}

// ListSecondaryLedgers returns the live per-evaluator ledgers of a mapping.
func (s *StepApprovalService) ListSecondaryLedgers(ctx context.Context, mappingID string) ([]*models.SecondaryStepApprovalLedger, error) {
	return s.secondary.ListByMapping(ctx, mappingID, false)
}

// ChangeStepStatus validates and persists a step transition, emitting a status change
// event once the surrounding transaction commits.
func (s *StepApprovalService) ChangeStepStatus(ctx context.Context, params ChangeStepStatusParams) (*models.StepApprovalLedger, error) {
	if !params.Step.Valid() {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown step %q", params.Step)
	}
	var result *models.StepApprovalLedger
	collector := events.NewCollector()
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{collector}, func(ctx context.Context) error {
		if _, err := s.lines.FindMappingByID(ctx, params.MappingID); err != nil {
			return notFound(err, "evaluation mapping not found")
		}
		ledger, err := s.ensureLedger(ctx, params.MappingID, params.UpdatedBy)
		if err != nil {
			return err
		}
		if err := ledger.ChangeStatus(params.Step, params.Status, params.UpdatedBy, s.now()); err != nil {
			return err
		}
		if err := s.ledgers.Update(ctx, ledger); err != nil {
			return err
		}
		collector.Track(ledger)
		result = ledger
		return nil
	}, transaction.WithOperation("step_approval.change_status"))
	if err != nil {
		return nil, finish(ctx, err)
	}
	s.logger.Debug("step status changed",
		zap.String("mapping_id", params.MappingID),
		zap.String("step", string(params.Step)),
		zap.String("status", string(params.Status)),
	)
	return result, nil
}

// ChangeSecondaryStepStatus moves the secondary step of one current secondary evaluator.
func (s *StepApprovalService) ChangeSecondaryStepStatus(ctx context.Context, params ChangeSecondaryStepStatusParams) (*models.SecondaryStepApprovalLedger, error) {
	if params.EvaluatorID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "evaluator id is required")
	}
	var result *models.SecondaryStepApprovalLedger
	collector := events.NewCollector()
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{collector}, func(ctx context.Context) error {
		mapping, err := s.lines.FindMappingByID(ctx, params.MappingID)
		if err != nil {
			return notFound(err, "evaluation mapping not found")
		}
		if err := s.requireSecondaryEvaluator(ctx, mapping, params.EvaluatorID); err != nil {
			return err
		}
		if params.Status == models.StepStatusRevisionRequested {
			if params.RevisionRequestID == nil || *params.RevisionRequestID == "" {
				return appErrors.Clone(appErrors.ErrValidation, "revision request id is required for revision_requested")
			}
			if _, err := s.revisions.FindByID(ctx, *params.RevisionRequestID, false); err != nil {
				return notFound(err, "revision request not found")
			}
		}
		ledger, err := s.ensureSecondaryLedger(ctx, params.MappingID, params.EvaluatorID, params.UpdatedBy)
		if err != nil {
			return err
		}
		if err := ledger.ChangeStatus(params.Status, params.UpdatedBy, params.RevisionRequestID, s.now()); err != nil {
			return err
		}
		if err := s.secondary.Update(ctx, ledger); err != nil {
			return err
		}
		collector.Track(ledger)
		result = ledger
		return nil
	}, transaction.WithOperation("secondary_step_approval.change_status"))
	if err != nil {
		return nil, finish(ctx, err)
	}
	return result, nil
}

// ReconcileSecondaryStep moves the mapping ledger's secondary step to the status
// aggregated over all current secondary evaluators. Transitions the ledger does not
// allow are left alone.
func (s *StepApprovalService) ReconcileSecondaryStep(ctx context.Context, mappingID, updatedBy string) (*models.StepApprovalLedger, error) {
	var result *models.StepApprovalLedger
	collector := events.NewCollector()
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{collector}, func(ctx context.Context) error {
		mapping, err := s.lines.FindMappingByID(ctx, mappingID)
		if err != nil {
			return notFound(err, "evaluation mapping not found")
		}
		evaluators, err := s.lines.ListSecondaryEvaluators(ctx, mapping.EvaluationPeriodID, mapping.EmployeeID)
		if err != nil {
			return err
		}
		ledgers, err := s.secondary.ListByMapping(ctx, mappingID, false)
		if err != nil {
			return err
		}
		target := aggregateSecondaryStatus(evaluators, ledgers)

		ledger, err := s.ensureLedger(ctx, mappingID, updatedBy)
		if err != nil {
			return err
		}
		result = ledger
		if ledger.SecondaryEvaluationStatus == target || !ledger.SecondaryEvaluationStatus.CanTransitionTo(target) {
			return nil
		}
		if err := ledger.ChangeStatus(models.StepSecondary, target, updatedBy, s.now()); err != nil {
			return err
		}
		if err := s.ledgers.Update(ctx, ledger); err != nil {
			return err
		}
		collector.Track(ledger)
		return nil
	}, transaction.WithOperation("step_approval.reconcile_secondary"))
	if err != nil {
		return nil, finish(ctx, err)
	}
	return result, nil
}

// aggregateSecondaryStatus folds per-evaluator statuses: any open revision wins, then
// unanimous approval, then any pending evaluator. Evaluators without a ledger count as pending.
func aggregateSecondaryStatus(evaluators []models.EvaluationLine, ledgers []*models.SecondaryStepApprovalLedger) models.StepStatus {
	if len(evaluators) == 0 {
		return models.StepStatusPending
	}
	byEvaluator := make(map[string]models.StepStatus, len(ledgers))
	for _, l := range ledgers {
		byEvaluator[l.EvaluatorID] = l.Status
	}
	counts := make(map[models.StepStatus]int)
	for _, line := range evaluators {
		status, ok := byEvaluator[line.EvaluatorID]
		if !ok {
			status = models.StepStatusPending
		}
		counts[status]++
	}
	switch {
	case counts[models.StepStatusRevisionRequested] > 0:
		return models.StepStatusRevisionRequested
	case counts[models.StepStatusApproved] == len(evaluators):
		return models.StepStatusApproved
	case counts[models.StepStatusPending] > 0:
		return models.StepStatusPending
	default:
		return models.StepStatusRevisionCompleted
	}
}

func (s *StepApprovalService) requireSecondaryEvaluator(ctx context.Context, mapping *models.EvaluationMapping, evaluatorID string) error {
	lines, err := s.lines.ListSecondaryEvaluators(ctx, mapping.EvaluationPeriodID, mapping.EmployeeID)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if line.EvaluatorID == evaluatorID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrNotFound, "secondary evaluator not found for employee")
}

// ensureLedger loads the mapping ledger for update, inserting it on first use. The
// insert runs in a savepoint so losing the creation race only rolls back the insert.
func (s *StepApprovalService) ensureLedger(ctx context.Context, mappingID, createdBy string) (*models.StepApprovalLedger, error) {
	ledger, err := s.ledgers.FindByMappingID(ctx, mappingID, true)
	if err == nil {
		return ledger, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	ledger = models.NewStepApprovalLedger(uuid.NewString(), mappingID, createdBy, s.now())
	err = s.tx.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
		return s.ledgers.Create(ctx, ledger)
	}, transaction.WithOperation("step_approval.create"), transaction.WithMaxRetries(1))
	if transaction.IsType(err, transaction.UniqueViolation) {
		s.logger.Debug("step approval created concurrently", zap.String("mapping_id", mappingID))
		return s.ledgers.FindByMappingID(ctx, mappingID, true)
	}
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func (s *StepApprovalService) ensureSecondaryLedger(ctx context.Context, mappingID, evaluatorID, createdBy string) (*models.SecondaryStepApprovalLedger, error) {
	ledger, err := s.secondary.Find(ctx, mappingID, evaluatorID, true)
	if err == nil {
		return ledger, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	ledger = models.NewSecondaryStepApprovalLedger(uuid.NewString(), mappingID, evaluatorID, createdBy, s.now())
	err = s.tx.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
		return s.secondary.Create(ctx, ledger)
	}, transaction.WithOperation("secondary_step_approval.create"), transaction.WithMaxRetries(1))
	if transaction.IsType(err, transaction.UniqueViolation) {
		return s.secondary.Find(ctx, mappingID, evaluatorID, true)
	}
	if err != nil {
		return nil, err
	}
	return ledger, nil
}
