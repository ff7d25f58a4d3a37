package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/internal/models"
	"github.com/noah-isme/perf-eval-api/pkg/events"
)

// RegisterWorkflowEventHandlers subscribes the post-commit reactions of the workflow:
// unread counters are invalidated and every transition is logged.
func RegisterWorkflowEventHandlers(registry *events.Registry, cache *CacheService, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	invalidate := func(ctx context.Context, recipientID string) error {
		return cache.Delete(ctx, unreadCacheKey(recipientID))
	}

	return errors.Join(
		registry.Register(models.EventRevisionRequested, func(ctx context.Context, event events.Event) error {
			e, ok := event.(models.RevisionRequested)
			if !ok {
				return nil
			}
			logger.Info("revision requested",
				zap.String("revision_request_id", e.RequestID),
				zap.String("employee_id", e.EmployeeID),
				zap.String("step", string(e.Step)),
				zap.String("recipient_id", e.RecipientID),
				zap.Strings("superseded", e.Superseded),
			)
			return invalidate(ctx, e.RecipientID)
		}),
		registry.Register(models.EventRevisionRead, func(ctx context.Context, event events.Event) error {
			e, ok := event.(models.RevisionRead)
			if !ok {
				return nil
			}
			return invalidate(ctx, e.RecipientID)
		}),
		registry.Register(models.EventRevisionCompleted, func(_ context.Context, event events.Event) error {
			e, ok := event.(models.RevisionCompleted)
			if !ok {
				return nil
			}
			logger.Info("revision completed",
				zap.String("revision_request_id", e.RequestID),
				zap.String("recipient_id", e.RecipientID),
				zap.String("recipient_type", string(e.RecipientType)),
				zap.Bool("auto_completed", e.AutoCompleted),
			)
			return nil
		}),
		registry.Register(models.EventStepStatusChanged, func(_ context.Context, event events.Event) error {
			e, ok := event.(models.StepStatusChanged)
			if !ok {
				return nil
			}
			logger.Info("step status changed",
				zap.String("mapping_id", e.MappingID),
				zap.String("step", string(e.Step)),
				zap.String("from", string(e.From)),
				zap.String("to", string(e.To)),
				zap.String("updated_by", e.UpdatedBy),
			)
			return nil
		}),
		registry.Register(models.EventSecondaryStepStatusChanged, func(_ context.Context, event events.Event) error {
			e, ok := event.(models.SecondaryStepStatusChanged)
			if !ok {
				return nil
			}
			logger.Info("secondary step status changed",
				zap.String("mapping_id", e.MappingID),
				zap.String("evaluator_id", e.EvaluatorID),
				zap.String("from", string(e.From)),
				zap.String("to", string(e.To)),
			)
			return nil
		}),
	)
}
