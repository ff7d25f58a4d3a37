package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/perf-eval-api/internal/models"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

const evaluationLineColumns = `id, evaluation_period_id, employee_id, evaluator_id, evaluator_type, created_at, updated_at, deleted_at`

// EvaluationLineRepository answers who evaluates whom in a period.
type EvaluationLineRepository struct {
	db *sqlx.DB
}

// NewEvaluationLineRepository creates the repository.
func NewEvaluationLineRepository(db *sqlx.DB) *EvaluationLineRepository {
	return &EvaluationLineRepository{db: db}
}

// FindMapping returns the live mapping of an employee to a period.
func (r *EvaluationLineRepository) FindMapping(ctx context.Context, periodID, employeeID string) (*models.EvaluationMapping, error) {
	q := transaction.Ext(ctx, r.db)
	const query = `SELECT id, evaluation_period_id, employee_id, created_at, updated_at, deleted_at
FROM evaluation_period_employee_mappings
WHERE evaluation_period_id = ? AND employee_id = ? AND deleted_at IS NULL`
	var mapping models.EvaluationMapping
	if err := sqlx.GetContext(ctx, q, &mapping, q.Rebind(query), periodID, employeeID); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// FindMappingByID returns a live mapping by identifier.
func (r *EvaluationLineRepository) FindMappingByID(ctx context.Context, id string) (*models.EvaluationMapping, error) {
	q := transaction.Ext(ctx, r.db)
	const query = `SELECT id, evaluation_period_id, employee_id, created_at, updated_at, deleted_at
FROM evaluation_period_employee_mappings WHERE id = ? AND deleted_at IS NULL`
	var mapping models.EvaluationMapping
	if err := sqlx.GetContext(ctx, q, &mapping, q.Rebind(query), id); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// FindPrimaryEvaluator returns the primary evaluation line of an employee.
func (r *EvaluationLineRepository) FindPrimaryEvaluator(ctx context.Context, periodID, employeeID string) (*models.EvaluationLine, error) {
	q := transaction.Ext(ctx, r.db)
	query := `SELECT ` + evaluationLineColumns + ` FROM evaluation_lines
WHERE evaluation_period_id = ? AND employee_id = ? AND evaluator_type = ? AND deleted_at IS NULL
ORDER BY created_at, id LIMIT 1`
	var line models.EvaluationLine
	if err := sqlx.GetContext(ctx, q, &line, q.Rebind(query), periodID, employeeID, models.EvaluatorPrimary); err != nil {
		return nil, err
	}
	return &line, nil
}

// ListSecondaryEvaluators returns every current secondary evaluation line of an employee.
func (r *EvaluationLineRepository) ListSecondaryEvaluators(ctx context.Context, periodID, employeeID string) ([]models.EvaluationLine, error) {
	q := transaction.Ext(ctx, r.db)
	query := `SELECT ` + evaluationLineColumns + ` FROM evaluation_lines
WHERE evaluation_period_id = ? AND employee_id = ? AND evaluator_type = ? AND deleted_at IS NULL
ORDER BY created_at, id`
	var lines []models.EvaluationLine
	if err := sqlx.SelectContext(ctx, q, &lines, q.Rebind(query), periodID, employeeID, models.EvaluatorSecondary); err != nil {
		return nil, fmt.Errorf("list secondary evaluators: %w", err)
	}
	return lines, nil
}
