package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/perf-eval-api/internal/models"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

const secondaryApprovalColumns = `id, mapping_id, evaluator_id, status, approved_by, approved_at, revision_request_id,
created_at, created_by, updated_at, updated_by, deleted_at, version`

// SecondaryStepApprovalRepository persists per-evaluator ledgers of the secondary step.
type SecondaryStepApprovalRepository struct {
	db *sqlx.DB
}

// NewSecondaryStepApprovalRepository creates the repository.
func NewSecondaryStepApprovalRepository(db *sqlx.DB) *SecondaryStepApprovalRepository {
	return &SecondaryStepApprovalRepository{db: db}
}

// Find returns the live ledger for a mapping and evaluator.
func (r *SecondaryStepApprovalRepository) Find(ctx context.Context, mappingID, evaluatorID string, lock bool) (*models.SecondaryStepApprovalLedger, error) {
	q := transaction.Ext(ctx, r.db)
	query := `SELECT ` + secondaryApprovalColumns + ` FROM secondary_step_approvals
WHERE mapping_id = ? AND evaluator_id = ? AND deleted_at IS NULL`
	if lock {
		query += forUpdate(q)
	}
	var ledger models.SecondaryStepApprovalLedger
	if err := sqlx.GetContext(ctx, q, &ledger, q.Rebind(query), mappingID, evaluatorID); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// ListByMapping returns the per-evaluator ledgers of a mapping ordered by evaluator.
func (r *SecondaryStepApprovalRepository) ListByMapping(ctx context.Context, mappingID string, includeDeleted bool) ([]*models.SecondaryStepApprovalLedger, error) {
	q := transaction.Ext(ctx, r.db)
	query := `SELECT ` + secondaryApprovalColumns + ` FROM secondary_step_approvals WHERE mapping_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY evaluator_id`
	var ledgers []*models.SecondaryStepApprovalLedger
	if err := sqlx.SelectContext(ctx, q, &ledgers, q.Rebind(query), mappingID); err != nil {
		return nil, fmt.Errorf("list secondary step approvals: %w", err)
	}
	return ledgers, nil
}

// Create inserts a new per-evaluator ledger.
func (r *SecondaryStepApprovalRepository) Create(ctx context.Context, ledger *models.SecondaryStepApprovalLedger) error {
	q := transaction.Ext(ctx, r.db)
	query := `INSERT INTO secondary_step_approvals (` + secondaryApprovalColumns + `)
VALUES (:id, :mapping_id, :evaluator_id, :status, :approved_by, :approved_at, :revision_request_id,
:created_at, :created_by, :updated_at, :updated_by, :deleted_at, :version)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, ledger); err != nil {
		return fmt.Errorf("create secondary step approval: %w", transaction.WithQuery(err, query, ledger.MappingID, ledger.EvaluatorID))
	}
	return nil
}

// Update writes the ledger guarded by its version.
func (r *SecondaryStepApprovalRepository) Update(ctx context.Context, ledger *models.SecondaryStepApprovalLedger) error {
	q := transaction.Ext(ctx, r.db)
	query := `UPDATE secondary_step_approvals SET status = :status, approved_by = :approved_by, approved_at = :approved_at,
revision_request_id = :revision_request_id, updated_at = :updated_at, updated_by = :updated_by, deleted_at = :deleted_at,
version = version + 1
WHERE id = :id AND version = :version`
	if err := execCAS(ctx, q, "secondary step approval", query, ledger); err != nil {
		return err
	}
	ledger.Version++
	return nil
}
