package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/perf-eval-api/internal/models"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

const stepApprovalColumns = `id, mapping_id,
criteria_setting_status, criteria_setting_approved_by, criteria_setting_approved_at,
self_evaluation_status, self_evaluation_approved_by, self_evaluation_approved_at,
primary_evaluation_status, primary_evaluation_approved_by, primary_evaluation_approved_at,
secondary_evaluation_status, secondary_evaluation_approved_by, secondary_evaluation_approved_at,
created_at, created_by, updated_at, updated_by, deleted_at, version`

// StepApprovalRepository persists mapping ledgers.
type StepApprovalRepository struct {
	db *sqlx.DB
}

// NewStepApprovalRepository creates the repository.
func NewStepApprovalRepository(db *sqlx.DB) *StepApprovalRepository {
	return &StepApprovalRepository{db: db}
}

// FindByMappingID returns the live ledger of a mapping, locking it when lock is set.
func (r *StepApprovalRepository) FindByMappingID(ctx context.Context, mappingID string, lock bool) (*models.StepApprovalLedger, error) {
	q := transaction.Ext(ctx, r.db)
	query := `SELECT ` + stepApprovalColumns + ` FROM step_approvals WHERE mapping_id = ? AND deleted_at IS NULL`
	if lock {
		query += forUpdate(q)
	}
	var ledger models.StepApprovalLedger
	if err := sqlx.GetContext(ctx, q, &ledger, q.Rebind(query), mappingID); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// Create inserts a new ledger.
func (r *StepApprovalRepository) Create(ctx context.Context, ledger *models.StepApprovalLedger) error {
	q := transaction.Ext(ctx, r.db)
	query := `INSERT INTO step_approvals (` + stepApprovalColumns + `) VALUES (:id, :mapping_id,
:criteria_setting_status, :criteria_setting_approved_by, :criteria_setting_approved_at,
:self_evaluation_status, :self_evaluation_approved_by, :self_evaluation_approved_at,
:primary_evaluation_status, :primary_evaluation_approved_by, :primary_evaluation_approved_at,
:secondary_evaluation_status, :secondary_evaluation_approved_by, :secondary_evaluation_approved_at,
:created_at, :created_by, :updated_at, :updated_by, :deleted_at, :version)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, ledger); err != nil {
		return fmt.Errorf("create step approval: %w", transaction.WithQuery(err, query, ledger.MappingID))
	}
	return nil
}

// Update writes the ledger if nobody else changed it since it was read.
func (r *StepApprovalRepository) Update(ctx context.Context, ledger *models.StepApprovalLedger) error {
	q := transaction.Ext(ctx, r.db)
	query := `UPDATE step_approvals SET
criteria_setting_status = :criteria_setting_status, criteria_setting_approved_by = :criteria_setting_approved_by, criteria_setting_approved_at = :criteria_setting_approved_at,
self_evaluation_status = :self_evaluation_status, self_evaluation_approved_by = :self_evaluation_approved_by, self_evaluation_approved_at = :self_evaluation_approved_at,
primary_evaluation_status = :primary_evaluation_status, primary_evaluation_approved_by = :primary_evaluation_approved_by, primary_evaluation_approved_at = :primary_evaluation_approved_at,
secondary_evaluation_status = :secondary_evaluation_status, secondary_evaluation_approved_by = :secondary_evaluation_approved_by, secondary_evaluation_approved_at = :secondary_evaluation_approved_at,
updated_at = :updated_at, updated_by = :updated_by, deleted_at = :deleted_at, version = version + 1
WHERE id = :id AND version = :version`
	if err := execCAS(ctx, q, "step approval", query, ledger); err != nil {
		return err
	}
	ledger.Version++
	return nil
}
