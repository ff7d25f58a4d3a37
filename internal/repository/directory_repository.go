package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/perf-eval-api/internal/models"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

// DirectoryRepository reads employee and period summaries.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository creates the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// EmployeeSummary returns a live employee with its department name.
func (r *DirectoryRepository) EmployeeSummary(ctx context.Context, id string) (*models.EmployeeSummary, error) {
	q := transaction.Ext(ctx, r.db)
	const query = `SELECT e.id, e.employee_number, e.name, e.email, e.department_id, d.name AS department_name
FROM employees e
LEFT JOIN departments d ON d.id = e.department_id AND d.deleted_at IS NULL
WHERE e.id = ? AND e.deleted_at IS NULL`
	var summary models.EmployeeSummary
	if err := sqlx.GetContext(ctx, q, &summary, q.Rebind(query), id); err != nil {
		return nil, err
	}
	return &summary, nil
}

// PeriodSummary returns a live evaluation period.
func (r *DirectoryRepository) PeriodSummary(ctx context.Context, id string) (*models.PeriodSummary, error) {
	q := transaction.Ext(ctx, r.db)
	const query = `SELECT id, name, start_date, end_date, status FROM evaluation_periods WHERE id = ? AND deleted_at IS NULL`
	var summary models.PeriodSummary
	if err := sqlx.GetContext(ctx, q, &summary, q.Rebind(query), id); err != nil {
		return nil, err
	}
	return &summary, nil
}
