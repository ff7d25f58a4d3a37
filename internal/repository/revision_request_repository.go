package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/perf-eval-api/internal/models"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

const revisionRequestColumns = `id, evaluation_period_id, employee_id, step, comment, requested_by, requested_at,
created_at, created_by, updated_at, updated_by, deleted_at, version`

const recipientColumns = `id, revision_request_id, recipient_id, recipient_type, is_read, read_at, is_completed, completed_at,
response_comment, created_at, created_by, updated_at, updated_by, deleted_at, version`

// RevisionRequestRepository persists revision requests together with their recipients.
type RevisionRequestRepository struct {
	db *sqlx.DB
}

// NewRevisionRequestRepository creates the repository.
func NewRevisionRequestRepository(db *sqlx.DB) *RevisionRequestRepository {
	return &RevisionRequestRepository{db: db}
}

// FindByID loads a request and its active recipients.
func (r *RevisionRequestRepository) FindByID(ctx context.Context, id string, includeDeleted bool) (*models.RevisionRequest, error) {
	q := transaction.Ext(ctx, r.db)
	query := `SELECT ` + revisionRequestColumns + ` FROM revision_requests WHERE id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	var req models.RevisionRequest
	if err := sqlx.GetContext(ctx, q, &req, q.Rebind(query), id); err != nil {
		return nil, err
	}
	if err := r.attachRecipients(ctx, q, []*models.RevisionRequest{&req}, includeDeleted); err != nil {
		return nil, err
	}
	return &req, nil
}

// LockOpenByKey loads and write-locks every live request sharing key. The employee's
// mapping row is locked first so writers serialize even when no request exists yet.
func (r *RevisionRequestRepository) LockOpenByKey(ctx context.Context, key models.RevisionKey) ([]*models.RevisionRequest, error) {
	q := transaction.Ext(ctx, r.db)
	anchor := `SELECT id FROM evaluation_period_employee_mappings
WHERE evaluation_period_id = ? AND employee_id = ? AND deleted_at IS NULL` + forUpdate(q)
	var mappingIDs []string
	if err := sqlx.SelectContext(ctx, q, &mappingIDs, q.Rebind(anchor), key.EvaluationPeriodID, key.EmployeeID); err != nil {
		return nil, fmt.Errorf("lock evaluation mapping: %w", transaction.WithQuery(err, anchor, key.EvaluationPeriodID, key.EmployeeID))
	}

	query := `SELECT ` + revisionRequestColumns + ` FROM revision_requests
WHERE evaluation_period_id = ? AND employee_id = ? AND step = ? AND deleted_at IS NULL
ORDER BY requested_at, id` + forUpdate(q)
	var requests []*models.RevisionRequest
	if err := sqlx.SelectContext(ctx, q, &requests, q.Rebind(query), key.EvaluationPeriodID, key.EmployeeID, key.Step); err != nil {
		return nil, fmt.Errorf("lock revision requests: %w", transaction.WithQuery(err, query, key.EvaluationPeriodID, key.EmployeeID, key.Step))
	}
	if err := r.attachRecipients(ctx, q, requests, false); err != nil {
		return nil, err
	}
	return requests, nil
}

// Create inserts the request and all of its recipients.
func (r *RevisionRequestRepository) Create(ctx context.Context, req *models.RevisionRequest) error {
	q := transaction.Ext(ctx, r.db)
	query := `INSERT INTO revision_requests (` + revisionRequestColumns + `)
VALUES (:id, :evaluation_period_id, :employee_id, :step, :comment, :requested_by, :requested_at,
:created_at, :created_by, :updated_at, :updated_by, :deleted_at, :version)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, req); err != nil {
		return fmt.Errorf("create revision request: %w", transaction.WithQuery(err, query, req.ID))
	}
	recipientQuery := `INSERT INTO revision_request_recipients (` + recipientColumns + `)
VALUES (:id, :revision_request_id, :recipient_id, :recipient_type, :is_read, :read_at, :is_completed, :completed_at,
:response_comment, :created_at, :created_by, :updated_at, :updated_by, :deleted_at, :version)`
	for _, rc := range req.Recipients {
		rc.RevisionRequestID = req.ID
		if _, err := sqlx.NamedExecContext(ctx, q, recipientQuery, rc); err != nil {
			return fmt.Errorf("create revision recipient: %w", transaction.WithQuery(err, recipientQuery, rc.ID, rc.RecipientID))
		}
	}
	return nil
}

// SoftDelete tombstones the request and its recipients.
func (r *RevisionRequestRepository) SoftDelete(ctx context.Context, req *models.RevisionRequest, by string, at time.Time) error {
	q := transaction.Ext(ctx, r.db)
	req.MarkDeleted(at, by)
	query := `UPDATE revision_requests SET deleted_at = :deleted_at, updated_at = :updated_at, updated_by = :updated_by,
version = version + 1
WHERE id = :id AND version = :version`
	if err := execCAS(ctx, q, "revision request", query, req); err != nil {
		return err
	}
	req.Version++
	for _, rc := range req.Recipients {
		if rc.IsDeleted() {
			continue
		}
		rc.MarkDeleted(at, by)
		if err := r.UpdateRecipient(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRecipient writes the mutable recipient columns guarded by version.
func (r *RevisionRequestRepository) UpdateRecipient(ctx context.Context, rc *models.RevisionRequestRecipient) error {
	q := transaction.Ext(ctx, r.db)
	query := `UPDATE revision_request_recipients SET is_read = :is_read, read_at = :read_at, is_completed = :is_completed,
completed_at = :completed_at, response_comment = :response_comment, updated_at = :updated_at, updated_by = :updated_by,
deleted_at = :deleted_at, version = version + 1
WHERE id = :id AND version = :version`
	if err := execCAS(ctx, q, "revision recipient", query, rc); err != nil {
		return err
	}
	rc.Version++
	return nil
}

// List returns requests matching filter together with the total count.
func (r *RevisionRequestRepository) List(ctx context.Context, filter models.RevisionRequestFilter) ([]*models.RevisionRequest, int, error) {
	q := transaction.Ext(ctx, r.db)
	where := &whereBuilder{}
	if !filter.IncludeDeleted {
		where.add("deleted_at IS NULL")
	}
	if filter.EvaluationPeriodID != "" {
		where.add("evaluation_period_id = ?", filter.EvaluationPeriodID)
	}
	if filter.EmployeeID != "" {
		where.add("employee_id = ?", filter.EmployeeID)
	}
	if filter.Step != "" {
		where.add("step = ?", filter.Step)
	}
	if filter.RequestedBy != "" {
		where.add("requested_by = ?", filter.RequestedBy)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM revision_requests` + where.String()
	if err := sqlx.GetContext(ctx, q, &total, q.Rebind(countQuery), where.args...); err != nil {
		return nil, 0, fmt.Errorf("count revision requests: %w", err)
	}

	limit, offset := normalizeLimit(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM revision_requests%s ORDER BY requested_at DESC, id LIMIT %d OFFSET %d`,
		revisionRequestColumns, where.String(), limit, offset)
	var requests []*models.RevisionRequest
	if err := sqlx.SelectContext(ctx, q, &requests, q.Rebind(query), where.args...); err != nil {
		return nil, 0, fmt.Errorf("list revision requests: %w", err)
	}
	if err := r.attachRecipients(ctx, q, requests, filter.IncludeDeleted); err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ListForRecipient returns live requests addressed to filter.RecipientID.
func (r *RevisionRequestRepository) ListForRecipient(ctx context.Context, filter models.RecipientFilter) ([]*models.RevisionRequest, int, error) {
	q := transaction.Ext(ctx, r.db)
	where := &whereBuilder{}
	where.add("rc.recipient_id = ?", filter.RecipientID)
	if !filter.IncludeDeleted {
		where.add("rc.deleted_at IS NULL")
		where.add("rr.deleted_at IS NULL")
	}
	if filter.IsRead != nil {
		where.add("rc.is_read = ?", *filter.IsRead)
	}
	if filter.IsCompleted != nil {
		where.add("rc.is_completed = ?", *filter.IsCompleted)
	}
	from := ` FROM revision_requests rr JOIN revision_request_recipients rc ON rc.revision_request_id = rr.id`

	var total int
	if err := sqlx.GetContext(ctx, q, &total, q.Rebind(`SELECT COUNT(DISTINCT rr.id)`+from+where.String()), where.args...); err != nil {
		return nil, 0, fmt.Errorf("count recipient revision requests: %w", err)
	}

	limit, offset := normalizeLimit(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT DISTINCT rr.id, rr.evaluation_period_id, rr.employee_id, rr.step, rr.comment, rr.requested_by,
rr.requested_at, rr.created_at, rr.created_by, rr.updated_at, rr.updated_by, rr.deleted_at, rr.version%s%s
ORDER BY rr.requested_at DESC, rr.id LIMIT %d OFFSET %d`, from, where.String(), limit, offset)
	var requests []*models.RevisionRequest
	if err := sqlx.SelectContext(ctx, q, &requests, q.Rebind(query), where.args...); err != nil {
		return nil, 0, fmt.Errorf("list recipient revision requests: %w", err)
	}
	if err := r.attachRecipients(ctx, q, requests, filter.IncludeDeleted); err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// CountUnread counts live, unread recipient rows for recipientID.
func (r *RevisionRequestRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	q := transaction.Ext(ctx, r.db)
	query := `SELECT COUNT(*) FROM revision_request_recipients rc
JOIN revision_requests rr ON rr.id = rc.revision_request_id
WHERE rc.recipient_id = ? AND rc.is_read = ? AND rc.deleted_at IS NULL AND rr.deleted_at IS NULL`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, q.Rebind(query), recipientID, false); err != nil {
		return 0, fmt.Errorf("count unread revision requests: %w", err)
	}
	return count, nil
}

func (r *RevisionRequestRepository) attachRecipients(ctx context.Context, q sqlx.ExtContext, requests []*models.RevisionRequest, includeDeleted bool) error {
	if len(requests) == 0 {
		return nil
	}
	ids := make([]string, 0, len(requests))
	byID := make(map[string]*models.RevisionRequest, len(requests))
	for _, req := range requests {
		ids = append(ids, req.ID)
		byID[req.ID] = req
		req.Recipients = nil
	}
	query := `SELECT ` + recipientColumns + ` FROM revision_request_recipients WHERE revision_request_id IN (?)`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at, id`
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return fmt.Errorf("build recipient query: %w", err)
	}
	var recipients []*models.RevisionRequestRecipient
	if err := sqlx.SelectContext(ctx, q, &recipients, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("load revision recipients: %w", err)
	}
	for _, rc := range recipients {
		if req, ok := byID[rc.RevisionRequestID]; ok {
			req.Recipients = append(req.Recipients, rc)
		}
	}
	return nil
}
