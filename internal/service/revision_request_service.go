package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/internal/dto"
	"github.com/noah-isme/perf-eval-api/internal/models"
	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/events"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

const crossLinkComment = "completed together with the linked recipient"

type revisionStore interface {
	FindByID(ctx context.Context, id string, includeDeleted bool) (*models.RevisionRequest, error)
	LockOpenByKey(ctx context.Context, key models.RevisionKey) ([]*models.RevisionRequest, error)
	Create(ctx context.Context, req *models.RevisionRequest) error
	SoftDelete(ctx context.Context, req *models.RevisionRequest, by string, at time.Time) error
	UpdateRecipient(ctx context.Context, rc *models.RevisionRequestRecipient) error
	List(ctx context.Context, filter models.RevisionRequestFilter) ([]*models.RevisionRequest, int, error)
	ListForRecipient(ctx context.Context, filter models.RecipientFilter) ([]*models.RevisionRequest, int, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

type stepLedgerWriter interface {
	GetLedger(ctx context.Context, mappingID string) (*models.StepApprovalLedger, error)
	ListSecondaryLedgers(ctx context.Context, mappingID string) ([]*models.SecondaryStepApprovalLedger, error)
	ChangeStepStatus(ctx context.Context, params ChangeStepStatusParams) (*models.StepApprovalLedger, error)
	ChangeSecondaryStepStatus(ctx context.Context, params ChangeSecondaryStepStatusParams) (*models.SecondaryStepApprovalLedger, error)
}

type directoryReader interface {
	Employee(ctx context.Context, id string) (*models.EmployeeSummary, error)
	Period(ctx context.Context, id string) (*models.PeriodSummary, error)
}

type recipientTarget struct {
	id  string
	typ models.RecipientType
}

// RevisionRequestService fans revision requests out to the owners of a step and fans
// their completions back into the approval ledger.
type RevisionRequestService struct {
	tx        txRunner
	revisions revisionStore
	approvals stepLedgerWriter
	lines     evaluationLineReader
	directory directoryReader
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	unreadTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// RevisionRequestServiceConfig carries the collaborators of RevisionRequestService.
type RevisionRequestServiceConfig struct {
	Tx        txRunner
	Revisions revisionStore
	Approvals stepLedgerWriter
	Lines     evaluationLineReader
	Directory directoryReader
	Cache     *CacheService
	Metrics   *MetricsService
	Validator *validator.Validate
	UnreadTTL time.Duration
	Logger    *zap.Logger
}

// NewRevisionRequestService builds the orchestrator.
func NewRevisionRequestService(cfg RevisionRequestServiceConfig) *RevisionRequestService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := cfg.Validator
	if validate == nil {
		validate = NewValidator()
	}
	ttl := cfg.UnreadTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RevisionRequestService{
		tx:        cfg.Tx,
		revisions: cfg.Revisions,
		approvals: cfg.Approvals,
		lines:     cfg.Lines,
		directory: cfg.Directory,
		cache:     cfg.Cache,
		metrics:   cfg.Metrics,
		validator: validate,
		unreadTTL: ttl,
		logger:    logger,
		now:       utcNow,
	}
}

// CreateRevisionRequest creates one request per resolved recipient, each in its own
// transaction scope. Earlier requests addressed to the same recipient for the same step,
// open or resolved, are soft-deleted first. Recipients that fail are reported in the
// result; an error is returned only when none succeeded.
func (s *RevisionRequestService) CreateRevisionRequest(ctx context.Context, req dto.CreateRevisionRequest) (*dto.CreateRevisionResult, error) {
	req.Comment = strings.TrimSpace(req.Comment)
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	if _, err := s.lines.FindMapping(ctx, req.EvaluationPeriodID, req.EmployeeID); err != nil {
		return nil, finish(ctx, notFound(err, "employee is not part of the evaluation period"))
	}
	targets, err := s.resolveRecipients(ctx, req.EvaluationPeriodID, req.EmployeeID, req.Step, req.EvaluatorID)
	if err != nil {
		return nil, finish(ctx, err)
	}

	result := &dto.CreateRevisionResult{}
	var firstErr error
	for _, target := range targets {
		created, err := s.createForRecipient(ctx, req, target)
		if err != nil {
			s.metrics.RecordRevisionOperation("create", "failed")
			s.logger.Warn("revision request for recipient failed",
				zap.String("employee_id", req.EmployeeID),
				zap.String("step", string(req.Step)),
				zap.String("recipient_id", target.id),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, dto.RecipientFailure{
				RecipientID:   target.id,
				RecipientType: target.typ,
				Error:         err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.metrics.RecordRevisionOperation("create", "ok")
		result.Requests = append(result.Requests, created)
	}
	if len(result.Requests) == 0 && firstErr != nil {
		return nil, finish(ctx, firstErr)
	}
	return result, nil
}

func (s *RevisionRequestService) createForRecipient(ctx context.Context, req dto.CreateRevisionRequest, target recipientTarget) (*models.RevisionRequest, error) {
	var created *models.RevisionRequest
	collector := events.NewCollector()
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{collector}, func(ctx context.Context) error {
		// A savepoint keeps one recipient's failure from poisoning an enclosing transaction.
		return s.tx.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
			key := models.RevisionKey{EvaluationPeriodID: req.EvaluationPeriodID, EmployeeID: req.EmployeeID, Step: req.Step}
			open, err := s.revisions.LockOpenByKey(ctx, key)
			if err != nil {
				return err
			}
			now := s.now()
			var superseded []string
			for _, existing := range open {
				if !supersedes(existing, target) {
					continue
				}
				if err := s.revisions.SoftDelete(ctx, existing, req.RequestedBy, now); err != nil {
					return err
				}
				superseded = append(superseded, existing.ID)
			}

			request := &models.RevisionRequest{
				ID:                 uuid.NewString(),
				EvaluationPeriodID: req.EvaluationPeriodID,
				EmployeeID:         req.EmployeeID,
				Step:               req.Step,
				Comment:            req.Comment,
				RequestedBy:        req.RequestedBy,
				RequestedAt:        now,
			}
			request.Stamp(now, req.RequestedBy)
			recipient := &models.RevisionRequestRecipient{
				ID:                uuid.NewString(),
				RevisionRequestID: request.ID,
				RecipientID:       target.id,
				RecipientType:     target.typ,
			}
			recipient.Stamp(now, req.RequestedBy)
			request.Recipients = []*models.RevisionRequestRecipient{recipient}
			if err := s.revisions.Create(ctx, request); err != nil {
				return err
			}
			collector.Record(models.RevisionRequested{
				RequestID:     request.ID,
				PeriodID:      request.EvaluationPeriodID,
				EmployeeID:    request.EmployeeID,
				Step:          request.Step,
				RecipientID:   target.id,
				RecipientType: target.typ,
				Superseded:    superseded,
				RequestedBy:   req.RequestedBy,
				At:            now,
			})
			created = request
			return nil
		}, transaction.WithOperation("revision_request.create_recipient"))
	}, transaction.WithOperation("revision_request.create"))
	if err != nil {
		return nil, err
	}
	return created, nil
}

// resolveRecipients answers who must act on a revision of step.
func (s *RevisionRequestService) resolveRecipients(ctx context.Context, periodID, employeeID string, step models.Step, evaluatorID string) ([]recipientTarget, error) {
	targets, err := models.VisitStep[[]recipientTarget](step, recipientResolver{
		ctx:         ctx,
		lines:       s.lines,
		periodID:    periodID,
		employeeID:  employeeID,
		evaluatorID: evaluatorID,
	})
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, appErrors.Clonef(appErrors.ErrNotFound, "no evaluation line owns the %s step", step)
	}
	return targets, nil
}

type recipientResolver struct {
	ctx         context.Context
	lines       evaluationLineReader
	periodID    string
	employeeID  string
	evaluatorID string
}

func (r recipientResolver) jointOwners() ([]recipientTarget, error) {
	targets := []recipientTarget{{id: r.employeeID, typ: models.RecipientEvaluatee}}
	primary, err := r.primary()
	if err != nil {
		return nil, err
	}
	for _, p := range primary {
		if p.id != r.employeeID {
			targets = append(targets, p)
		}
	}
	return targets, nil
}

func (r recipientResolver) primary() ([]recipientTarget, error) {
	line, err := r.lines.FindPrimaryEvaluator(r.ctx, r.periodID, r.employeeID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return []recipientTarget{{id: line.EvaluatorID, typ: models.RecipientPrimaryEvaluator}}, nil
}

func (r recipientResolver) Criteria() ([]recipientTarget, error) { return r.jointOwners() }

func (r recipientResolver) Self() ([]recipientTarget, error) { return r.jointOwners() }

func (r recipientResolver) Primary() ([]recipientTarget, error) { return r.primary() }

func (r recipientResolver) Secondary() ([]recipientTarget, error) {
	lines, err := r.lines.ListSecondaryEvaluators(r.ctx, r.periodID, r.employeeID)
	if err != nil {
		return nil, err
	}
	targets := make([]recipientTarget, 0, len(lines))
	for _, line := range lines {
		if r.evaluatorID != "" && line.EvaluatorID != r.evaluatorID {
			continue
		}
		targets = append(targets, recipientTarget{id: line.EvaluatorID, typ: models.RecipientSecondaryEvaluator})
	}
	return targets, nil
}

// SubmitCompletion records that recipientID finished the requested revision. Repeated
// completions are no-ops. Resolving the request moves the ledger step to revision_completed.
func (s *RevisionRequestService) SubmitCompletion(ctx context.Context, requestID, recipientID, comment string) (*dto.CompletionResult, error) {
	var result *dto.CompletionResult
	collector := events.NewCollector()
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{collector}, func(ctx context.Context) error {
		found, err := s.revisions.FindByID(ctx, requestID, false)
		if err != nil {
			return notFound(err, "revision request not found")
		}
		open, err := s.revisions.LockOpenByKey(ctx, requestKey(found))
		if err != nil {
			return err
		}
		req := findRequest(open, requestID)
		if req == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "revision request not found")
		}
		if req.Recipient(recipientID) == nil {
			return appErrors.Clone(appErrors.ErrForbidden, "caller is not a recipient of this revision request")
		}
		result, err = s.complete(ctx, collector, open, req, recipientID, strings.TrimSpace(comment))
		return err
	}, transaction.WithOperation("revision_request.submit_completion"))
	if err != nil {
		s.metrics.RecordRevisionOperation("complete", "failed")
		return nil, finish(ctx, err)
	}
	s.metrics.RecordRevisionOperation("complete", "ok")
	return result, nil
}

// CompleteFor completes the evaluator's open request located by business keys.
func (s *RevisionRequestService) CompleteFor(ctx context.Context, req dto.CompleteForRequest) (*dto.CompletionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	var result *dto.CompletionResult
	collector := events.NewCollector()
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{collector}, func(ctx context.Context) error {
		key := models.RevisionKey{EvaluationPeriodID: req.EvaluationPeriodID, EmployeeID: req.EmployeeID, Step: req.Step}
		open, err := s.revisions.LockOpenByKey(ctx, key)
		if err != nil {
			return err
		}
		var target, done *models.RevisionRequest
		for _, candidate := range open {
			rc := candidate.Recipient(req.EvaluatorID)
			if rc == nil {
				continue
			}
			if !rc.IsCompleted {
				target = candidate
				break
			}
			done = candidate
		}
		if target == nil {
			if done == nil {
				return appErrors.Clone(appErrors.ErrNotFound, "no open revision request for evaluator")
			}
			result = &dto.CompletionResult{Request: done, Resolved: done.IsResolved()}
			return nil
		}
		result, err = s.complete(ctx, collector, open, target, req.EvaluatorID, strings.TrimSpace(req.Comment))
		return err
	}, transaction.WithOperation("revision_request.complete_for"))
	if err != nil {
		s.metrics.RecordRevisionOperation("complete_for", "failed")
		return nil, finish(ctx, err)
	}
	s.metrics.RecordRevisionOperation("complete_for", "ok")
	return result, nil
}

// AutoCompleteForSubmitter completes every open request addressed to the submitter for
// the step. It returns the number of recipients completed, cross-linked ones included.
func (s *RevisionRequestService) AutoCompleteForSubmitter(ctx context.Context, req dto.AutoCompleteRequest) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, invalidPayload(err)
	}
	completed := 0
	collector := events.NewCollector()
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{collector}, func(ctx context.Context) error {
		completed = 0
		key := models.RevisionKey{EvaluationPeriodID: req.EvaluationPeriodID, EmployeeID: req.EmployeeID, Step: req.Step}
		open, err := s.revisions.LockOpenByKey(ctx, key)
		if err != nil {
			return err
		}
		for _, candidate := range open {
			if candidate.OpenRecipient(req.RecipientID, req.RecipientType) == nil {
				continue
			}
			outcome, err := s.complete(ctx, collector, open, candidate, req.RecipientID, strings.TrimSpace(req.Comment))
			if err != nil {
				return err
			}
			completed += 1 + len(outcome.AutoCompleted)
		}
		return nil
	}, transaction.WithOperation("revision_request.auto_complete"))
	if err != nil {
		return 0, finish(ctx, err)
	}
	if completed > 0 {
		s.logger.Info("revision requests completed on submission",
			zap.String("employee_id", req.EmployeeID),
			zap.String("step", string(req.Step)),
			zap.String("recipient_id", req.RecipientID),
			zap.Int("completed", completed),
		)
	}
	return completed, nil
}

// complete marks the recipient done, cross-links the counterpart on jointly-owned
// steps and resolves the ledger once the step's completion rule holds. open must be
// the locked live requests sharing req's key.
func (s *RevisionRequestService) complete(ctx context.Context, collector *events.Collector, open []*models.RevisionRequest, req *models.RevisionRequest, recipientID, comment string) (*dto.CompletionResult, error) {
	now := s.now()
	outcome := &dto.CompletionResult{Request: req}
	rc := req.Recipient(recipientID)
	if rc == nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "caller is not a recipient of this revision request")
	}
	if !rc.Complete(comment, recipientID, now) {
		// A repeat completion reports the request as it stands and touches nothing else.
		outcome.Resolved = req.IsResolved()
		return outcome, nil
	}
	if err := s.revisions.UpdateRecipient(ctx, rc); err != nil {
		return nil, err
	}
	collector.Record(completedEvent(req, rc, false, now))

	if req.Step.JointlyOwned() {
		if counterpart, ok := rc.RecipientType.Counterpart(); ok {
			for _, other := range open {
				linked := other.OpenRecipientOfType(counterpart)
				if linked == nil {
					continue
				}
				linked.Complete(crossLinkComment, recipientID, now)
				if err := s.revisions.UpdateRecipient(ctx, linked); err != nil {
					return nil, err
				}
				collector.Record(completedEvent(other, linked, true, now))
				outcome.AutoCompleted = append(outcome.AutoCompleted, linked.RecipientID)
			}
		}
	}

	resolved, err := models.VisitStep[bool](req.Step, resolution{req: req, open: open})
	if err != nil {
		return nil, err
	}
	if !resolved {
		return outcome, nil
	}
	outcome.Resolved = true
	if err := s.resolveLedger(ctx, req, recipientID); err != nil {
		return nil, err
	}
	return outcome, nil
}

// resolution decides whether completions close the step. The secondary step needs every
// open request for it resolved; the others only the request itself.
type resolution struct {
	req  *models.RevisionRequest
	open []*models.RevisionRequest
}

func (r resolution) Criteria() (bool, error) { return r.req.IsResolved(), nil }

func (r resolution) Self() (bool, error) { return r.req.IsResolved(), nil }

func (r resolution) Primary() (bool, error) { return r.req.IsResolved(), nil }

func (r resolution) Secondary() (bool, error) {
	for _, other := range r.open {
		if !other.IsResolved() {
			return false, nil
		}
	}
	return r.req.IsResolved(), nil
}

// resolveLedger moves the ledger step to revision_completed, but only when it is still
// waiting on the revision.
func (s *RevisionRequestService) resolveLedger(ctx context.Context, req *models.RevisionRequest, updatedBy string) error {
	mapping, err := s.lines.FindMapping(ctx, req.EvaluationPeriodID, req.EmployeeID)
	if err != nil {
		return notFound(err, "evaluation mapping not found")
	}
	if req.Step == models.StepSecondary {
		ledgers, err := s.approvals.ListSecondaryLedgers(ctx, mapping.ID)
		if err != nil {
			return err
		}
		for _, l := range ledgers {
			if l.Status != models.StepStatusRevisionRequested {
				continue
			}
			_, err := s.approvals.ChangeSecondaryStepStatus(ctx, ChangeSecondaryStepStatusParams{
				MappingID:   mapping.ID,
				EvaluatorID: l.EvaluatorID,
				Status:      models.StepStatusRevisionCompleted,
				UpdatedBy:   updatedBy,
			})
			if isNotFound(err) {
				s.logger.Info("skipping ledger of former secondary evaluator",
					zap.String("mapping_id", mapping.ID),
					zap.String("evaluator_id", l.EvaluatorID),
				)
				continue
			}
			if err != nil {
				return err
			}
		}
	}

	ledger, err := s.approvals.GetLedger(ctx, mapping.ID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	status, err := ledger.StatusOf(req.Step)
	if err != nil {
		return err
	}
	if status != models.StepStatusRevisionRequested {
		return nil
	}
	_, err = s.approvals.ChangeStepStatus(ctx, ChangeStepStatusParams{
		MappingID: mapping.ID,
		Step:      req.Step,
		Status:    models.StepStatusRevisionCompleted,
		UpdatedBy: updatedBy,
	})
	return err
}

// MarkAsRead flags the caller's recipient row as read.
func (s *RevisionRequestService) MarkAsRead(ctx context.Context, requestID, recipientID string) (*models.RevisionRequestRecipient, error) {
	var result *models.RevisionRequestRecipient
	collector := events.NewCollector()
	err := s.tx.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{collector}, func(ctx context.Context) error {
		req, err := s.revisions.FindByID(ctx, requestID, false)
		if err != nil {
			return notFound(err, "revision request not found")
		}
		rc := req.Recipient(recipientID)
		if rc == nil {
			return appErrors.Clone(appErrors.ErrForbidden, "caller is not a recipient of this revision request")
		}
		now := s.now()
		if rc.MarkRead(now) {
			if err := s.revisions.UpdateRecipient(ctx, rc); err != nil {
				return err
			}
			collector.Record(models.RevisionRead{RequestID: req.ID, RecipientID: recipientID, At: now})
		}
		result = rc
		return nil
	}, transaction.WithOperation("revision_request.mark_read"))
	if err != nil {
		return nil, finish(ctx, err)
	}
	return result, nil
}

// CountUnread returns the recipient's unread count, cached for a short TTL.
func (s *RevisionRequestService) CountUnread(ctx context.Context, recipientID string) (int, error) {
	if recipientID == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "recipient id is required")
	}
	return readThrough(ctx, s.cache, unreadCacheKey(recipientID), s.unreadTTL, func(ctx context.Context) (int, error) {
		count, err := s.revisions.CountUnread(ctx, recipientID)
		if err != nil {
			return 0, transaction.ToAppError(err)
		}
		return count, nil
	})
}

// List returns an enriched page of requests. Items whose employee or period vanished
// are skipped.
func (s *RevisionRequestService) List(ctx context.Context, query dto.RevisionRequestQuery) (*dto.RevisionRequestList, error) {
	page, size := normalizePage(query.Page, query.PageSize)
	filter := models.RevisionRequestFilter{
		EvaluationPeriodID: query.EvaluationPeriodID,
		EmployeeID:         query.EmployeeID,
		Step:               query.Step,
		RequestedBy:        query.RequestedBy,
		Limit:              size,
		Offset:             (page - 1) * size,
	}
	list := &dto.RevisionRequestList{Items: []dto.RevisionRequestItem{}}
	err := s.tx.ExecuteReadOnlyTransaction(ctx, func(ctx context.Context) error {
		requests, total, err := s.revisions.List(ctx, filter)
		if err != nil {
			return err
		}
		list.Items = list.Items[:0]
		list.Skipped = 0
		list.Pagination = models.Pagination{Page: page, PageSize: size, TotalCount: total}
		for _, req := range requests {
			item, ok, err := s.enrich(ctx, req)
			if err != nil {
				return err
			}
			if !ok {
				list.Skipped++
				continue
			}
			list.Items = append(list.Items, item)
		}
		return nil
	}, transaction.WithOperation("revision_request.list"))
	if err != nil {
		return nil, finish(ctx, err)
	}
	return list, nil
}

// ListMine returns the caller's requests, each with the caller's own recipient row.
func (s *RevisionRequestService) ListMine(ctx context.Context, recipientID string, query dto.MyRevisionRequestQuery) (*dto.MyRevisionRequestList, error) {
	if recipientID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recipient id is required")
	}
	page, size := normalizePage(query.Page, query.PageSize)
	filter := models.RecipientFilter{
		RecipientID: recipientID,
		IsRead:      query.IsRead,
		IsCompleted: query.IsCompleted,
		Limit:       size,
		Offset:      (page - 1) * size,
	}
	list := &dto.MyRevisionRequestList{Items: []dto.MyRevisionRequestItem{}}
	err := s.tx.ExecuteReadOnlyTransaction(ctx, func(ctx context.Context) error {
		requests, total, err := s.revisions.ListForRecipient(ctx, filter)
		if err != nil {
			return err
		}
		list.Items = list.Items[:0]
		list.Skipped = 0
		list.Pagination = models.Pagination{Page: page, PageSize: size, TotalCount: total}
		for _, req := range requests {
			item, ok, err := s.enrich(ctx, req)
			if err != nil {
				return err
			}
			if !ok {
				list.Skipped++
				continue
			}
			list.Items = append(list.Items, dto.MyRevisionRequestItem{
				RevisionRequestItem: item,
				Recipient:           req.Recipient(recipientID),
			})
		}
		return nil
	}, transaction.WithOperation("revision_request.list_mine"))
	if err != nil {
		return nil, finish(ctx, err)
	}
	return list, nil
}

func (s *RevisionRequestService) enrich(ctx context.Context, req *models.RevisionRequest) (dto.RevisionRequestItem, bool, error) {
	employee, err := s.directory.Employee(ctx, req.EmployeeID)
	if err != nil {
		return s.skip(req, "employee", err)
	}
	period, err := s.directory.Period(ctx, req.EvaluationPeriodID)
	if err != nil {
		return s.skip(req, "evaluation period", err)
	}
	return dto.RevisionRequestItem{Request: req, Employee: employee, Period: period}, true, nil
}

func (s *RevisionRequestService) skip(req *models.RevisionRequest, what string, err error) (dto.RevisionRequestItem, bool, error) {
	if !isNotFound(err) {
		return dto.RevisionRequestItem{}, false, err
	}
	s.logger.Warn("skipping revision request with missing "+what,
		zap.String("revision_request_id", req.ID),
		zap.String("employee_id", req.EmployeeID),
		zap.String("evaluation_period_id", req.EvaluationPeriodID),
	)
	return dto.RevisionRequestItem{}, false, nil
}

// supersedes reports whether a new request for target replaces existing: the target is
// still open on it, or it already resolved and belongs to the target's previous cycle.
func supersedes(existing *models.RevisionRequest, target recipientTarget) bool {
	if existing.OpenRecipient(target.id, target.typ) != nil {
		return true
	}
	rc := existing.Recipient(target.id)
	return rc != nil && rc.RecipientType == target.typ && existing.IsResolved()
}

func requestKey(req *models.RevisionRequest) models.RevisionKey {
	return models.RevisionKey{EvaluationPeriodID: req.EvaluationPeriodID, EmployeeID: req.EmployeeID, Step: req.Step}
}

func findRequest(requests []*models.RevisionRequest, id string) *models.RevisionRequest {
	for _, req := range requests {
		if req.ID == id {
			return req
		}
	}
	return nil
}

func completedEvent(req *models.RevisionRequest, rc *models.RevisionRequestRecipient, auto bool, at time.Time) models.RevisionCompleted {
	return models.RevisionCompleted{
		RequestID:     req.ID,
		PeriodID:      req.EvaluationPeriodID,
		EmployeeID:    req.EmployeeID,
		Step:          req.Step,
		RecipientID:   rc.RecipientID,
		RecipientType: rc.RecipientType,
		AutoCompleted: auto,
		At:            at,
	}
}

func unreadCacheKey(recipientID string) string {
	return "revision:unread:" + recipientID
}
