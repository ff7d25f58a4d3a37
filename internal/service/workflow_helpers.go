package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/perf-eval-api/internal/models"
	"github.com/noah-isme/perf-eval-api/internal/repository"
	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/events"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

// txRunner is the subset of transaction.Executor used by the workflow services.
type txRunner interface {
	ExecuteTransactionWithDomainEvents(ctx context.Context, aggregates []events.Aggregate, fn transaction.TxFunc, opts ...transaction.Option) error
	ExecuteNestedTransaction(ctx context.Context, fn transaction.TxFunc, opts ...transaction.Option) error
	ExecuteReadOnlyTransaction(ctx context.Context, fn transaction.TxFunc, opts ...transaction.Option) error
}

type evaluationLineReader interface {
	FindMapping(ctx context.Context, periodID, employeeID string) (*models.EvaluationMapping, error)
	FindMappingByID(ctx context.Context, id string) (*models.EvaluationMapping, error)
	FindPrimaryEvaluator(ctx context.Context, periodID, employeeID string) (*models.EvaluationLine, error)
	ListSecondaryEvaluators(ctx context.Context, periodID, employeeID string) ([]models.EvaluationLine, error)
}

// finish maps an executor error for the caller. Inside an enclosing transaction the raw
// error is kept so the outermost call can classify and retry it.
func finish(ctx context.Context, err error) error {
	if err == nil || transaction.InTransaction(ctx) {
		return err
	}
	return transaction.ToAppError(err)
}

// notFound converts a missing row into a domain NotFound error.
func notFound(err error, message string) error {
	if repository.IsNotFound(err) {
		return appErrors.Clone(appErrors.ErrNotFound, message)
	}
	return err
}

func isNotFound(err error) bool {
	return repository.IsNotFound(err) || errors.Is(err, appErrors.ErrNotFound)
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// invalidPayload turns a validator failure into a Validation error listing each field.
func invalidPayload(err error) error {
	appErr := appErrors.ErrValidation.Because(err, "invalid payload")
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			appErr = appErr.WithField(fe.Field(), fe.Tag())
		}
	}
	return appErr
}
