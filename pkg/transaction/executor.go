// Package transaction runs units of work against the relational store with
// classified-error retry, savepoint nesting and post-commit event dispatch.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/pkg/backoff"
	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/events"
)

const (
	DefaultMaxRetries = 3

	outcomeCommitted = "committed"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// TxFunc is a unit of work. The context it receives carries the open session.
type TxFunc func(ctx context.Context) error

// ErrorHandler may translate a classified error (return another error) or suppress it (return nil).
type ErrorHandler func(ctx context.Context, err *DatabaseError) error

// Observer receives executor measurements.
type Observer interface {
	ObserveTransaction(operation, outcome string, attempts int, duration time.Duration)
	RecordTransactionRetry(errorType string)
	RecordDatabaseError(errorType string)
	RecordEventDispatch(event, outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveTransaction(string, string, int, time.Duration) {}
func (noopObserver) RecordTransactionRetry(string) {}
func (noopObserver) RecordDatabaseError(string) {}
func (noopObserver) RecordEventDispatch(string, string) {}

// Config tunes retry behaviour.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// Executor runs units of work.
type Executor struct {
	db         *sqlx.DB
	logger     *zap.Logger
	maxRetries int
	policy     backoff.Policy
	observer   Observer
	dispatcher events.Dispatcher
	onDispatch func(ctx context.Context, event events.Event, err error)
	sleep      func(ctx context.Context, d time.Duration) error
	tracer     trace.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithObserver wires metrics collection.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithDispatcher sets the destination for post-commit domain events.
func WithDispatcher(d events.Dispatcher) ExecutorOption {
	return func(e *Executor) { e.dispatcher = d }
}

// WithDispatchErrorHook is called for every event whose dispatch failed.
func WithDispatchErrorHook(fn func(ctx context.Context, event events.Event, err error)) ExecutorOption {
	return func(e *Executor) { e.onDispatch = fn }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// NewExecutor constructs an executor over db.
func NewExecutor(db *sqlx.DB, logger *zap.Logger, cfg Config, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	e := &Executor{
		db:         db,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		policy:     backoff.Policy{Base: cfg.BaseDelay, Max: cfg.MaxDelay, Jitter: cfg.Jitter},
		observer:   noopObserver{},
		sleep:      backoff.SleepWithContext,
		tracer:     otel.Tracer("github.com/noah-isme/perf-eval-api/pkg/transaction"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// DB exposes the underlying handle for repositories built on the same pool.
func (e *Executor) DB() *sqlx.DB {
	return e.db
}

type callOptions struct {
	maxRetries int
	operation  string
	savepoint  string
}

// Option tunes a single executor call.
type Option func(*callOptions)

// WithMaxRetries sets the total number of attempts for this call.
func WithMaxRetries(n int) Option {
	return func(o *callOptions) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithOperation names the call in logs, metrics and spans.
func WithOperation(name string) Option {
	return func(o *callOptions) {
		if name != "" {
			o.operation = name
		}
	}
}

// WithSavepoint names the savepoint of a nested call.
func WithSavepoint(name string) Option {
	return func(o *callOptions) { o.savepoint = name }
}

func (e *Executor) options(defaultOp string, opts []Option) callOptions {
	o := callOptions{maxRetries: e.maxRetries, operation: defaultOp}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// ExecuteTransaction runs fn in a new transaction, retrying transient failures.
// When ctx already carries an open session fn joins it and the outermost call owns retries.
func (e *Executor) ExecuteTransaction(ctx context.Context, fn TxFunc, opts ...Option) error {
	return e.transact(ctx, "transaction.execute", e.options("execute", opts), nil, fn)
}

// ExecuteNestedTransaction runs fn inside a savepoint of the open session.
// A failure rolls back to the savepoint only. Without an open session it behaves like ExecuteTransaction.
func (e *Executor) ExecuteNestedTransaction(ctx context.Context, fn TxFunc, opts ...Option) error {
	o := e.options("nested", opts)
	session, ok := SessionFrom(ctx)
	if !ok {
		return e.transact(ctx, "transaction.execute", o, nil, fn)
	}
	name := o.savepoint
	if name == "" {
		name = session.nextSavepoint()
	} else if !savepointName.MatchString(name) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid savepoint name %q", name))
	}
	return e.retry(ctx, "transaction.nested", o, func(ctx context.Context) error {
		return e.inSavepoint(ctx, session, name, fn)
	})
}

// ExecuteBatchTransaction runs every fn in order inside one transaction; the first failure aborts all.
func (e *Executor) ExecuteBatchTransaction(ctx context.Context, fns []TxFunc, opts ...Option) error {
	return e.transact(ctx, "transaction.batch", e.options("batch", opts), nil, func(ctx context.Context) error {
		for i, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(ctx); err != nil {
				return fmt.Errorf("batch step %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// ExecuteTransactionWithIsolationLevel pins the isolation level of the new transaction.
// Inside an open session fn joins it only when the session runs at the same level;
// any other level is a validation error since a running transaction cannot change it.
func (e *Executor) ExecuteTransactionWithIsolationLevel(ctx context.Context, level IsolationLevel, fn TxFunc, opts ...Option) error {
	txOpts, err := level.txOptions()
	if err != nil {
		return err
	}
	return e.transact(ctx, "transaction.isolated", e.options("isolated", opts), txOpts, fn)
}

// ExecuteReadOnlyTransaction hints the store that fn performs no writes. Inside an open
// session fn joins it and the hint is dropped.
func (e *Executor) ExecuteReadOnlyTransaction(ctx context.Context, fn TxFunc, opts ...Option) error {
	return e.transact(ctx, "transaction.read_only", e.options("read_only", opts), &sql.TxOptions{ReadOnly: true}, fn)
}

// ExecuteSafeOperation runs fn without a transaction boundary. Store failures are
// classified and passed to handler, which may translate or suppress them.
func (e *Executor) ExecuteSafeOperation(ctx context.Context, fn TxFunc, opContext string, handler ErrorHandler) error {
	err := fn(ctx)
	if err == nil || appErrors.IsDomain(err) {
		return err
	}
	dbErr := Classify(err)
	if dbErr.Operation == "" {
		dbErr.Operation = opContext
	}
	e.observer.RecordDatabaseError(string(dbErr.Type))
	e.logger.Warn("database operation failed",
		zap.String("operation", opContext),
		zap.String("error_type", string(dbErr.Type)),
		zap.String("query", dbErr.Query),
		zap.Error(dbErr.Err),
	)
	if handler != nil {
		return handler(ctx, dbErr)
	}
	return dbErr
}

// ExecuteTransactionWithDomainEvents runs fn transactionally and, strictly after the
// outermost commit, dispatches the events recorded on aggregates. Events recorded by a
// failed attempt are discarded. Dispatch failures never affect the committed work.
func (e *Executor) ExecuteTransactionWithDomainEvents(ctx context.Context, aggregates []events.Aggregate, fn TxFunc, opts ...Option) error {
	o := e.options("domain_events", opts)
	return e.transact(ctx, "transaction.domain_events", o, nil, func(txCtx context.Context) error {
		if err := fn(txCtx); err != nil {
			drain(aggregates)
			return err
		}
		pending := drain(aggregates)
		if len(pending) == 0 {
			return nil
		}
		session, ok := SessionFrom(txCtx)
		if !ok {
			return errors.New("domain events: no open session")
		}
		session.AfterCommit(func(ctx context.Context) {
			e.dispatch(ctx, pending)
		})
		return nil
	})
}

func (e *Executor) transact(ctx context.Context, spanName string, o callOptions, txOpts *sql.TxOptions, fn TxFunc) error {
	if session, ok := SessionFrom(ctx); ok {
		if txOpts != nil && txOpts.Isolation != sql.LevelDefault && txOpts.Isolation != session.isolation {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf(
				"cannot run at %s inside an open %s transaction", txOpts.Isolation, session.isolation))
		}
		return fn(ctx)
	}
	return e.retry(ctx, spanName, o, func(ctx context.Context) error {
		return e.attempt(ctx, txOpts, fn)
	})
}

func (e *Executor) retry(ctx context.Context, spanName string, o callOptions, attempt TxFunc) error {
	ctx, span := e.tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("db.operation", o.operation)))
	defer span.End()

	start := time.Now()
	attempts := 0
	var err error
	for attempts < o.maxRetries {
		attempts++
		err = attempt(ctx)
		if err == nil || appErrors.IsDomain(err) {
			break
		}

		dbErr := Classify(err)
		if dbErr.Operation == "" {
			dbErr.Operation = o.operation
		}
		err = dbErr
		e.observer.RecordDatabaseError(string(dbErr.Type))

		willRetry := dbErr.Retryable() && attempts < o.maxRetries && ctx.Err() == nil
		e.logger.Warn("transaction attempt failed",
			zap.String("operation", o.operation),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", o.maxRetries),
			zap.String("error_type", string(dbErr.Type)),
			zap.Bool("retryable", dbErr.Retryable()),
			zap.Bool("will_retry", willRetry),
			zap.Error(dbErr.Err),
		)
		if !willRetry {
			break
		}
		e.observer.RecordTransactionRetry(string(dbErr.Type))
		if sleepErr := e.sleep(ctx, e.policy.Delay(attempts)); sleepErr != nil {
			break
		}
	}

	outcome := outcomeCommitted
	switch {
	case err == nil:
	case appErrors.IsDomain(err):
		outcome = outcomeRejected
	default:
		outcome = outcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("db.attempts", attempts), attribute.String("db.outcome", outcome))
	e.observer.ObserveTransaction(o.operation, outcome, attempts, time.Since(start))
	return err
}

func (e *Executor) attempt(ctx context.Context, txOpts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := e.db.BeginTxx(ctx, txOpts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	session := &Session{tx: tx}
	if txOpts != nil {
		session.isolation = txOpts.Isolation
	}
	defer func() {
		if p := recover(); p != nil {
			session.close()
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(withSession(ctx, session)); err != nil {
		session.close()
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			e.logger.Warn("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		session.close()
		return fmt.Errorf("commit transaction: %w", err)
	}
	for _, hook := range session.close() {
		hook(ctx)
	}
	return nil
}

func (e *Executor) inSavepoint(ctx context.Context, s *Session, name string, fn TxFunc) error {
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint %s: %w", name, err)
	}
	mark := len(s.hooks)
	if err := fn(ctx); err != nil {
		s.hooks = s.hooks[:mark]
		if _, rbErr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		if _, relErr := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			e.logger.Warn("release savepoint failed", zap.String("savepoint", name), zap.Error(relErr))
		}
		return err
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, pending []events.Event) {
	if e.dispatcher == nil {
		e.logger.Debug("no dispatcher configured, dropping domain events", zap.Int("count", len(pending)))
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, evt := range pending {
		if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
			e.observer.RecordEventDispatch(evt.EventName(), "error")
			e.logger.Error("domain event dispatch failed",
				zap.String("event", evt.EventName()),
				zap.Time("occurred_at", evt.OccurredAt()),
				zap.Error(err),
			)
			if e.onDispatch != nil {
				e.onDispatch(ctx, evt, err)
			}
			continue
		}
		e.observer.RecordEventDispatch(evt.EventName(), "ok")
	}
}

func drain(aggregates []events.Aggregate) []events.Event {
	var out []events.Event
	for _, agg := range aggregates {
		if agg == nil {
			continue
		}
		out = append(out, agg.PullEvents()...)
	}
	return out
}
