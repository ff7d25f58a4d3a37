package transaction

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/events"
)

type observerStub struct {
	mu       sync.Mutex
	outcomes []string
	attempts []int
	retries  []string
	dbErrors []string
	dispatch []string
}

func (o *observerStub) ObserveTransaction(operation, outcome string, attempts int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, operation+":"+outcome)
	o.attempts = append(o.attempts, attempts)
}

func (o *observerStub) RecordTransactionRetry(errorType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, errorType)
}

func (o *observerStub) RecordDatabaseError(errorType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dbErrors = append(o.dbErrors, errorType)
}

func (o *observerStub) RecordEventDispatch(event, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatch = append(o.dispatch, event+":"+outcome)
}

type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

func newMockExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, sqlmock.Sqlmock, *observerStub, *sleepRecorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	obs := &observerStub{}
	sleeper := &sleepRecorder{}
	all := append([]ExecutorOption{WithObserver(obs), WithSleep(sleeper.sleep)}, opts...)
	exec := NewExecutor(sqlx.NewDb(db, "postgres"), nil, Config{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}, all...)
	return exec, mock, obs, sleeper
}

func insertNote(ctx context.Context, db *sqlx.DB, body string) error {
	const query = `INSERT INTO notes (body) VALUES (?)`
	q := Ext(ctx, db)
	_, err := q.ExecContext(ctx, q.Rebind(query), body)
	return WithQuery(err, query, body)
}

func TestExecuteTransactionCommits(t *testing.T) {
	exec, mock, obs, _ := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes (body) VALUES ($1)")).
		WithArgs("hello").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		require.True(t, InTransaction(ctx))
		return insertNote(ctx, exec.DB(), "hello")
	}, WithOperation("create_note"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"create_note:committed"}, obs.outcomes)
}

func TestExecuteTransactionRetriesDeadlock(t *testing.T) {
	exec, mock, obs, sleeper := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	calls := 0
	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		calls++
		return insertNote(ctx, exec.DB(), "retry me")
	}, WithMaxRetries(3))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 2, calls)
	assert.Len(t, sleeper.delays, 1)
	assert.Equal(t, []string{string(Deadlock)}, obs.retries)
	assert.Equal(t, []int{2}, obs.attempts)
}

func TestExecuteTransactionDoesNotRetryConstraintViolation(t *testing.T) {
	exec, mock, obs, sleeper := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnError(&pq.Error{Code: "23P01", Message: "conflicting key value violates exclusion constraint"})
	mock.ExpectRollback()

	calls := 0
	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		calls++
		return insertNote(ctx, exec.DB(), "dup")
	}, WithOperation("create_note"))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, ConstraintViolation, dbErr.Type)
	assert.False(t, dbErr.Retryable())
	assert.Equal(t, "create_note", dbErr.Operation)
	assert.Equal(t, `INSERT INTO notes (body) VALUES (?)`, dbErr.Query)
	assert.Equal(t, []interface{}{"dup"}, dbErr.Args)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, []string{"create_note:failed"}, obs.outcomes)
}

func TestExecuteTransactionExhaustsRetries(t *testing.T) {
	exec, mock, _, sleeper := newMockExecutor(t)

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()
	}

	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		return insertNote(ctx, exec.DB(), "contended")
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, IsType(err, SerializationFailure))
	require.Len(t, sleeper.delays, 2)
	assert.Equal(t, 10*time.Millisecond, sleeper.delays[0])
	assert.Equal(t, 20*time.Millisecond, sleeper.delays[1])
}

func TestExecuteTransactionStopsWhenBackoffInterrupted(t *testing.T) {
	exec, mock, _, sleeper := newMockExecutor(t)
	sleeper.err = context.Canceled

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnError(&pq.Error{Code: "40P01"})
	mock.ExpectRollback()

	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		return insertNote(ctx, exec.DB(), "x")
	})
	require.Error(t, err)
	assert.True(t, IsType(err, Deadlock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTransactionDomainErrorIsNotRetried(t *testing.T) {
	exec, mock, obs, _ := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		calls++
		return appErrors.Clone(appErrors.ErrNotFound, "ledger not found")
	}, WithOperation("lookup"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	var dbErr *DatabaseError
	assert.False(t, errors.As(err, &dbErr))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"lookup:rejected"}, obs.outcomes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTransactionJoinsOpenSession(t *testing.T) {
	exec, mock, _, _ := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WithArgs("outer").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WithArgs("inner").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		if err := insertNote(ctx, exec.DB(), "outer"); err != nil {
			return err
		}
		return exec.ExecuteTransaction(ctx, func(ctx context.Context) error {
			return insertNote(ctx, exec.DB(), "inner")
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteNestedTransactionRollsBackToSavepoint(t *testing.T) {
	exec, mock, _, _ := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WithArgs("kept").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WithArgs("dropped").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var nestedErr error
	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		if err := insertNote(ctx, exec.DB(), "kept"); err != nil {
			return err
		}
		nestedErr = exec.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
			return insertNote(ctx, exec.DB(), "dropped")
		})
		return nil
	})
	require.NoError(t, err)
	require.Error(t, nestedErr)
	assert.True(t, IsType(nestedErr, UniqueViolation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteNestedTransactionNamedSavepoint(t *testing.T) {
	exec, mock, _, _ := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT before_fanout")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT before_fanout")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		return exec.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
			return insertNote(ctx, exec.DB(), "named")
		}, WithSavepoint("before_fanout"))
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		return exec.ExecuteNestedTransaction(ctx, func(context.Context) error { return nil }, WithSavepoint("x; DROP TABLE notes"))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteNestedTransactionWithoutSessionOpensTransaction(t *testing.T) {
	exec, mock, _, _ := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := exec.ExecuteNestedTransaction(context.Background(), func(ctx context.Context) error {
		return insertNote(ctx, exec.DB(), "standalone")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteBatchTransactionAbortsOnFirstFailure(t *testing.T) {
	exec, mock, _, _ := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WithArgs("one").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	thirdCalled := false
	err := exec.ExecuteBatchTransaction(context.Background(), []TxFunc{
		func(ctx context.Context) error { return insertNote(ctx, exec.DB(), "one") },
		func(ctx context.Context) error { return appErrors.Clone(appErrors.ErrValidation, "bad step") },
		func(ctx context.Context) error { thirdCalled = true; return nil },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch step 2")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.False(t, thirdCalled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTransactionWithIsolationLevel(t *testing.T) {
	exec, mock, _, _ := newMockExecutor(t)

	err := exec.ExecuteTransactionWithIsolationLevel(context.Background(), IsolationLevel("CHAOS"), func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, exec.ExecuteTransactionWithIsolationLevel(context.Background(), IsolationSerializable, func(context.Context) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, exec.ExecuteReadOnlyTransaction(context.Background(), func(context.Context) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, exec.ExecuteTransactionWithIsolationLevel(context.Background(), IsolationSerializable, func(ctx context.Context) error {
		return exec.ExecuteTransactionWithIsolationLevel(ctx, IsolationSerializable, func(context.Context) error { return nil })
	}))

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		return exec.ExecuteTransactionWithIsolationLevel(ctx, IsolationSerializable, func(context.Context) error {
			t.Fatal("joined a transaction running at another isolation level")
			return nil
		})
	})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	mock.ExpectBegin()
	mock.ExpectCommit()
	joined := false
	require.NoError(t, exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		return exec.ExecuteReadOnlyTransaction(ctx, func(context.Context) error {
			joined = true
			return nil
		})
	}))
	assert.True(t, joined)
	require.NoError(t, mock.ExpectationsWereMet())

	level, err := ParseIsolationLevel("repeatable_read")
	require.NoError(t, err)
	assert.Equal(t, IsolationRepeatableRead, level)
}

func TestExecuteSafeOperation(t *testing.T) {
	exec, _, obs, _ := newMockExecutor(t)
	ctx := context.Background()
	failing := func(context.Context) error { return &pq.Error{Code: "23503"} }

	err := exec.ExecuteSafeOperation(ctx, failing, "link_employee", nil)
	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, ForeignKeyViolation, dbErr.Type)
	assert.Equal(t, "link_employee", dbErr.Operation)

	var seen DatabaseErrorType
	err = exec.ExecuteSafeOperation(ctx, failing, "link_employee", func(_ context.Context, e *DatabaseError) error {
		seen = e.Type
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ForeignKeyViolation, seen)

	err = exec.ExecuteSafeOperation(ctx, failing, "link_employee", func(_ context.Context, e *DatabaseError) error {
		return appErrors.Clone(appErrors.ErrNotFound, "employee not found")
	})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	domain := appErrors.Clone(appErrors.ErrForbidden, "nope")
	err = exec.ExecuteSafeOperation(ctx, func(context.Context) error { return domain }, "x", func(context.Context, *DatabaseError) error {
		t.Fatal("handler must not see domain errors")
		return nil
	})
	assert.Same(t, domain, err)
	assert.Len(t, obs.dbErrors, 3)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e.EventName())
	if d.fail {
		return errors.New("broker down")
	}
	return nil
}

type noteAdded struct{ body string }

func (noteAdded) EventName() string { return "note.added" }
func (noteAdded) OccurredAt() time.Time { return time.Unix(0, 0) }

type noteAggregate struct {
	events.Recorder
}

func TestExecuteTransactionWithDomainEventsDispatchesAfterCommit(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	exec, mock, obs, _ := newMockExecutor(t, WithDispatcher(dispatcher))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnError(&pq.Error{Code: "40P01"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notes")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	agg := &noteAggregate{}
	err := exec.ExecuteTransactionWithDomainEvents(context.Background(), []events.Aggregate{agg}, func(ctx context.Context) error {
		agg.Record(noteAdded{body: "x"})
		if err := insertNote(ctx, exec.DB(), "x"); err != nil {
			return err
		}
		assert.Empty(t, dispatcher.events, "events must not be dispatched before commit")
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"note.added"}, dispatcher.events)
	assert.Equal(t, []string{"note.added:ok"}, obs.dispatch)
	assert.Empty(t, agg.PullEvents())
}

func TestExecuteTransactionWithDomainEventsDispatchFailureKeepsCommit(t *testing.T) {
	dispatcher := &recordingDispatcher{fail: true}
	var hooked []string
	exec, mock, _, _ := newMockExecutor(t,
		WithDispatcher(dispatcher),
		WithDispatchErrorHook(func(_ context.Context, e events.Event, err error) {
			hooked = append(hooked, e.EventName())
		}),
	)

	mock.ExpectBegin()
	mock.ExpectCommit()

	agg := &noteAggregate{}
	err := exec.ExecuteTransactionWithDomainEvents(context.Background(), []events.Aggregate{agg}, func(ctx context.Context) error {
		agg.Record(noteAdded{})
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"note.added"}, hooked)
}

func TestExecuteTransactionWithDomainEventsJoinedWaitsForOuterCommit(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	exec, mock, _, _ := newMockExecutor(t, WithDispatcher(dispatcher))

	mock.ExpectBegin()
	mock.ExpectRollback()

	agg := &noteAggregate{}
	err := exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		if err := exec.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{agg}, func(ctx context.Context) error {
			agg.Record(noteAdded{})
			return nil
		}); err != nil {
			return err
		}
		return appErrors.Clone(appErrors.ErrConflict, "outer failed later")
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, dispatcher.events)
}

func TestNestedRollbackDiscardsEventsRecordedInSavepoint(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	exec, mock, _, _ := newMockExecutor(t, WithDispatcher(dispatcher))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	kept := &noteAggregate{}
	dropped := &noteAggregate{}
	err := exec.ExecuteTransactionWithDomainEvents(context.Background(), []events.Aggregate{kept}, func(ctx context.Context) error {
		kept.Record(noteAdded{})
		_ = exec.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
			if err := exec.ExecuteTransactionWithDomainEvents(ctx, []events.Aggregate{dropped}, func(context.Context) error {
				dropped.Record(noteAdded{})
				return nil
			}); err != nil {
				return err
			}
			return appErrors.Clone(appErrors.ErrValidation, "abort nested")
		})
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"note.added"}, dispatcher.events)
}
