package transaction

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
)

// DatabaseErrorType classifies store failures.
type DatabaseErrorType string

const (
	ConnectionError      DatabaseErrorType = "CONNECTION_ERROR"
	ConstraintViolation  DatabaseErrorType = "CONSTRAINT_VIOLATION"
	ForeignKeyViolation  DatabaseErrorType = "FOREIGN_KEY_VIOLATION"
	UniqueViolation      DatabaseErrorType = "UNIQUE_VIOLATION"
	NotNullViolation     DatabaseErrorType = "NOT_NULL_VIOLATION"
	CheckViolation       DatabaseErrorType = "CHECK_VIOLATION"
	Deadlock             DatabaseErrorType = "DEADLOCK"
	Timeout              DatabaseErrorType = "TIMEOUT"
	SerializationFailure DatabaseErrorType = "SERIALIZATION_FAILURE"
	UnknownError         DatabaseErrorType = "UNKNOWN_ERROR"
)

// Retryable reports whether a failure of this type may succeed on a fresh attempt.
func (t DatabaseErrorType) Retryable() bool {
	switch t {
	case Deadlock, Timeout, SerializationFailure, ConnectionError:
		return true
	default:
		return false
	}
}

// DatabaseError is the terminal form of a classified store failure.
type DatabaseError struct {
	Type      DatabaseErrorType
	Operation string
	Query     string
	Args      []interface{}
	Err       error
}

func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("database %s in %s: %v", e.Type, e.Operation, e.Err)
	}
	return fmt.Sprintf("database %s: %v", e.Type, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Retryable reports whether the executor would retry this error.
func (e *DatabaseError) Retryable() bool { return e.Type.Retryable() }

// QueryError carries the statement that failed so classified errors can report it.
type QueryError struct {
	Query string
	Args  []interface{}
	Err   error
}

func (e *QueryError) Error() string { return e.Err.Error() }

func (e *QueryError) Unwrap() error { return e.Err }

// WithQuery attaches query and args to err. A nil err stays nil.
func WithQuery(err error, query string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &QueryError{Query: query, Args: args, Err: err}
}

// Classify maps any store error onto a DatabaseError.
func Classify(err error) *DatabaseError {
	if err == nil {
		return nil
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr
	}

	out := &DatabaseError{Type: classifyType(err), Err: err}
	var qe *QueryError
	if errors.As(err, &qe) {
		out.Query = qe.Query
		out.Args = qe.Args
	}
	return out
}

// IsType reports whether err classifies as t.
func IsType(err error, t DatabaseErrorType) bool {
	if err == nil {
		return false
	}
	return Classify(err).Type == t
}

func classifyType(err error) DatabaseErrorType {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fromSQLState(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromSQLState(pgErr.Code)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if t, ok := fromSQLite(liteErr); ok {
			return t
		}
	}

	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return ConnectionError
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return ConnectionError
	}

	return fromMessage(strings.ToLower(err.Error()))
}

func fromSQLState(code string) DatabaseErrorType {
	switch code {
	case "40P01":
		return Deadlock
	case "40001":
		return SerializationFailure
	case "57014", "55P03", "25P03":
		return Timeout
	case "57P01", "57P02", "57P03", "53300":
		return ConnectionError
	case "23505":
		return UniqueViolation
	case "23503":
		return ForeignKeyViolation
	case "23502":
		return NotNullViolation
	case "23514":
		return CheckViolation
	}
	switch {
	case strings.HasPrefix(code, "08"):
		return ConnectionError
	case strings.HasPrefix(code, "23"):
		return ConstraintViolation
	}
	return UnknownError
}

func fromSQLite(err sqlite3.Error) (DatabaseErrorType, bool) {
	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return UniqueViolation, true
	case sqlite3.ErrConstraintForeignKey:
		return ForeignKeyViolation, true
	case sqlite3.ErrConstraintNotNull:
		return NotNullViolation, true
	case sqlite3.ErrConstraintCheck:
		return CheckViolation, true
	}
	switch err.Code {
	case sqlite3.ErrBusy:
		return Timeout, true
	case sqlite3.ErrLocked:
		return Deadlock, true
	case sqlite3.ErrConstraint:
		return ConstraintViolation, true
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
		return ConnectionError, true
	}
	return "", false
}

var messagePatterns = []struct {
	fragment string
	kind     DatabaseErrorType
}{
	{"deadlock", Deadlock},
	{"could not serialize", SerializationFailure},
	{"serialization failure", SerializationFailure},
	{"database is locked", Timeout},
	{"lock wait timeout", Timeout},
	{"timed out", Timeout},
	{"timeout", Timeout},
	{"connection refused", ConnectionError},
	{"connection reset", ConnectionError},
	{"broken pipe", ConnectionError},
	{"bad connection", ConnectionError},
	{"duplicate key", UniqueViolation},
	{"unique constraint", UniqueViolation},
	{"foreign key", ForeignKeyViolation},
	{"not null constraint", NotNullViolation},
	{"null value in column", NotNullViolation},
	{"check constraint", CheckViolation},
	{"constraint", ConstraintViolation},
}

func fromMessage(msg string) DatabaseErrorType {
	for _, p := range messagePatterns {
		if strings.Contains(msg, p.fragment) {
			return p.kind
		}
	}
	return UnknownError
}

// ToAppError maps err onto the application error taxonomy for transport layers.
func ToAppError(err error) *appErrors.Error {
	if err == nil {
		return nil
	}
	if appErrors.IsDomain(err) {
		return appErrors.FromError(err)
	}
	dbErr := Classify(err)
	switch dbErr.Type {
	case UniqueViolation, ConstraintViolation:
		return appErrors.ErrConflict.Because(dbErr, "conflicting record")
	case ForeignKeyViolation, NotNullViolation, CheckViolation:
		return appErrors.ErrValidation.Because(dbErr, "record violates data constraints")
	case Deadlock, Timeout, SerializationFailure, ConnectionError:
		return appErrors.ErrUnavailable.Because(dbErr, "database temporarily unavailable")
	default:
		return appErrors.ErrInternal.Because(dbErr, appErrors.ErrInternal.Message)
	}
}
