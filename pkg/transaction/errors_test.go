package transaction

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want DatabaseErrorType
	}{
		{"pq deadlock", &pq.Error{Code: "40P01"}, Deadlock},
		{"pq serialization", &pq.Error{Code: "40001"}, SerializationFailure},
		{"pq lock not available", &pq.Error{Code: "55P03"}, Timeout},
		{"pq query canceled", &pq.Error{Code: "57014"}, Timeout},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, ConnectionError},
		{"pq connection class", &pq.Error{Code: "08006"}, ConnectionError},
		{"pq unique", &pq.Error{Code: "23505"}, UniqueViolation},
		{"pq foreign key", &pq.Error{Code: "23503"}, ForeignKeyViolation},
		{"pq not null", &pq.Error{Code: "23502"}, NotNullViolation},
		{"pq check", &pq.Error{Code: "23514"}, CheckViolation},
		{"pq other integrity", &pq.Error{Code: "23P01"}, ConstraintViolation},
		{"pq syntax", &pq.Error{Code: "42601"}, UnknownError},
		{"pgx deadlock", &pgconn.PgError{Code: "40P01"}, Deadlock},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, UniqueViolation},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, Timeout},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, Deadlock},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, UniqueViolation},
		{"sqlite fk", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, ForeignKeyViolation},
		{"sqlite generic constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, ConstraintViolation},
		{"bad conn", driver.ErrBadConn, ConnectionError},
		{"conn done", sql.ErrConnDone, ConnectionError},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, ConnectionError},
		{"message deadlock", errors.New("Deadlock found when trying to get lock"), Deadlock},
		{"message duplicate", errors.New("duplicate key value violates unique constraint"), UniqueViolation},
		{"message unknown", errors.New("something odd"), UnknownError},
		{"wrapped", fmt.Errorf("update ledger: %w", &pq.Error{Code: "40P01"}), Deadlock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err).Type)
		})
	}
}

func TestClassifyPreservesExistingAndQuery(t *testing.T) {
	assert.Nil(t, Classify(nil))

	original := &DatabaseError{Type: Timeout, Err: errors.New("slow")}
	assert.Same(t, original, Classify(fmt.Errorf("outer: %w", original)))

	withQuery := WithQuery(&pq.Error{Code: "23505"}, "INSERT INTO x VALUES (?)", 1)
	classified := Classify(fmt.Errorf("save: %w", withQuery))
	assert.Equal(t, UniqueViolation, classified.Type)
	assert.Equal(t, "INSERT INTO x VALUES (?)", classified.Query)
	assert.Equal(t, []interface{}{1}, classified.Args)
	assert.Nil(t, WithQuery(nil, "SELECT 1"))
	assert.True(t, errors.Is(withQuery, withQuery.(*QueryError).Err))
}

func TestRetryableTypes(t *testing.T) {
	for _, typ := range []DatabaseErrorType{Deadlock, Timeout, SerializationFailure, ConnectionError} {
		assert.True(t, typ.Retryable(), typ)
	}
	for _, typ := range []DatabaseErrorType{ConstraintViolation, ForeignKeyViolation, UniqueViolation, NotNullViolation, CheckViolation, UnknownError} {
		assert.False(t, typ.Retryable(), typ)
	}
}

func TestToAppError(t *testing.T) {
	assert.Nil(t, ToAppError(nil))
	assert.Equal(t, http.StatusConflict, ToAppError(&pq.Error{Code: "23505"}).Status)
	assert.Equal(t, http.StatusBadRequest, ToAppError(&pq.Error{Code: "23502"}).Status)
	assert.Equal(t, http.StatusServiceUnavailable, ToAppError(&pq.Error{Code: "40P01"}).Status)
	assert.Equal(t, http.StatusInternalServerError, ToAppError(errors.New("x")).Status)
	assert.Equal(t, appErrors.ErrForbidden.Code, ToAppError(appErrors.Clone(appErrors.ErrForbidden, "no")).Code)
}
