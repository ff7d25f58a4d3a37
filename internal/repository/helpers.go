package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// forUpdate returns the row-lock suffix for drivers that support it. sqlite serialises
// writers with immediate transactions instead.
func forUpdate(q sqlx.ExtContext) string {
	if q.DriverName() == "sqlite3" {
		return ""
	}
	return " FOR UPDATE"
}

// normalizeLimit clamps page sizes the same way for every listing.
func normalizeLimit(limit, offset int) (int, int) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// execCAS runs an optimistic update and maps a lost race to ErrConflict.
func execCAS(ctx context.Context, q sqlx.ExtContext, entity, query string, arg interface{}) error {
	res, err := sqlx.NamedExecContext(ctx, q, query, arg)
	if err != nil {
		return fmt.Errorf("update %s: %w", entity, transaction.WithQuery(err, query))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s rows affected: %w", entity, err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s was modified concurrently", entity))
	}
	return nil
}

type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
