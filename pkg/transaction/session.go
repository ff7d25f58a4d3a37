package transaction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Session is the open unit of work carried through context. It belongs to the
// executor call that opened it and is not safe for concurrent use.
type Session struct {
	tx         *sqlx.Tx
	isolation  sql.IsolationLevel
	savepoints int
	hooks      []func(context.Context)
	closed     bool
}

type sessionKey struct{}

func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the open session carried by ctx.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok || s == nil || s.closed {
		return nil, false
	}
	return s, true
}

// InTransaction reports whether ctx carries an open session.
func InTransaction(ctx context.Context) bool {
	_, ok := SessionFrom(ctx)
	return ok
}

// Ext returns the session transaction when ctx carries one, otherwise db.
// Repositories route every statement through it so they join the caller's unit of work.
func Ext(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok && s != nil {
		// a closed session still returns its tx so late use fails with sql.ErrTxDone
		return s.tx
	}
	return db
}

// AfterCommit registers fn to run once the top-level transaction commits.
// Hooks registered inside a savepoint that is rolled back are discarded.
func (s *Session) AfterCommit(fn func(context.Context)) {
	if fn == nil {
		return
	}
	s.hooks = append(s.hooks, fn)
}

func (s *Session) nextSavepoint() string {
	s.savepoints++
	return fmt.Sprintf("sp_%d", s.savepoints)
}

func (s *Session) close() []func(context.Context) {
	s.closed = true
	hooks := s.hooks
	s.hooks = nil
	return hooks
}
