package transaction

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteExecutor(t *testing.T) *Executor {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_txlock=immediate", t.Name())
	db, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE notes (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	return NewExecutor(db, zap.NewNop(), Config{MaxRetries: 3})
}

func noteBodies(t *testing.T, db *sqlx.DB) []string {
	t.Helper()
	var bodies []string
	require.NoError(t, db.Select(&bodies, `SELECT body FROM notes ORDER BY id`))
	return bodies
}

func TestNestedFailureKeepsEnclosingWork(t *testing.T) {
	exec := newSQLiteExecutor(t)
	ctx := context.Background()

	var nestedErr error
	err := exec.ExecuteTransaction(ctx, func(ctx context.Context) error {
		if err := insertNote(ctx, exec.DB(), "before"); err != nil {
			return err
		}
		nestedErr = exec.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
			if err := insertNote(ctx, exec.DB(), "inside"); err != nil {
				return err
			}
			return errors.New("abandon nested work")
		})
		return insertNote(ctx, exec.DB(), "after")
	})
	require.NoError(t, err)
	require.Error(t, nestedErr)
	assert.Equal(t, []string{"before", "after"}, noteBodies(t, exec.DB()))
}

func TestNestedUniqueViolationIsClassifiedAndContained(t *testing.T) {
	exec := newSQLiteExecutor(t)
	ctx := context.Background()

	var nestedErr error
	err := exec.ExecuteTransaction(ctx, func(ctx context.Context) error {
		if err := insertNote(ctx, exec.DB(), "dup"); err != nil {
			return err
		}
		nestedErr = exec.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
			return insertNote(ctx, exec.DB(), "dup")
		})
		return nil
	})
	require.NoError(t, err)
	require.Error(t, nestedErr)
	assert.True(t, IsType(nestedErr, UniqueViolation))
	assert.Equal(t, []string{"dup"}, noteBodies(t, exec.DB()))
}

func TestOuterFailureDiscardsReleasedSavepoint(t *testing.T) {
	exec := newSQLiteExecutor(t)
	ctx := context.Background()

	err := exec.ExecuteTransaction(ctx, func(ctx context.Context) error {
		if err := exec.ExecuteNestedTransaction(ctx, func(ctx context.Context) error {
			return insertNote(ctx, exec.DB(), "nested")
		}); err != nil {
			return err
		}
		return errors.New("outer gives up")
	})
	require.Error(t, err)
	assert.Empty(t, noteBodies(t, exec.DB()))
}

func TestSessionDoesNotOutliveCall(t *testing.T) {
	exec := newSQLiteExecutor(t)

	var leaked context.Context
	require.NoError(t, exec.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		leaked = ctx
		return nil
	}))
	assert.False(t, InTransaction(leaked))
	err := insertNote(leaked, exec.DB(), "late")
	require.Error(t, err)
	assert.Empty(t, noteBodies(t, exec.DB()))
}
