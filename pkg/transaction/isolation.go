package transaction

import (
	"database/sql"
	"fmt"
	"strings"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
)

// IsolationLevel names a SQL transaction isolation level.
type IsolationLevel string

const (
	IsolationReadUncommitted IsolationLevel = "READ UNCOMMITTED"
	IsolationReadCommitted   IsolationLevel = "READ COMMITTED"
	IsolationRepeatableRead  IsolationLevel = "REPEATABLE READ"
	IsolationSerializable    IsolationLevel = "SERIALIZABLE"
)

// ParseIsolationLevel accepts "read_committed", "READ COMMITTED" and similar spellings.
func ParseIsolationLevel(raw string) (IsolationLevel, error) {
	normalized := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(raw, "_", " ")))
	level := IsolationLevel(normalized)
	if _, err := level.txOptions(); err != nil {
		return "", err
	}
	return level, nil
}

func (l IsolationLevel) txOptions() (*sql.TxOptions, error) {
	switch l {
	case IsolationReadUncommitted:
		return &sql.TxOptions{Isolation: sql.LevelReadUncommitted}, nil
	case IsolationReadCommitted:
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}, nil
	case IsolationRepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}, nil
	case IsolationSerializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported isolation level %q", string(l)))
	}
}
