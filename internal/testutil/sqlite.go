package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/pkg/database"
)

// NewSQLiteDB opens an in-memory database private to t with every migration applied.
func NewSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLiteMemory(fmt.Sprintf("%s-%s", t.Name(), uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.Up, zap.NewNop()); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}

// Workflow holds the identifiers of a seeded evaluation setup.
type Workflow struct {
	PeriodID     string
	MappingID    string
	EvaluateeID  string
	PrimaryID    string
	SecondaryIDs []string
}

// SeedWorkflow creates a period with one evaluatee, a primary evaluator and the given
// number of secondary evaluators.
func SeedWorkflow(t *testing.T, db *sqlx.DB, secondaries int) Workflow {
	t.Helper()
	now := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	wf := Workflow{
		PeriodID:    uuid.NewString(),
		MappingID:   uuid.NewString(),
		EvaluateeID: uuid.NewString(),
		PrimaryID:   uuid.NewString(),
	}
	departmentID := uuid.NewString()

	mustExec(t, db, `INSERT INTO departments (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		departmentID, "Engineering", now, now)
	InsertEmployee(t, db, wf.EvaluateeID, "Evaluatee", departmentID)
	InsertEmployee(t, db, wf.PrimaryID, "Primary Evaluator", departmentID)
	mustExec(t, db, `INSERT INTO evaluation_periods (id, name, start_date, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		wf.PeriodID, "2024 H1", now, "in_progress", now, now)
	mustExec(t, db, `INSERT INTO evaluation_period_employee_mappings (id, evaluation_period_id, employee_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`, wf.MappingID, wf.PeriodID, wf.EvaluateeID, now, now)
	InsertLine(t, db, wf.PeriodID, wf.EvaluateeID, wf.PrimaryID, "primary")

	for i := 0; i < secondaries; i++ {
		id := uuid.NewString()
		InsertEmployee(t, db, id, fmt.Sprintf("Secondary Evaluator %d", i+1), departmentID)
		InsertLine(t, db, wf.PeriodID, wf.EvaluateeID, id, "secondary")
		wf.SecondaryIDs = append(wf.SecondaryIDs, id)
	}
	return wf
}

// InsertEmployee adds an employee row.
func InsertEmployee(t *testing.T, db *sqlx.DB, id, name, departmentID string) {
	t.Helper()
	now := time.Now().UTC()
	var dept interface{}
	if departmentID != "" {
		dept = departmentID
	}
	mustExec(t, db, `INSERT INTO employees (id, employee_number, name, department_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, "EMP-"+id, name, dept, now, now)
}

// InsertLine assigns evaluatorID to employeeID for the period.
func InsertLine(t *testing.T, db *sqlx.DB, periodID, employeeID, evaluatorID, evaluatorType string) {
	t.Helper()
	now := time.Now().UTC()
	mustExec(t, db, `INSERT INTO evaluation_lines (id, evaluation_period_id, employee_id, evaluator_id, evaluator_type, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, uuid.NewString(), periodID, employeeID, evaluatorID, evaluatorType, now, now)
}

func mustExec(t *testing.T, db *sqlx.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(db.Rebind(query), args...); err != nil {
		t.Fatalf("seed %q: %v", query, err)
	}
}
