package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/pkg/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrate applies the embedded migrations to db. The migrator itself is never closed
// since its drivers close the shared pool; postgres runs on a borrowed connection that is
// returned afterwards.
func Migrate(ctx context.Context, db *sqlx.DB, direction Direction, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, release, err := newMigrator(ctx, db)
	if err != nil {
		return err
	}
	defer release()

	switch direction {
	case Down:
		err = m.Down()
	default:
		err = m.Up()
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no new migrations", zap.String("direction", string(direction)))
			return nil
		}
		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			logger.Error("migration left database dirty", zap.Int("version", dirtyErr.Version))
			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", verr)
	}
	logger.Info("migrations applied",
		zap.String("direction", string(direction)),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

func newMigrator(ctx context.Context, db *sqlx.DB) (*migrate.Migrate, func(), error) {
	release := func() {}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, release, fmt.Errorf("load embedded migrations: %w", err)
	}

	var driver migratedb.Driver
	switch db.DriverName() {
	case config.DriverSQLite:
		driver, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	default:
		conn, cerr := db.Conn(ctx)
		if cerr != nil {
			return nil, release, fmt.Errorf("acquire migration connection: %w", cerr)
		}
		release = func() { _ = conn.Close() }
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
	}
	if err != nil {
		release()
		return nil, func() {}, fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.DriverName(), driver)
	if err != nil {
		release()
		return nil, func() {}, fmt.Errorf("create migration instance: %w", err)
	}
	return m, release, nil
}
