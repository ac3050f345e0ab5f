package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations
func (s *Store) Migrate() error {
	m, done, err := s.migrator()
	if err != nil {
		return err
	}
	defer done()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	s.logger.Info("storage: schema migrated", "driver", s.driver, "version", version, "dirty", dirty)
	return nil
}

// MigrateDown rolls back every migration
func (s *Store) MigrateDown() error {
	m, done, err := s.migrator()
	if err != nil {
		return err
	}
	defer done()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	s.logger.Info("storage: schema rolled back", "driver", s.driver)
	return nil
}

// migrator builds a migrate instance. Stores opened from a DSN migrate over a
// dedicated connection that done closes; closing the migrate drivers also
// closes their *sql.DB, so a store wrapping a caller's handle reuses it and
// done leaves it open.
func (s *Store) migrator() (*migrate.Migrate, func(), error) {
	var (
		db   *sql.DB
		done = func() {}
	)
	if s.dsn != "" {
		own, err := sql.Open(s.driver, s.dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open migration connection: %w", err)
		}
		db = own
		done = func() { own.Close() }
	} else {
		sqlxDB, ok := s.db.(*sqlx.DB)
		if !ok {
			return nil, nil, fmt.Errorf("migrations need a *sqlx.DB, got %T", s.db)
		}
		db = sqlxDB.DB
	}

	dir := "migrations/sqlite"
	var (
		driver database.Driver
		err    error
	)
	switch s.driver {
	case DriverPostgres:
		dir = "migrations/postgres"
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		err = fmt.Errorf("no migrations for driver %q", s.driver)
	}
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driver, driver)
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if s.dsn != "" {
		done = func() { m.Close() }
	}
	return m, done, nil
}
