// Package storage persists ingested runs. Every write is an upsert keyed by
// the entity's natural key, so re-delivering the same run (a re-polled
// in-progress run, or a retry after a partial failure) updates mutable
// fields and never duplicates rows. The same queries run on PostgreSQL and
// SQLite: they are written with '?' placeholders and rebound per driver.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lei/actions-ledger/pkg/logger"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config selects and tunes the database
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// DBInterface is the subset of sqlx used by the store
type DBInterface interface {
	sqlx.ExtContext
	Close() error
	PingContext(ctx context.Context) error
}

// Store is the persistence recorder and read side of the ingested data
type Store struct {
	db      DBInterface
	driver  string
	dsn     string
	builder sq.StatementBuilderType
	logger  *logger.Logger
}

// Open connects to the configured database
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	dsn := cfg.DSN

	switch driver {
	case DriverPostgres:
	case DriverSQLite, "sqlite":
		driver = DriverSQLite
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// single writer connection avoids SQLITE_BUSY under concurrent run processing
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	st := New(db, driver, log)
	if !strings.Contains(dsn, ":memory:") {
		st.dsn = dsn
	}
	return st, nil
}

// New wraps an existing connection
func New(db DBInterface, driver string, log *logger.Logger) *Store {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if driver == DriverPostgres {
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &Store{db: db, driver: driver, builder: builder, logger: log}
}

// sqliteDSN enables foreign keys and a busy timeout on file databases
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file:./data/ingest.db"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// Driver returns the database driver name
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, s.db, dest, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, s.db, dest, s.db.Rebind(query), args...)
}

// selectBuilt runs a squirrel-built query; the builder already emits driver placeholders
func (s *Store) selectBuilt(ctx context.Context, dest any, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, s.db, dest, query, args...)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// orNow substitutes the current time for a zero timestamp on NOT NULL columns
func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
