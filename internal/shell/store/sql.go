package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

// =============================================================================
// SQLStore
// =============================================================================

// Options configures the database connection.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// SQLStore implements Store on Postgres (through pgx) or SQLite.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to the database and runs migrations.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	dsn := opts.DSN
	switch opts.Driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, NewStoreError("Open", "", "", fmt.Sprintf("driver %q", opts.Driver), ErrUnsupportedDriver)
	}

	db, err := sqlx.Open(opts.Driver, dsn)
	if err != nil {
		return nil, NewStoreError("Open", "", "", "failed to open database", fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}

	if opts.Driver == DriverSQLite {
		// Every connection to an in-memory database sees its own copy.
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, NewStoreError("Open", "", "", fmt.Sprintf("failed to ping database: %v", err), fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}

	if err := runMigrations(db.DB, opts.Driver); err != nil {
		db.Close()
		return nil, NewStoreError("Open", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLStore{db: db}, nil
}

// NewSQLiteStore opens a SQLite store. Used by tests and local runs.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	return Open(context.Background(), Options{Driver: DriverSQLite, DSN: dsn})
}

// newSQLStore wraps an already migrated connection.
func newSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB, driver string) error {
	source, err := iofs.New(migrationsFS, migrationDir(driver))
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var (
		target database.Driver
		dbName string
	)
	switch driver {
	case DriverPostgres:
		dbName = "pgx5"
		target, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		dbName = "sqlite3"
		target, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, target)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func migrationDir(driver string) string {
	if driver == DriverPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
