// Package sqlstore implements the repositories on sqlx over PostgreSQL (pgx) or SQLite.
// Queries are written with ? placeholders and rebound for the active driver.
package sqlstore

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"finrep/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// Open connects to the store selected in cfg.
func Open(cfg *config.Config) (*sqlx.DB, error) {
	switch cfg.Store.Driver {
	case DriverSQLite:
		return OpenSQLite(cfg.Store.SQLitePath)
	case DriverPostgres, "":
		return OpenPostgres(&cfg.DB)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenPostgres creates a new PostgreSQL connection pool.
func OpenPostgres(cfg *config.DBConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	return db, nil
}

// OpenSQLite opens a SQLite database file, or a private in-memory database for ":memory:".
// SQLite serializes writers, so the pool is a single connection.
func OpenSQLite(path string) (*sqlx.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewMigrator builds a migrate instance over the embedded migrations for db's driver.
// Closing the returned instance also closes db.
func NewMigrator(db *sqlx.DB) (*migrate.Migrate, error) {
	var (
		dir    string
		name   string
		driver database.Driver
		err    error
	)
	switch db.DriverName() {
	case "pgx":
		dir, name = "migrations/postgres", "pgx5"
		driver, err = migratepgx.WithInstance(db.DB, &migratepgx.Config{})
	case "sqlite":
		dir, name = "migrations/sqlite", "sqlite"
		driver, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("no migrations for driver %q", db.DriverName())
	}
	if err != nil {
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending migration.
func Migrate(db *sqlx.DB) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
