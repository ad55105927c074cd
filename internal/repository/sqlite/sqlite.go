// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// The leaderboard stores three small tables (users, daily_stats, fetch_log).
// An embedded database keeps the whole service a single binary plus one file,
// with no database server to operate.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without CGo.
//
// WHY sqlx ON TOP OF database/sql?
// sqlx keeps the database/sql model (pools, contexts, ? placeholders) and
// removes the column-by-column Scan boilerplate: GetContext/SelectContext map
// columns onto struct fields through the `db:"..."` tags in internal/model.
//
// MIGRATIONS:
// The schema lives in migrations/*.sql, embedded into the binary and applied
// by golang-migrate on startup. golang-migrate records the applied version in
// schema_migrations, so restarting never re-runs a migration.
package sqlite

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	// Importing the driver package also registers "sqlite" with database/sql.
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// CredentialSealer encrypts credentials on their way into the users table and
// decrypts them on the way out. *auth.CredentialSealer satisfies it.
type CredentialSealer interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

// plainSealer stores credentials as-is. Used when no key is configured.
type plainSealer struct{}

func (plainSealer) Seal(s string) (string, error) { return s, nil }
func (plainSealer) Open(s string) (string, error) { return s, nil }

// Option configures a DB.
type Option func(*DB)

// WithCredentialSealer encrypts access and refresh tokens at rest.
func WithCredentialSealer(s CredentialSealer) Option {
	return func(db *DB) {
		if s != nil {
			db.sealer = s
		}
	}
}

// DB wraps a sqlx connection pool and provides repository methods.
// A single *DB implements every repository interface of the application.
type DB struct {
	conn   *sqlx.DB
	sealer CredentialSealer
}

// New opens the SQLite database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/leaderboard.db" → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests)
//
// ONE CONNECTION:
// SQLite allows a single writer at a time, and an in-memory database exists
// per connection. Capping the pool at one connection makes both facts
// harmless: every statement is serialized and every query sees the same data.
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while the sync job writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. Deleting a user relies on
	// ON DELETE CASCADE to remove their daily stats and fetch log.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, sealer: plainSealer{}}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate applies every embedded migration that has not run yet.
//
// The migrate.Migrate instance is intentionally never closed: closing it
// closes the database driver, which would close our shared *sql.DB.
func (db *DB) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.conn.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is SQLite rejecting a duplicate value
// in a UNIQUE column (extended code SQLITE_CONSTRAINT_UNIQUE).
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlitedriver.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
