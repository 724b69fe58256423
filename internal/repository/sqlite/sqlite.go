// Package sqlite implements the repository interfaces on top of SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the server builds and
// cross-compiles without a C toolchain. The whole store is one file on
// disk, or ":memory:" in tests.
//
// CONNECTION POOL:
// The pool is capped at a single connection. SQLite allows one writer at a
// time anyway, and an in-memory database only exists on the connection that
// created it. The flip side: never issue a second query while a *sql.Rows
// from the same DB is still open, and inside a transaction only use the tx.
//
// UNIQUENESS:
// Every "at most one" rule in the domain is a UNIQUE constraint here, not a
// read-then-write check:
//   - accounts.email, accounts.refresh_token_hash
//   - (owner, idempotency_key) on every uploaded resource
//   - (owner, resource, idempotency_key) on applied_keys
//   - (user_low, user_high) on friend_connections
//
// Violations come back as repository.ErrDuplicate (see isUniqueViolation).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/trainsync/internal/repository"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/trainsync.db" → file-based database
//   - ":memory:"          → in-memory database, gone on Close
func New(dbPath string) (*DB, error) {
	// _time_format=sqlite stores time.Time as "2006-01-02 15:04:05.999999999-07:00",
	// which sorts correctly as text when every value is UTC.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight. For ":memory:"
	// SQLite answers "memory" and carries on.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. Every statement is IF NOT EXISTS, so running it
// against an existing file is a no-op.
func (db *DB) migrate() error {
	for i, stmt := range schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                      TEXT PRIMARY KEY,
		email                   TEXT NOT NULL UNIQUE,
		password_hash           TEXT NOT NULL,
		refresh_token_hash      TEXT UNIQUE,
		device_token            TEXT,
		email_verified          INTEGER NOT NULL DEFAULT 0,
		verification_code_hash  TEXT,
		verification_expires_at DATETIME,
		reset_code_hash         TEXT,
		reset_expires_at        DATETIME,
		created_at              DATETIME NOT NULL,
		updated_at              DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		user_id      TEXT PRIMARY KEY REFERENCES accounts(id),
		display_name TEXT NOT NULL,
		updated_at   DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS runs (
		owner_id         TEXT NOT NULL REFERENCES accounts(id),
		id               TEXT NOT NULL,
		idempotency_key  TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		distance_km      REAL NOT NULL,
		duration_seconds REAL NOT NULL,
		started_at       DATETIME NOT NULL,
		track_points     TEXT NOT NULL DEFAULT '[]',
		splits           TEXT NOT NULL DEFAULT '[]',
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL,
		PRIMARY KEY (owner_id, id),
		UNIQUE (owner_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_owner_started ON runs(owner_id, started_at)`,

	`CREATE TABLE IF NOT EXISTS races (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL REFERENCES accounts(id),
		race_key        TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		name            TEXT NOT NULL,
		race_date       DATETIME NOT NULL,
		distance_km     REAL NOT NULL,
		goal_seconds    INTEGER NOT NULL DEFAULT 0,
		notes           TEXT NOT NULL DEFAULT '',
		created_at      DATETIME NOT NULL,
		updated_at      DATETIME NOT NULL,
		UNIQUE (owner_id, race_key),
		UNIQUE (owner_id, idempotency_key)
	)`,

	`CREATE TABLE IF NOT EXISTS training_plans (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL UNIQUE REFERENCES accounts(id),
		idempotency_key TEXT NOT NULL,
		name            TEXT NOT NULL,
		goal_race_id    TEXT NOT NULL DEFAULT '',
		start_date      DATETIME NOT NULL,
		end_date        DATETIME NOT NULL,
		weeks           TEXT NOT NULL DEFAULT '[]',
		created_at      DATETIME NOT NULL,
		updated_at      DATETIME NOT NULL,
		UNIQUE (owner_id, idempotency_key)
	)`,

	`CREATE TABLE IF NOT EXISTS shared_runs (
		id              TEXT PRIMARY KEY,
		sender_id       TEXT NOT NULL REFERENCES accounts(id),
		run_id          TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		message         TEXT NOT NULL DEFAULT '',
		created_at      DATETIME NOT NULL,
		updated_at      DATETIME NOT NULL,
		UNIQUE (sender_id, run_id),
		UNIQUE (sender_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS shared_run_recipients (
		shared_run_id TEXT NOT NULL REFERENCES shared_runs(id),
		recipient_id  TEXT NOT NULL REFERENCES accounts(id),
		PRIMARY KEY (shared_run_id, recipient_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shared_run_recipients_recipient ON shared_run_recipients(recipient_id)`,

	`CREATE TABLE IF NOT EXISTS friend_connections (
		id           TEXT PRIMARY KEY,
		requestor_id TEXT NOT NULL REFERENCES accounts(id),
		recipient_id TEXT NOT NULL REFERENCES accounts(id),
		user_low     TEXT NOT NULL,
		user_high    TEXT NOT NULL,
		status       TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'declined')),
		created_at   DATETIME NOT NULL,
		accepted_at  DATETIME,
		UNIQUE (user_low, user_high),
		CHECK (user_low < user_high)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_friend_connections_high ON friend_connections(user_high)`,

	`CREATE TABLE IF NOT EXISTS feed_items (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL REFERENCES accounts(id),
		idempotency_key TEXT NOT NULL,
		activity_type   TEXT NOT NULL,
		title           TEXT NOT NULL,
		subtitle        TEXT NOT NULL DEFAULT '',
		stats           TEXT,
		occurred_at     DATETIME NOT NULL,
		created_at      DATETIME NOT NULL,
		UNIQUE (owner_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feed_items_owner_occurred ON feed_items(owner_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS feed_likes (
		feed_item_id TEXT NOT NULL REFERENCES feed_items(id),
		user_id      TEXT NOT NULL REFERENCES accounts(id),
		created_at   DATETIME NOT NULL,
		PRIMARY KEY (feed_item_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS challenges (
		id              TEXT PRIMARY KEY,
		creator_id      TEXT NOT NULL REFERENCES accounts(id),
		idempotency_key TEXT NOT NULL,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		challenge_type  TEXT NOT NULL,
		target_value    REAL NOT NULL,
		start_date      DATETIME NOT NULL,
		end_date        DATETIME NOT NULL,
		status          TEXT NOT NULL DEFAULT 'active',
		created_at      DATETIME NOT NULL,
		UNIQUE (creator_id, idempotency_key),
		CHECK (end_date > start_date)
	)`,
	`CREATE TABLE IF NOT EXISTS challenge_participants (
		challenge_id TEXT NOT NULL REFERENCES challenges(id),
		user_id      TEXT NOT NULL REFERENCES accounts(id),
		display_name TEXT NOT NULL,
		progress     REAL NOT NULL DEFAULT 0,
		joined_at    DATETIME NOT NULL,
		PRIMARY KEY (challenge_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_challenge_participants_user ON challenge_participants(user_id)`,

	`CREATE TABLE IF NOT EXISTS applied_keys (
		owner_id        TEXT NOT NULL REFERENCES accounts(id),
		resource        TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		record_id       TEXT NOT NULL,
		applied_at      DATETIME NOT NULL,
		PRIMARY KEY (owner_id, resource, idempotency_key)
	)`,
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// insertErr wraps an insert failure, tagging unique violations with
// repository.ErrDuplicate so services can recognise a lost race.
func insertErr(what string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("sqlite: %s: %w (%v)", what, repository.ErrDuplicate, err)
	}
	return fmt.Errorf("sqlite: %s: %w", what, err)
}

// now stamps bookkeeping columns such as accounts.updated_at. Domain
// timestamps (a run's updatedAt, a code's expiry) arrive already set by the
// service layer.
func now() time.Time {
	return time.Now().UTC()
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// stringArgs converts ids to query arguments.
func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// checkAffected turns "no row matched" into a NotFound error.
func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
