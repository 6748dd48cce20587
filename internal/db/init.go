// Package db opens the SQL account store and runs its background jobs.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    server TEXT NOT NULL,
    password_hash BYTEA NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (username, server)
);

CREATE TABLE IF NOT EXISTS auth_events (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    server TEXT NOT NULL,
    command TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_auth_events_created ON auth_events (created_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    server TEXT NOT NULL,
    password_hash BLOB NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (username, server)
);

CREATE TABLE IF NOT EXISTS auth_events (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    server TEXT NOT NULL,
    command TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_auth_events_created ON auth_events (created_at);
`

// Schema returns the DDL for driver.
func Schema(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return postgresSchema, nil
	case DriverSQLite:
		return sqliteSchema, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// Open connects to the database, verifies the connection and creates the
// schema if it does not exist.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	schema, err := Schema(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// :memory: databases exist per connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
