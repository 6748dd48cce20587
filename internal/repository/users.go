// Package repository provides persistence implementations for accounts and
// audit events.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/ejauth/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrUserNotFound is returned when no account matches username and server.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when registering an account that already exists.
	ErrUserExists = errors.New("user already exists")
)

// SQLUserRepository implements account operations on a database/sql handle.
// The queries are valid for both PostgreSQL and SQLite.
type SQLUserRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewSQLUserRepository creates a new SQLUserRepository with the given database connection.
func NewSQLUserRepository(db *sql.DB) *SQLUserRepository {
	return &SQLUserRepository{DB: db}
}

// GetUser loads the account username@server.
// It returns ErrUserNotFound if there is no such account.
func (r *SQLUserRepository) GetUser(ctx context.Context, username, server string) (*models.User, error) {
	var u models.User
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, username, server, password_hash, active, created_at
		FROM users WHERE username = $1 AND server = $2
	`, username, server).Scan(&u.ID, &u.Username, &u.Server, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new account. A zero ID is replaced by a fresh UUID
// and a zero CreatedAt by the current time.
// If the account already exists, ErrUserExists is returned.
func (r *SQLUserRepository) CreateUser(ctx context.Context, u models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, server, password_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username, server) DO NOTHING
	`, u.ID, u.Username, u.Server, u.PasswordHash, u.Active, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}
	if n == 0 {
		return ErrUserExists
	}
	return nil
}

// UpdatePassword replaces the stored hash of username@server if the
// account is active. It returns false if no row matched.
func (r *SQLUserRepository) UpdatePassword(ctx context.Context, username, server string, hash []byte) (bool, error) {
	return r.execAffected(ctx, "UpdatePassword",
		`UPDATE users SET password_hash = $1 WHERE username = $2 AND server = $3 AND active`,
		hash, username, server)
}

// SetActive enables or disables username@server.
// It returns false if no row matched.
func (r *SQLUserRepository) SetActive(ctx context.Context, username, server string, active bool) (bool, error) {
	return r.execAffected(ctx, "SetActive",
		`UPDATE users SET active = $1 WHERE username = $2 AND server = $3`,
		active, username, server)
}

func (r *SQLUserRepository) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
