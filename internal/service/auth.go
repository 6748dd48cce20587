// Package service provides the account logic behind the bridge and the admin
// API, delegating persistence to repository interfaces.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/atinyakov/ejauth/internal/models"
	"github.com/atinyakov/ejauth/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines the persistence operations
// required by the authentication service.
type UserRepository interface {
	// GetUser returns repository.ErrUserNotFound for unknown accounts.
	GetUser(ctx context.Context, username, server string) (*models.User, error)
	// CreateUser returns repository.ErrUserExists for duplicate accounts.
	CreateUser(ctx context.Context, u models.User) error
	// UpdatePassword reports whether an active account was updated;
	// disabled accounts must be left untouched.
	UpdatePassword(ctx context.Context, username, server string, hash []byte) (bool, error)
	// SetActive reports whether an account was updated.
	SetActive(ctx context.Context, username, server string, active bool) (bool, error)
}

// EventRepository stores the audit trail.
type EventRepository interface {
	RecordEvent(ctx context.Context, ev models.AuthEvent) error
	ListEvents(ctx context.Context, username, server string, limit int) ([]models.AuthEvent, error)
}

// ErrAuditDisabled is returned by RecentEvents when no EventRepository is set.
var ErrAuditDisabled = errors.New("audit trail is not enabled")

// AuthService implements the credential store used by the bridge.
//
// Inactive accounts are indistinguishable from missing ones: Exists and
// Verify report false for both, and SetPassword refuses both.
type AuthService struct {
	// users performs the account data-layer operations.
	users UserRepository
	// events is optional; nil disables auditing.
	events EventRepository
	cost   int
	log    *zap.Logger
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithEvents enables the audit trail.
func WithEvents(events EventRepository) Option {
	return func(s *AuthService) { s.events = events }
}

// WithBcryptCost overrides bcrypt.DefaultCost for new hashes.
func WithBcryptCost(cost int) Option {
	return func(s *AuthService) { s.cost = cost }
}

// WithLogger sets the logger used for audit failures.
func WithLogger(log *zap.Logger) Option {
	return func(s *AuthService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewAuthService constructs a new AuthService using the provided repository.
func NewAuthService(users UserRepository, opts ...Option) *AuthService {
	s := &AuthService{users: users, cost: bcrypt.DefaultCost, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// activeUser returns nil, nil when the account is missing or disabled.
func (s *AuthService) activeUser(ctx context.Context, username, server string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, username, server)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, nil
	}
	return u, nil
}

// Exists reports whether username@server is an active account.
func (s *AuthService) Exists(ctx context.Context, username, server string) (bool, error) {
	u, err := s.activeUser(ctx, username, server)
	ok := err == nil && u != nil
	s.audit(ctx, models.EventIsUser, username, server, ok)
	return ok, err
}

// Verify checks password against the stored bcrypt hash of an active account.
func (s *AuthService) Verify(ctx context.Context, username, server, password string) (bool, error) {
	ok, err := s.verify(ctx, username, server, password)
	s.audit(ctx, models.EventAuth, username, server, ok && err == nil)
	return ok, err
}

func (s *AuthService) verify(ctx context.Context, username, server, password string) (bool, error) {
	u, err := s.activeUser(ctx, username, server)
	if err != nil || u == nil {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return true, nil
}

// SetPassword replaces the password of an active account. It reports false
// without error for missing or disabled accounts.
func (s *AuthService) SetPassword(ctx context.Context, username, server, newPassword string) (bool, error) {
	ok, err := s.setPassword(ctx, username, server, newPassword)
	s.audit(ctx, models.EventSetPass, username, server, ok && err == nil)
	return ok, err
}

func (s *AuthService) setPassword(ctx context.Context, username, server, newPassword string) (bool, error) {
	u, err := s.activeUser(ctx, username, server)
	if err != nil || u == nil {
		return false, err
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return false, err
	}
	return s.users.UpdatePassword(ctx, username, server, hash)
}

// RegisterUser creates an active account with the given password.
// Returns repository.ErrUserExists if the account already exists.
func (s *AuthService) RegisterUser(ctx context.Context, username, server, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	return s.users.CreateUser(ctx, models.User{
		Username:     username,
		Server:       server,
		PasswordHash: hash,
		Active:       true,
	})
}

// SetActive enables or disables an account. It reports false for unknown accounts.
func (s *AuthService) SetActive(ctx context.Context, username, server string, active bool) (bool, error) {
	return s.users.SetActive(ctx, username, server, active)
}

// UserExists reports whether the account exists, active or not.
func (s *AuthService) UserExists(ctx context.Context, username, server string) (bool, error) {
	_, err := s.users.GetUser(ctx, username, server)
	if errors.Is(err, repository.ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// RecentEvents returns the latest audit events, newest first.
func (s *AuthService) RecentEvents(ctx context.Context, username, server string, limit int) ([]models.AuthEvent, error) {
	if s.events == nil {
		return nil, ErrAuditDisabled
	}
	return s.events.ListEvents(ctx, username, server, limit)
}

func (s *AuthService) hash(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// audit records an event without affecting the command result.
func (s *AuthService) audit(ctx context.Context, cmd models.EventType, username, server string, success bool) {
	if s.events == nil {
		return
	}
	err := s.events.RecordEvent(ctx, models.AuthEvent{
		Username: username,
		Server:   server,
		Command:  string(cmd),
		Success:  success,
	})
	if err != nil {
		s.log.Warn("failed to record audit event",
			zap.String("command", string(cmd)),
			zap.String("user", username),
			zap.String("server", server),
			zap.Error(err),
		)
	}
}
