// Package models defines the core data structures for accounts and audit events.
package models

import "time"

// User represents an account that may log in to the messaging server.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`
	// Username is the local part of the account JID.
	Username string `json:"user"`
	// Server is the virtual host the account belongs to.
	Server string `json:"server"`
	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash []byte `json:"-"`
	// Active is false for disabled accounts.
	Active bool `json:"active"`
	// CreatedAt is when the account was registered.
	CreatedAt time.Time `json:"created_at"`
}

// AuthEvent records the outcome of one bridge command.
type AuthEvent struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`
	// Username is the account the command targeted.
	Username string `json:"user"`
	// Server is the virtual host the command targeted.
	Server string `json:"server"`
	// Command is one of "auth", "isuser" or "setpass".
	Command string `json:"command"`
	// Success is the boolean returned to the messaging server.
	Success bool `json:"success"`
	// CreatedAt is when the command was handled.
	CreatedAt time.Time `json:"created_at"`
}

// EventType names the bridge commands recorded as AuthEvents.
type EventType string

const (
	// EventAuth is a password verification.
	EventAuth EventType = "auth"
	// EventIsUser is an existence check.
	EventIsUser EventType = "isuser"
	// EventSetPass is a password change.
	EventSetPass EventType = "setpass"
)
