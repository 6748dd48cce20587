// Package bridge runs the request/response loop between the messaging
// server and a CredentialStore: one frame in, one boolean reply out.
package bridge

import (
	"context"
	"time"
)

// CredentialStore is the account backend the bridge delegates to.
//
// Disabled accounts must be reported as non-existent by Exists and must fail
// Verify. SetPassword reports false, not an error, for unknown accounts.
// Any returned error is treated by the Dispatcher as a false result.
type CredentialStore interface {
	// Exists reports whether an active account user@server exists.
	Exists(ctx context.Context, user, server string) (bool, error)
	// Verify reports whether password is valid for the active account user@server.
	Verify(ctx context.Context, user, server, password string) (bool, error)
	// SetPassword replaces the password of user@server.
	SetPassword(ctx context.Context, user, server, newPassword string) (bool, error)
}

// Observer receives one notification per dispatched frame.
type Observer interface {
	// ObserveCommand records a store call and its boolean outcome.
	ObserveCommand(command string, result bool, err error, elapsed time.Duration)
	// ObserveMalformed records a frame rejected before reaching the store.
	ObserveMalformed(reason string)
}

type nopObserver struct{}

func (nopObserver) ObserveCommand(string, bool, error, time.Duration) {}
func (nopObserver) ObserveMalformed(string)                          {}
