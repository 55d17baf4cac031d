package userstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no user exists for the given id or email.
	ErrNotFound = errors.New("userstore: user not found")

	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("userstore: invalid credentials")

	// ErrUnavailable is returned when the backing store cannot be reached,
	// for example while the circuit breaker is open. Callers performing
	// advisory checks treat it as "skip the check".
	ErrUnavailable = errors.New("userstore: unavailable")
)

// User is an account record as seen by the gateway.
type User struct {
	ID       int64
	Email    string
	Name     string
	Role     string
	IsActive bool

	// SecondFactor requires a verification step after password login before
	// the session is fully authenticated.
	SecondFactor bool
}

// Store defines the account lookup interface.
type Store interface {
	// ByID retrieves a user by id. Returns ErrNotFound for unknown ids.
	ByID(ctx context.Context, id int64) (*User, error)

	// Authenticate verifies credentials and returns the matching user.
	// Returns ErrInvalidCredentials for a wrong password and ErrNotFound
	// for an unknown email.
	Authenticate(ctx context.Context, email, password string) (*User, error)

	// Close releases store resources.
	Close() error
}
