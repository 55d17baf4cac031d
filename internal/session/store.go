package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session record exists for the given id.
var ErrNotFound = errors.New("session: not found")

// Store defines the persistence interface for session records.
// Implementations must handle concurrent access safely.
type Store interface {
	// Get retrieves the record for the given session id.
	// Returns ErrNotFound if the id is unknown or the record has expired.
	Get(ctx context.Context, id string) (State, error)

	// Save stores the record for the given session id with an expiration.
	Save(ctx context.Context, id string, state State, ttl time.Duration) error

	// Delete removes the record for the given session id.
	// Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}
