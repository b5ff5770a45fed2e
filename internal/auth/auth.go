// Package auth defines the identity and entitlement collaborators the
// broadcast core delegates to. The Postgres implementations live in
// internal/store.
package auth

import (
	"context"
	"errors"

	"github.com/rahal-transit/bustrack/internal/track"
)

var (
	// ErrInvalidToken is returned for a missing, unknown, or expired
	// credential. Fatal to the connection attempt.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Authenticator resolves a bearer token presented at connect time or
// on an ingest request to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (track.Identity, error)
}

// Authorizer answers entitlement questions about already-authenticated
// actors.
type Authorizer interface {
	// CanWatch reports whether a guardian may observe the bus.
	CanWatch(ctx context.Context, actorID, busID string) (bool, error)
	// IsAssignedReporter reports whether the actor is the bus's
	// current reporter.
	IsAssignedReporter(ctx context.Context, actorID, busID string) (bool, error)
}
