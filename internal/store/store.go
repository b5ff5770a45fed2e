// Package store is the Postgres layer backing authentication tokens
// and bus assignments. It implements auth.Authenticator and
// auth.Authorizer; the broadcast core itself never touches it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rahal-transit/bustrack/internal/auth"
	"github.com/rahal-transit/bustrack/internal/track"
)

type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pgx pool and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Authenticate resolves an API token to the account behind it.
func (s *Store) Authenticate(ctx context.Context, token string) (track.Identity, error) {
	if token == "" {
		return track.Identity{}, auth.ErrInvalidToken
	}
	var id track.Identity
	err := s.pool.QueryRow(ctx, `
		SELECT a.id, a.role
		FROM api_tokens t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.token = $1
		  AND (t.expires_at IS NULL OR t.expires_at > now())
	`, token).Scan(&id.ActorID, &id.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return track.Identity{}, auth.ErrInvalidToken
	}
	if err != nil {
		return track.Identity{}, fmt.Errorf("authenticate: %w", err)
	}
	return id, nil
}

// CanWatch reports whether the guardian is linked to the bus.
func (s *Store) CanWatch(ctx context.Context, actorID, busID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM guardian_buses
			WHERE guardian_id = $1 AND bus_id = $2
		)
	`, actorID, busID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("can watch: %w", err)
	}
	return ok, nil
}

// IsAssignedReporter reports whether the actor is the bus's current
// driver. One reporter per bus at a time.
func (s *Store) IsAssignedReporter(ctx context.Context, actorID, busID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM buses
			WHERE id = $1 AND driver_id = $2
		)
	`, busID, actorID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("is assigned reporter: %w", err)
	}
	return ok, nil
}
