package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
)

// Resolver maps external subjects to canonical Refs. Pure lookup, no side
// effects: provisioning of user rows happens at authentication time,
// outside the messaging core.
type Resolver struct {
	pool *pgxpool.Pool
}

func NewResolver(pool *pgxpool.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// Resolve returns the canonical Ref for an external subject, or
// ErrUnknownIdentity if no user record carries that subject.
func (r *Resolver) Resolve(ctx context.Context, subject string) (Ref, error) {
	defer logger.DeferLogDuration("identity.Resolve", time.Now())()
	if subject == "" {
		return "", ErrUnknownIdentity
	}
	var stored string
	err := r.pool.QueryRow(ctx,
		`SELECT subject FROM users WHERE subject = $1`, subject,
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnknownIdentity
	}
	if err != nil {
		return "", fmt.Errorf("identity.Resolve: %w", err)
	}
	return Ref(stored), nil
}
