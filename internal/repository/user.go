package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Provision inserts a user record for an external subject if none exists.
// Called at authentication sync time, not from the messaging paths.
func (r *UserRepository) Provision(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Provision", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (subject, display_name, email, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (subject) DO NOTHING`,
		u.Subject, u.DisplayName, u.Email, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Provision: %w", err)
	}
	return nil
}

func (r *UserRepository) GetBySubject(ctx context.Context, ref identity.Ref) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetBySubject", time.Now())()
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT row_id, subject, display_name, email, created_at
		 FROM users WHERE subject = $1`, ref,
	).Scan(&u.RowID, &u.Subject, &u.DisplayName, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetBySubject: %w", err)
	}
	return u, nil
}

// Delete removes a user record. Messages sent by the subject remain; the
// outer join on the read path degrades their sender to a placeholder.
func (r *UserRepository) Delete(ctx context.Context, ref identity.Ref) error {
	defer logger.DeferLogDuration("user.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM users WHERE subject = $1`, ref)
	if err != nil {
		return fmt.Errorf("userRepo.Delete: %w", err)
	}
	return nil
}
