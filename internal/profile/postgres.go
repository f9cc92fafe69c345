package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerly/authflow/internal/shared/errors"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL profile store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Find retrieves a profile by user ID.
func (s *Postgres) Find(ctx context.Context, id string) (*Profile, error) {
	query := `
		SELECT id, email, name, currency, theme, plan, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`

	var p Profile
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Email, &p.Name, &p.Currency, &p.Theme, &p.Plan,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("profile not found")
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}

	return &p, nil
}

// Insert creates a profile row. A concurrent or earlier insert for the same
// ID wins and this call returns nil, which keeps provisioning idempotent.
func (s *Postgres) Insert(ctx context.Context, p *Profile) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO profiles (id, email, name, currency, theme, plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Email, p.Name, p.Currency, p.Theme, p.Plan,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}

	return nil
}
