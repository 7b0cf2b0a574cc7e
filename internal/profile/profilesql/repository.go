package profilesql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	db DB
}

var _ profile.Repository = (*Repository)(nil)

func NewRepository(db DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Get(ctx context.Context, userID string) (profile.Profile, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_profile_sql")
	defer span.End()

	var p profile.Profile
	err := r.db.QueryRow(ctx,
		`SELECT user_id, display_name, role, updated_at FROM profiles WHERE user_id = $1;`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Role, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Profile{}, serviceerr.ErrNotFound
		}
		span.RecordError(err)
		return profile.Profile{}, fmt.Errorf("selecting profile: %w", err)
	}

	return p, nil
}

func (r *Repository) Ensure(ctx context.Context, p profile.Profile) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "ensure_profile_sql")
	defer span.End()

	role := p.Role
	if role == "" {
		role = profile.RoleMember
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO profiles (user_id, display_name, role)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = now();`,
		p.UserID, p.DisplayName, role,
	)
	if err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("upserting profile: %w", err)
	}

	return nil
}
