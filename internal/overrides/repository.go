package overrides

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-hq/lattice/internal/platform/db"
	"github.com/lattice-hq/lattice/internal/shared"
)

// Repository defines data access for user permission overrides.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	Upsert(ctx context.Context, o Override) (Override, error)
	Get(ctx context.Context, userID, permissionID int64) (Override, error)
	Delete(ctx context.Context, userID, permissionID int64) error
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
	ListForUser(ctx context.Context, userID int64) ([]Override, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository provides PostgreSQL backed persistence.
type PgRepository struct {
	pool *pgxpool.Pool
	conn querier
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, conn: pool}
}

// WithTx runs fn against a transactional copy of the repository.
func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{pool: r.pool, conn: tx})
	})
}

const overrideColumns = `id, user_id, permission_id, effect, reason, granted_by, expires_at, created_at, updated_at`

func scanOverride(row pgx.Row) (Override, error) {
	var o Override
	err := row.Scan(&o.ID, &o.UserID, &o.PermissionID, &o.Effect, &o.Reason,
		&o.GrantedBy, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// Upsert inserts the override or replaces the existing one for the same
// (user, permission) pair. Re-granting overwrites effect, reason, granter
// and expiry in one statement.
func (r *PgRepository) Upsert(ctx context.Context, o Override) (Override, error) {
	row := r.conn.QueryRow(ctx,
		`INSERT INTO user_permission_overrides (user_id, permission_id, effect, reason, granted_by, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, permission_id) DO UPDATE
		 SET effect = EXCLUDED.effect,
		     reason = EXCLUDED.reason,
		     granted_by = EXCLUDED.granted_by,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = NOW()
		 RETURNING `+overrideColumns,
		o.UserID, o.PermissionID, o.Effect, o.Reason, o.GrantedBy, o.ExpiresAt)
	return scanOverride(row)
}

// Get fetches one override.
func (r *PgRepository) Get(ctx context.Context, userID, permissionID int64) (Override, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+overrideColumns+` FROM user_permission_overrides
		 WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	o, err := scanOverride(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Override{}, shared.NotFoundf("override for user %d permission %d", userID, permissionID)
		}
		return Override{}, err
	}
	return o, nil
}

// Delete removes one override.
func (r *PgRepository) Delete(ctx context.Context, userID, permissionID int64) error {
	tag, err := r.conn.Exec(ctx,
		`DELETE FROM user_permission_overrides WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("override for user %d permission %d", userID, permissionID)
	}
	return nil
}

// DeleteAllForUser removes every override of one user and reports how many
// rows went away. Zero is not an error.
func (r *PgRepository) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.conn.Exec(ctx,
		`DELETE FROM user_permission_overrides WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListForUser returns the user's unexpired overrides. Expired rows stay in
// the table but never surface.
func (r *PgRepository) ListForUser(ctx context.Context, userID int64) ([]Override, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+overrideColumns+` FROM user_permission_overrides
		 WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > NOW())
		 ORDER BY permission_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
