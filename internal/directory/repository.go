package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-hq/lattice/internal/shared"
)

// Repository provides PostgreSQL backed lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, role_id, is_active, deleted_at IS NOT NULL FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.RoleID, &u.IsActive, &u.IsDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.NotFoundf("user %d", id)
		}
		return User{}, err
	}
	return u, nil
}

// GetModule fetches a module by id.
func (r *Repository) GetModule(ctx context.Context, id int64) (Module, error) {
	var m Module
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, parent_id, is_active FROM modules WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.Code, &m.ParentID, &m.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Module{}, shared.NotFoundf("module %d", id)
		}
		return Module{}, err
	}
	return m, nil
}

// Children returns the direct children of a module.
func (r *Repository) Children(ctx context.Context, parentID int64) ([]Module, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, code, parent_id, is_active FROM modules WHERE parent_id = $1 ORDER BY id`,
		parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.ID, &m.Code, &m.ParentID, &m.IsActive); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return modules, nil
}

// CountActiveUsersWithRole reports how many non-deleted active users
// reference the given role.
func (r *Repository) CountActiveUsersWithRole(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE role_id = $1 AND is_active AND deleted_at IS NULL`,
		roleID,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
