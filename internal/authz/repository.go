package authz

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository provides the PostgreSQL backed loads for the engine.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs a repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// PermissionsByNames returns catalog rows for the given keys. Soft-deleted
// rows are excluded; inactive rows are returned so evaluation can report the
// precise reason.
func (r *PgRepository) PermissionsByNames(ctx context.Context, names []string) ([]PermissionRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, is_system, is_active FROM permissions
		 WHERE name = ANY($1) AND deleted_at IS NULL`,
		names,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionRow
	for rows.Next() {
		var row PermissionRow
		if err := rows.Scan(&row.ID, &row.Name, &row.IsSystem, &row.IsActive); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ActiveOverrides returns the user's unexpired overrides keyed by permission
// id. Expiry is evaluated lazily against the clock; expired rows are simply
// invisible here.
func (r *PgRepository) ActiveOverrides(ctx context.Context, userID int64, permissionIDs []int64) (map[int64]Effect, error) {
	query := `SELECT permission_id, effect FROM user_permission_overrides
	          WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`
	args := []any{userID}
	if permissionIDs != nil {
		query += ` AND permission_id = ANY($2)`
		args = append(args, permissionIDs)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Effect)
	for rows.Next() {
		var permissionID int64
		var effect Effect
		if err := rows.Scan(&permissionID, &effect); err != nil {
			return nil, err
		}
		out[permissionID] = effect
	}
	return out, rows.Err()
}

// GrantedPermissionIDs returns the role's grant set.
func (r *PgRepository) GrantedPermissionIDs(ctx context.Context, roleID int64, permissionIDs []int64) (map[int64]struct{}, error) {
	query := `SELECT permission_id FROM role_permissions WHERE role_id = $1`
	args := []any{roleID}
	if permissionIDs != nil {
		query += ` AND permission_id = ANY($2)`
		args = append(args, permissionIDs)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]struct{})
	for rows.Next() {
		var permissionID int64
		if err := rows.Scan(&permissionID); err != nil {
			return nil, err
		}
		out[permissionID] = struct{}{}
	}
	return out, rows.Err()
}

// RolePermissionNames returns the keys of the role's active grants.
func (r *PgRepository) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.name FROM role_permissions rp
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = $1 AND p.is_active AND p.deleted_at IS NULL
		 ORDER BY p.name`,
		roleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ActiveOverrideGrants returns the user's unexpired overrides with their
// permission keys.
func (r *PgRepository) ActiveOverrideGrants(ctx context.Context, userID int64) ([]OverrideGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.name, o.effect FROM user_permission_overrides o
		 JOIN permissions p ON p.id = o.permission_id
		 WHERE o.user_id = $1 AND (o.expires_at IS NULL OR o.expires_at > NOW())
		   AND p.is_active AND p.deleted_at IS NULL
		 ORDER BY p.name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OverrideGrant
	for rows.Next() {
		var grant OverrideGrant
		if err := rows.Scan(&grant.Key, &grant.Effect); err != nil {
			return nil, err
		}
		out = append(out, grant)
	}
	return out, rows.Err()
}
