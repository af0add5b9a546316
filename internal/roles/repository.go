package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-hq/lattice/internal/platform/db"
	"github.com/lattice-hq/lattice/internal/shared"
)

// Repository defines data access for roles and their grant edges.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	Create(ctx context.Context, role Role) (Role, error)
	GetByID(ctx context.Context, id int64) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	List(ctx context.Context) ([]Role, error)
	Update(ctx context.Context, role Role) (Role, error)
	SoftDelete(ctx context.Context, id int64) error
	ListGrantIDs(ctx context.Context, roleID int64) ([]int64, error)
	ReplaceGrants(ctx context.Context, roleID int64, permissionIDs []int64) error
	AddGrants(ctx context.Context, roleID int64, permissionIDs []int64) error
	RemoveGrants(ctx context.Context, roleID int64, permissionIDs []int64) error
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

const roleColumns = `id, name, description, priority, base_role_id, level, is_system, is_active, created_at, updated_at, deleted_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Priority,
		&role.BaseRoleID, &role.Level, &role.IsSystem, &role.IsActive,
		&role.CreatedAt, &role.UpdatedAt, &role.DeletedAt)
	return role, err
}

// Create inserts a new role.
func (r *PgRepository) Create(ctx context.Context, role Role) (Role, error) {
	row := r.conn.QueryRow(ctx,
		`INSERT INTO roles (name, description, priority, base_role_id, level, is_system, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		 RETURNING `+roleColumns,
		role.Name, role.Description, role.Priority, role.BaseRoleID, role.Level, role.IsSystem)
	created, err := scanRole(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Role{}, shared.Conflictf("role %q already exists", role.Name)
		}
		return Role{}, err
	}
	return created, nil
}

// GetByID fetches a role by id.
func (r *PgRepository) GetByID(ctx context.Context, id int64) (Role, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1 AND deleted_at IS NULL`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFoundf("role %d", id)
		}
		return Role{}, err
	}
	return role, nil
}

// GetByName fetches a role by name.
func (r *PgRepository) GetByName(ctx context.Context, name string) (Role, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE name = $1 AND deleted_at IS NULL`, name)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFoundf("role %q", name)
		}
		return Role{}, err
	}
	return role, nil
}

// List returns all roles ordered by priority, strongest first.
func (r *PgRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE deleted_at IS NULL ORDER BY priority, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// Update persists role fields.
func (r *PgRepository) Update(ctx context.Context, role Role) (Role, error) {
	row := r.conn.QueryRow(ctx,
		`UPDATE roles
		 SET name = $2, description = $3, priority = $4, base_role_id = $5, is_active = $6, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, role.Priority, role.BaseRoleID, role.IsActive)
	updated, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFoundf("role %d", role.ID)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Role{}, shared.Conflictf("role %q already exists", role.Name)
		}
		return Role{}, err
	}
	return updated, nil
}

// SoftDelete marks the role deleted.
func (r *PgRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.conn.Exec(ctx,
		`UPDATE roles SET deleted_at = NOW(), is_active = FALSE
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("role %d", id)
	}
	return nil
}

// ListGrantIDs returns the role's granted permission ids.
func (r *PgRepository) ListGrantIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceGrants wipes and rewrites the role's full grant set.
func (r *PgRepository) ReplaceGrants(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	return r.AddGrants(ctx, roleID, permissionIDs)
}

// AddGrants inserts grant edges, ignoring ones that already exist so the
// operation stays idempotent under races.
func (r *PgRepository) AddGrants(ctx context.Context, roleID int64, permissionIDs []int64) error {
	for _, permissionID := range permissionIDs {
		_, err := r.conn.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id)
			 VALUES ($1, $2)
			 ON CONFLICT (role_id, permission_id) DO NOTHING`,
			roleID, permissionID)
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveGrants deletes grant edges.
func (r *PgRepository) RemoveGrants(ctx context.Context, roleID int64, permissionIDs []int64) error {
	_, err := r.conn.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2)`,
		roleID, permissionIDs)
	return err
}
