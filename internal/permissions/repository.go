package permissions

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-hq/lattice/internal/authz"
	"github.com/lattice-hq/lattice/internal/platform/db"
	"github.com/lattice-hq/lattice/internal/shared"
)

// Repository defines data access for the permission catalog.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	Create(ctx context.Context, p Permission) (Permission, error)
	GetByID(ctx context.Context, id int64) (Permission, error)
	GetByName(ctx context.Context, name string) (Permission, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	List(ctx context.Context, filters ListFilters) ([]Permission, error)
	Update(ctx context.Context, id int64, description string, isActive bool) (Permission, error)
	SoftDelete(ctx context.Context, id int64) error
	ExistingNames(ctx context.Context, names []string) ([]string, error)
	FindPermissionID(ctx context.Context, moduleID int64, action authz.Action) (int64, bool, error)
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

const permissionColumns = `id, name, description, module_id, action, is_system, is_active, created_at, updated_at, deleted_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ModuleID, &p.Action,
		&p.IsSystem, &p.IsActive, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	return p, err
}

// Create inserts a new permission.
func (r *PgRepository) Create(ctx context.Context, p Permission) (Permission, error) {
	row := r.conn.QueryRow(ctx,
		`INSERT INTO permissions (name, description, module_id, action, is_system, is_active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 RETURNING `+permissionColumns,
		p.Name, p.Description, p.ModuleID, p.Action, p.IsSystem)
	created, err := scanPermission(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Permission{}, shared.Conflictf("permission %q already exists", p.Name)
		}
		return Permission{}, err
	}
	return created, nil
}

// GetByID fetches a permission by id.
func (r *PgRepository) GetByID(ctx context.Context, id int64) (Permission, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1 AND deleted_at IS NULL`, id)
	p, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.NotFoundf("permission %d", id)
		}
		return Permission{}, err
	}
	return p, nil
}

// GetByName fetches a permission by its derived key.
func (r *PgRepository) GetByName(ctx context.Context, name string) (Permission, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE name = $1 AND deleted_at IS NULL`, name)
	p, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.NotFoundf("permission %q", name)
		}
		return Permission{}, err
	}
	return p, nil
}

// GetByIDs fetches several permissions at once.
func (r *PgRepository) GetByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// List returns catalog entries matching the filters.
func (r *PgRepository) List(ctx context.Context, filters ListFilters) ([]Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE deleted_at IS NULL`
	args := []any{}
	if filters.ModuleID != nil {
		args = append(args, *filters.ModuleID)
		query += ` AND module_id = $` + itoa(len(args))
	}
	if filters.Action != nil {
		args = append(args, *filters.Action)
		query += ` AND action = $` + itoa(len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := itoa(len(args))
		query += ` AND (name ILIKE $` + n + ` OR description ILIKE $` + n + `)`
	}
	query += ` ORDER BY name`
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update persists the mutable fields.
func (r *PgRepository) Update(ctx context.Context, id int64, description string, isActive bool) (Permission, error) {
	row := r.conn.QueryRow(ctx,
		`UPDATE permissions SET description = $2, is_active = $3, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+permissionColumns,
		id, description, isActive)
	p, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.NotFoundf("permission %d", id)
		}
		return Permission{}, err
	}
	return p, nil
}

// SoftDelete marks the permission deleted. Grant and override history keeps
// referencing the row.
func (r *PgRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.conn.Exec(ctx,
		`UPDATE permissions SET deleted_at = NOW(), is_active = FALSE
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("permission %d", id)
	}
	return nil
}

// ExistingNames returns which of the given keys already exist.
func (r *PgRepository) ExistingNames(ctx context.Context, names []string) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT name FROM permissions WHERE name = ANY($1) AND deleted_at IS NULL`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// FindPermissionID implements authz.PermissionFinder.
func (r *PgRepository) FindPermissionID(ctx context.Context, moduleID int64, action authz.Action) (int64, bool, error) {
	var id int64
	err := r.conn.QueryRow(ctx,
		`SELECT id FROM permissions
		 WHERE module_id = $1 AND action = $2 AND is_active AND deleted_at IS NULL`,
		moduleID, action,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
