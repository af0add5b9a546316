package overrides

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/internal/authz"
	"github.com/lattice-hq/lattice/internal/directory"
	"github.com/lattice-hq/lattice/internal/permissions"
	"github.com/lattice-hq/lattice/internal/roles"
	"github.com/lattice-hq/lattice/internal/shared"
)

func ptr[T any](v T) *T { return &v }

type memRepo struct {
	nextID int64
	rows   map[[2]int64]Override
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, rows: map[[2]int64]Override{}}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) Upsert(_ context.Context, o Override) (Override, error) {
	key := [2]int64{o.UserID, o.PermissionID}
	if existing, ok := r.rows[key]; ok {
		o.ID = existing.ID
	} else {
		o.ID = r.nextID
		r.nextID++
	}
	r.rows[key] = o
	return o, nil
}

func (r *memRepo) Get(_ context.Context, userID, permissionID int64) (Override, error) {
	o, ok := r.rows[[2]int64{userID, permissionID}]
	if !ok {
		return Override{}, shared.NotFoundf("override for user %d permission %d", userID, permissionID)
	}
	return o, nil
}

func (r *memRepo) Delete(_ context.Context, userID, permissionID int64) error {
	key := [2]int64{userID, permissionID}
	if _, ok := r.rows[key]; !ok {
		return shared.NotFoundf("override for user %d permission %d", userID, permissionID)
	}
	delete(r.rows, key)
	return nil
}

func (r *memRepo) DeleteAllForUser(_ context.Context, userID int64) (int64, error) {
	var count int64
	for key := range r.rows {
		if key[0] == userID {
			delete(r.rows, key)
			count++
		}
	}
	return count, nil
}

func (r *memRepo) ListForUser(_ context.Context, userID int64) ([]Override, error) {
	var out []Override
	for key, o := range r.rows {
		if key[0] == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

type memUsers map[int64]directory.User

func (m memUsers) GetUser(_ context.Context, id int64) (directory.User, error) {
	u, ok := m[id]
	if !ok {
		return directory.User{}, shared.NotFoundf("user %d", id)
	}
	return u, nil
}

type countingUsers struct {
	memUsers
	calls map[int64]int
}

func (c *countingUsers) GetUser(ctx context.Context, id int64) (directory.User, error) {
	c.calls[id]++
	return c.memUsers.GetUser(ctx, id)
}

type memRoles map[int64]roles.Role

func (m memRoles) GetByID(_ context.Context, id int64) (roles.Role, error) {
	role, ok := m[id]
	if !ok {
		return roles.Role{}, shared.NotFoundf("role %d", id)
	}
	return role, nil
}

type memPerms map[int64]permissions.Permission

func (m memPerms) GetByID(_ context.Context, id int64) (permissions.Permission, error) {
	p, ok := m[id]
	if !ok {
		return permissions.Permission{}, shared.NotFoundf("permission %d", id)
	}
	return p, nil
}

func (m memPerms) GetByIDs(_ context.Context, ids []int64) ([]permissions.Permission, error) {
	var out []permissions.Permission
	for _, id := range ids {
		if p, ok := m[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memTree map[int64]directory.Module

func (m memTree) GetModule(_ context.Context, id int64) (directory.Module, error) {
	mod, ok := m[id]
	if !ok {
		return directory.Module{}, shared.NotFoundf("module %d", id)
	}
	return mod, nil
}

func (m memTree) Children(_ context.Context, parentID int64) ([]directory.Module, error) {
	var out []directory.Module
	for _, mod := range m {
		if mod.ParentID != nil && *mod.ParentID == parentID {
			out = append(out, mod)
		}
	}
	return out, nil
}

type memFinder map[int64]map[authz.Action]int64

func (m memFinder) FindPermissionID(_ context.Context, moduleID int64, action authz.Action) (int64, bool, error) {
	id, ok := m[moduleID][action]
	return id, ok, nil
}

// Fixture: user 1 is an admin (priority 1), user 2 a manager (priority 20),
// user 3 a director (priority 10), user 4 a clerk (priority 60, below the
// override-granting threshold), user 5 inactive, user 6 active but roleless.
// Tree accounting(1) > invoices(2) > lines(3); the manage permission on
// invoices is a system permission.
func serviceFixture(t *testing.T) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	users := memUsers{
		1: {ID: 1, RoleID: ptr(int64(1)), IsActive: true},
		2: {ID: 2, RoleID: ptr(int64(2)), IsActive: true},
		3: {ID: 3, RoleID: ptr(int64(3)), IsActive: true},
		4: {ID: 4, RoleID: ptr(int64(4)), IsActive: true},
		5: {ID: 5, RoleID: ptr(int64(2)), IsActive: false},
		6: {ID: 6, IsActive: true},
	}
	roleDir := memRoles{
		1: {ID: 1, Name: "Administrator", Priority: 1, IsActive: true},
		2: {ID: 2, Name: "Manager", Priority: 20, IsActive: true},
		3: {ID: 3, Name: "Director", Priority: 10, IsActive: true},
		4: {ID: 4, Name: "Clerk", Priority: 60, IsActive: true},
	}
	perms := memPerms{
		10: {ID: 10, Name: "accounting.read", ModuleID: 1, Action: authz.ActionRead, IsActive: true},
		11: {ID: 11, Name: "accounting.invoices.read", ModuleID: 2, Action: authz.ActionRead, IsActive: true},
		12: {ID: 12, Name: "accounting.invoices.lines.read", ModuleID: 3, Action: authz.ActionRead, IsActive: true},
		13: {ID: 13, Name: "accounting.export", ModuleID: 1, Action: authz.ActionExport, IsActive: false},
		14: {ID: 14, Name: "accounting.manage", ModuleID: 1, Action: authz.ActionManage, IsActive: true},
		15: {ID: 15, Name: "accounting.invoices.manage", ModuleID: 2, Action: authz.ActionManage, IsSystem: true, IsActive: true},
		16: {ID: 16, Name: "accounting.invoices.lines.manage", ModuleID: 3, Action: authz.ActionManage, IsActive: true},
	}
	tree := memTree{
		1: {ID: 1, Code: "accounting", IsActive: true},
		2: {ID: 2, Code: "invoices", ParentID: ptr(int64(1)), IsActive: true},
		3: {ID: 3, Code: "lines", ParentID: ptr(int64(2)), IsActive: true},
	}
	finder := memFinder{
		1: {authz.ActionRead: 10, authz.ActionManage: 14},
		2: {authz.ActionRead: 11, authz.ActionManage: 15},
		3: {authz.ActionRead: 12, authz.ActionManage: 16},
	}
	return NewService(repo, users, roleDir, perms, tree, finder, nil), repo
}

func TestCreateUpsertsOverride(t *testing.T) {
	svc, repo := serviceFixture(t)

	created, err := svc.Create(context.Background(), 2, CreateRequest{
		PermissionID: 11, Effect: authz.EffectAllow, Reason: "quarter close",
	}, 1)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(1), created[0].GrantedBy)

	// re-granting the same pair flips it in place
	updated, err := svc.Create(context.Background(), 2, CreateRequest{
		PermissionID: 11, Effect: authz.EffectDeny, Reason: "incident",
	}, 1)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, created[0].ID, updated[0].ID)

	stored, err := repo.Get(context.Background(), 2, 11)
	require.NoError(t, err)
	assert.Equal(t, authz.EffectDeny, stored.Effect)
	assert.Equal(t, "incident", stored.Reason)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := serviceFixture(t)

	_, err := svc.Create(context.Background(), 2, CreateRequest{PermissionID: 11, Effect: "block"}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)

	past := time.Now().Add(-time.Hour)
	_, err = svc.Create(context.Background(), 2, CreateRequest{PermissionID: 11, Effect: authz.EffectAllow, ExpiresAt: &past}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), 2, CreateRequest{PermissionID: 13, Effect: authz.EffectAllow}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation, "inactive permission")

	_, err = svc.Create(context.Background(), 2, CreateRequest{PermissionID: 99, Effect: authz.EffectAllow}, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateAuthorizationGate(t *testing.T) {
	svc, _ := serviceFixture(t)
	req := CreateRequest{PermissionID: 11, Effect: authz.EffectAllow}

	_, err := svc.Create(context.Background(), 2, req, 4)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "clerk is below the granting threshold")

	_, err = svc.Create(context.Background(), 3, req, 2)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "manager cannot override a director")

	_, err = svc.Create(context.Background(), 2, req, 3)
	assert.NoError(t, err, "director outranks manager")

	_, err = svc.Create(context.Background(), 5, req, 1)
	assert.ErrorIs(t, err, shared.ErrValidation, "inactive target")

	_, err = svc.Create(context.Background(), 2, req, 5)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "inactive actor")
}

func TestCreateRejectsSystemPermission(t *testing.T) {
	svc, repo := serviceFixture(t)

	_, err := svc.Create(context.Background(), 2, CreateRequest{PermissionID: 15, Effect: authz.EffectAllow}, 1)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "system permissions are never overridable")

	list, err := repo.ListForUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateRejectsRolelessTarget(t *testing.T) {
	svc, _ := serviceFixture(t)

	_, err := svc.Create(context.Background(), 6, CreateRequest{PermissionID: 11, Effect: authz.EffectAllow}, 1)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "both users must hold a role")
}

func TestCreateAllowCascadesToDescendants(t *testing.T) {
	svc, repo := serviceFixture(t)

	created, err := svc.Create(context.Background(), 2, CreateRequest{
		PermissionID: 10, Effect: authz.EffectAllow, Cascade: true,
	}, 1)
	require.NoError(t, err)
	assert.Len(t, created, 3, "accounting.read plus both descendants")

	for _, permID := range []int64{10, 11, 12} {
		o, err := repo.Get(context.Background(), 2, permID)
		require.NoError(t, err)
		assert.Equal(t, authz.EffectAllow, o.Effect)
	}
}

func TestCreateDenyCascadesToAncestors(t *testing.T) {
	svc, repo := serviceFixture(t)

	created, err := svc.Create(context.Background(), 2, CreateRequest{
		PermissionID: 12, Effect: authz.EffectDeny, Cascade: true,
	}, 1)
	require.NoError(t, err)
	assert.Len(t, created, 3, "lines.read plus both ancestors")

	for _, permID := range []int64{10, 11, 12} {
		o, err := repo.Get(context.Background(), 2, permID)
		require.NoError(t, err)
		assert.Equal(t, authz.EffectDeny, o.Effect)
	}
}

func TestCascadeSkipsSystemPermissions(t *testing.T) {
	svc, repo := serviceFixture(t)

	created, err := svc.Create(context.Background(), 2, CreateRequest{
		PermissionID: 14, Effect: authz.EffectAllow, Cascade: true,
	}, 1)
	require.NoError(t, err)
	assert.Len(t, created, 2, "accounting.manage plus the lines descendant only")

	_, err = repo.Get(context.Background(), 2, 15)
	assert.ErrorIs(t, err, shared.ErrNotFound, "system descendant stays untouched")
	for _, permID := range []int64{14, 16} {
		_, err := repo.Get(context.Background(), 2, permID)
		assert.NoError(t, err)
	}
}

func TestBulkCreateValidatesBeforeWriting(t *testing.T) {
	svc, repo := serviceFixture(t)

	_, err := svc.BulkCreate(context.Background(), 2, []CreateRequest{
		{PermissionID: 11, Effect: authz.EffectAllow},
		{PermissionID: 99, Effect: authz.EffectAllow},
	}, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	list, err := repo.ListForUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, list, "nothing written when any entry fails validation")

	_, err = svc.BulkCreate(context.Background(), 2, nil, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestBulkCreateGatesOnce(t *testing.T) {
	repo := newMemRepo()
	users := &countingUsers{
		memUsers: memUsers{
			1: {ID: 1, RoleID: ptr(int64(1)), IsActive: true},
			2: {ID: 2, RoleID: ptr(int64(2)), IsActive: true},
		},
		calls: map[int64]int{},
	}
	roleDir := memRoles{
		1: {ID: 1, Name: "Administrator", Priority: 1, IsActive: true},
		2: {ID: 2, Name: "Manager", Priority: 20, IsActive: true},
	}
	perms := memPerms{
		10: {ID: 10, Name: "accounting.read", ModuleID: 1, Action: authz.ActionRead, IsActive: true},
		11: {ID: 11, Name: "accounting.invoices.read", ModuleID: 2, Action: authz.ActionRead, IsActive: true},
	}
	svc := NewService(repo, users, roleDir, perms, memTree{}, memFinder{}, nil)

	created, err := svc.BulkCreate(context.Background(), 2, []CreateRequest{
		{PermissionID: 10, Effect: authz.EffectAllow},
		{PermissionID: 11, Effect: authz.EffectDeny},
	}, 1)
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.Equal(t, 1, users.calls[1], "actor resolved once for the whole batch")
	assert.Equal(t, 1, users.calls[2], "target resolved once for the whole batch")
}

func TestDeleteOverride(t *testing.T) {
	svc, _ := serviceFixture(t)

	_, err := svc.Create(context.Background(), 2, CreateRequest{PermissionID: 11, Effect: authz.EffectAllow}, 1)
	require.NoError(t, err)

	err = svc.Delete(context.Background(), 2, 11, 1)
	assert.NoError(t, err)

	err = svc.Delete(context.Background(), 2, 11, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	err = svc.Delete(context.Background(), 3, 11, 2)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "revocation runs the same gate as granting")
}

func TestDeleteAllReportsCount(t *testing.T) {
	svc, _ := serviceFixture(t)

	_, err := svc.Create(context.Background(), 2, CreateRequest{PermissionID: 10, Effect: authz.EffectAllow}, 1)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), 2, CreateRequest{PermissionID: 11, Effect: authz.EffectDeny}, 1)
	require.NoError(t, err)

	count, err := svc.DeleteAll(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = svc.DeleteAll(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Zero(t, count, "idempotent on an empty set")
}
