package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/internal/authz"
	"github.com/lattice-hq/lattice/internal/directory"
	"github.com/lattice-hq/lattice/internal/permissions"
	"github.com/lattice-hq/lattice/internal/shared"
)

func ptr[T any](v T) *T { return &v }

type memRepo struct {
	nextID int64
	roles  map[int64]Role
	grants map[int64]map[int64]struct{}
}

func newMemRepo(seed ...Role) *memRepo {
	r := &memRepo{nextID: 1, roles: map[int64]Role{}, grants: map[int64]map[int64]struct{}{}}
	for _, role := range seed {
		if role.ID >= r.nextID {
			r.nextID = role.ID + 1
		}
		r.roles[role.ID] = role
		r.grants[role.ID] = map[int64]struct{}{}
	}
	return r
}

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) Create(_ context.Context, role Role) (Role, error) {
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return Role{}, shared.Conflictf("role %q already exists", role.Name)
		}
	}
	role.ID = r.nextID
	role.IsActive = true
	r.nextID++
	r.roles[role.ID] = role
	r.grants[role.ID] = map[int64]struct{}{}
	return role, nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, shared.NotFoundf("role %d", id)
	}
	return role, nil
}

func (r *memRepo) GetByName(_ context.Context, name string) (Role, error) {
	for _, role := range r.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, shared.NotFoundf("role %q", name)
}

func (r *memRepo) List(_ context.Context) ([]Role, error) {
	var out []Role
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}

func (r *memRepo) Update(_ context.Context, role Role) (Role, error) {
	if _, ok := r.roles[role.ID]; !ok {
		return Role{}, shared.NotFoundf("role %d", role.ID)
	}
	r.roles[role.ID] = role
	return role, nil
}

func (r *memRepo) SoftDelete(_ context.Context, id int64) error {
	if _, ok := r.roles[id]; !ok {
		return shared.NotFoundf("role %d", id)
	}
	delete(r.roles, id)
	return nil
}

func (r *memRepo) ListGrantIDs(_ context.Context, roleID int64) ([]int64, error) {
	var out []int64
	for id := range r.grants[roleID] {
		out = append(out, id)
	}
	return out, nil
}

func (r *memRepo) ReplaceGrants(ctx context.Context, roleID int64, permissionIDs []int64) error {
	r.grants[roleID] = map[int64]struct{}{}
	return r.AddGrants(ctx, roleID, permissionIDs)
}

func (r *memRepo) AddGrants(_ context.Context, roleID int64, permissionIDs []int64) error {
	if r.grants[roleID] == nil {
		r.grants[roleID] = map[int64]struct{}{}
	}
	for _, id := range permissionIDs {
		r.grants[roleID][id] = struct{}{}
	}
	return nil
}

func (r *memRepo) RemoveGrants(_ context.Context, roleID int64, permissionIDs []int64) error {
	for _, id := range permissionIDs {
		delete(r.grants[roleID], id)
	}
	return nil
}

type memUsers map[int64]directory.User

func (m memUsers) GetUser(_ context.Context, id int64) (directory.User, error) {
	u, ok := m[id]
	if !ok {
		return directory.User{}, shared.NotFoundf("user %d", id)
	}
	return u, nil
}

type memCounter map[int64]int64

func (m memCounter) CountActiveUsersWithRole(_ context.Context, roleID int64) (int64, error) {
	return m[roleID], nil
}

type memPerms map[int64]permissions.Permission

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

// Fixture: admin role (priority 1) for user 1, manager role (priority 20)
// for user 2. Module tree accounting(1) > invoices(2).
func serviceFixture(t *testing.T) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo(
		Role{ID: 1, Name: "Administrator", Priority: 1, IsSystem: true, IsActive: true},
		Role{ID: 2, Name: "Manager", Priority: 20, IsActive: true},
	)
	users := memUsers{
		1: {ID: 1, RoleID: ptr(int64(1)), IsActive: true},
		2: {ID: 2, RoleID: ptr(int64(2)), IsActive: true},
	}
	perms := memPerms{
		10: {ID: 10, Name: "accounting.manage", ModuleID: 1, Action: authz.ActionManage, IsActive: true},
		11: {ID: 11, Name: "accounting.invoices.manage", ModuleID: 2, Action: authz.ActionManage, IsActive: true},
		12: {ID: 12, Name: "accounting.invoices.create", ModuleID: 2, Action: authz.ActionCreate, IsActive: true},
		13: {ID: 13, Name: "accounting.create", ModuleID: 1, Action: authz.ActionCreate, IsActive: true},
		14: {ID: 14, Name: "accounting.export", ModuleID: 1, Action: authz.ActionExport, IsActive: false},
	}
	tree := memTree{
		1: {ID: 1, Code: "accounting", IsActive: true},
		2: {ID: 2, Code: "invoices", ParentID: ptr(int64(1)), IsActive: true},
	}
	finder := memFinder{
		1: {authz.ActionManage: 10, authz.ActionCreate: 13},
		2: {authz.ActionManage: 11, authz.ActionCreate: 12},
	}
	counter := memCounter{}
	return NewService(repo, users, counter, perms, tree, finder, nil), repo
}

func TestCreateGatesOnActorAuthority(t *testing.T) {
	svc, _ := serviceFixture(t)

	created, err := svc.Create(context.Background(), CreateRequest{Name: "Clerk", Priority: 40}, 2)
	require.NoError(t, err)
	assert.Equal(t, 40, created.Priority)
	assert.False(t, created.IsSystem)

	_, err = svc.Create(context.Background(), CreateRequest{Name: "Super", Priority: 5}, 2)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "manager cannot mint a stronger role")

	_, err = svc.Create(context.Background(), CreateRequest{Name: "Root", Priority: 1}, 1)
	assert.NoError(t, err, "equal authority is sufficient")
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	svc, _ := serviceFixture(t)
	_, err := svc.Create(context.Background(), CreateRequest{Name: "Manager", Priority: 30}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation, "name collision is caught before any write")
}

func TestCreateRejectsUnknownBaseRole(t *testing.T) {
	svc, _ := serviceFixture(t)
	_, err := svc.Create(context.Background(), CreateRequest{Name: "Orphan", Priority: 30, BaseRoleID: ptr(int64(99))}, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateRejectsLineageCycle(t *testing.T) {
	svc, repo := serviceFixture(t)

	a, err := svc.Create(context.Background(), CreateRequest{Name: "A", Priority: 30}, 1)
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), CreateRequest{Name: "B", Priority: 31, BaseRoleID: &a.ID}, 1)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), a.ID, UpdateRequest{BaseRoleID: &b.ID}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation, "A based on B based on A is a cycle")

	_, err = svc.Update(context.Background(), a.ID, UpdateRequest{BaseRoleID: &a.ID}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation, "self-reference is a cycle")

	stored, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.BaseRoleID)
}

func TestUpdateSystemRoleRestrictions(t *testing.T) {
	svc, _ := serviceFixture(t)

	_, err := svc.Update(context.Background(), 1, UpdateRequest{Name: ptr("Renamed")}, 1)
	assert.ErrorIs(t, err, shared.ErrAuthorization)

	updated, err := svc.Update(context.Background(), 1, UpdateRequest{Description: ptr("built-in administrator")}, 1)
	require.NoError(t, err)
	assert.Equal(t, "built-in administrator", updated.Description)
}

func TestDeleteGuards(t *testing.T) {
	svc, _ := serviceFixture(t)

	err := svc.Delete(context.Background(), 1, 1)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "system role is undeletable")

	err = svc.Delete(context.Background(), 2, 2)
	assert.NoError(t, err)
}

func TestDeleteRejectsRoleInUse(t *testing.T) {
	repo := newMemRepo(
		Role{ID: 1, Name: "Administrator", Priority: 1, IsActive: true},
		Role{ID: 2, Name: "Manager", Priority: 20, IsActive: true},
	)
	users := memUsers{1: {ID: 1, RoleID: ptr(int64(1)), IsActive: true}}
	svc := NewService(repo, users, memCounter{2: 3}, memPerms{}, memTree{}, memFinder{}, nil)

	err := svc.Delete(context.Background(), 2, 1)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCloneInheritsAndWeakens(t *testing.T) {
	svc, repo := serviceFixture(t)
	require.NoError(t, repo.AddGrants(context.Background(), 2, []int64{10, 12}))

	clone, err := svc.Clone(context.Background(), 2, CloneRequest{}, 2)
	require.NoError(t, err)
	assert.Equal(t, "Manager (clone)", clone.Name)
	assert.Equal(t, 21, clone.Priority, "one step weaker than both actor and base")
	assert.Equal(t, ptr(int64(2)), clone.BaseRoleID)
	assert.False(t, clone.IsSystem)

	ids, err := repo.ListGrantIDs(context.Background(), clone.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 12}, ids, "grants copied verbatim")
}

func TestCloneWithExplicitPermissionsSkipsCascade(t *testing.T) {
	svc, repo := serviceFixture(t)

	clone, err := svc.Clone(context.Background(), 2, CloneRequest{Name: "Invoice clerk", PermissionIDs: []int64{10}}, 1)
	require.NoError(t, err)

	ids, err := repo.ListGrantIDs(context.Background(), clone.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, ids, "exactly the listed permissions, no descendant expansion")

	_, err = svc.Clone(context.Background(), 2, CloneRequest{Name: "Bad", PermissionIDs: []int64{99}}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCloneRejectsDuplicateName(t *testing.T) {
	svc, _ := serviceFixture(t)

	_, err := svc.Clone(context.Background(), 2, CloneRequest{Name: "Manager"}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Clone(context.Background(), 2, CloneRequest{}, 1)
	require.NoError(t, err)
	_, err = svc.Clone(context.Background(), 2, CloneRequest{}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation, "default clone name collides on the second clone")
}

func TestAssignPermissionsCascadesToDescendants(t *testing.T) {
	svc, repo := serviceFixture(t)

	granted, err := svc.AssignPermissions(context.Background(), 2, []int64{10}, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 11}, granted, "manage on accounting also grants manage on invoices")

	ids, err := repo.ListGrantIDs(context.Background(), 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 11}, ids)
}

func TestAssignPermissionsReplacesExistingGrants(t *testing.T) {
	svc, repo := serviceFixture(t)
	require.NoError(t, repo.AddGrants(context.Background(), 2, []int64{12}))

	_, err := svc.AssignPermissions(context.Background(), 2, []int64{13}, 1)
	require.NoError(t, err)

	ids, err := repo.ListGrantIDs(context.Background(), 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{13, 12}, ids, "replace plus descendant cascade of create")
}

func TestRemovePermissionRevokesAncestors(t *testing.T) {
	svc, repo := serviceFixture(t)
	require.NoError(t, repo.AddGrants(context.Background(), 2, []int64{10, 11, 12, 13}))

	revoked, err := svc.RemovePermission(context.Background(), 2, 12, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{12, 13}, revoked, "same-action ancestor goes too")

	ids, err := repo.ListGrantIDs(context.Background(), 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 11}, ids, "other actions untouched")
}

func TestGrantChangesRejectInactivePermissions(t *testing.T) {
	svc, _ := serviceFixture(t)

	_, err := svc.AssignPermissions(context.Background(), 2, []int64{14}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation, "inactive permission cannot be granted")

	_, err = svc.Clone(context.Background(), 2, CloneRequest{Name: "Stale", PermissionIDs: []int64{14}}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGrantChangesRejectSystemRoles(t *testing.T) {
	svc, _ := serviceFixture(t)
	_, err := svc.AssignPermissions(context.Background(), 1, []int64{10}, 1)
	assert.ErrorIs(t, err, shared.ErrAuthorization)
}

func TestGrantChangesGateOnAuthority(t *testing.T) {
	svc, _ := serviceFixture(t)

	stronger, err := svc.Create(context.Background(), CreateRequest{Name: "Lead", Priority: 10}, 1)
	require.NoError(t, err)

	_, err = svc.AddPermission(context.Background(), stronger.ID, 12, 2)
	assert.ErrorIs(t, err, shared.ErrAuthorization, "manager cannot grant to a stronger role")
}
