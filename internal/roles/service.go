package roles

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-hq/lattice/internal/audit"
	"github.com/lattice-hq/lattice/internal/authz"
	"github.com/lattice-hq/lattice/internal/permissions"
	"github.com/lattice-hq/lattice/internal/shared"
)

// UserCounter reports directory usage of a role.
type UserCounter interface {
	CountActiveUsersWithRole(ctx context.Context, roleID int64) (int64, error)
}

// PermissionStore resolves catalog rows referenced by grant operations.
type PermissionStore interface {
	GetByIDs(ctx context.Context, ids []int64) ([]permissions.Permission, error)
}

// Service handles role catalog business logic. Every mutation is gated on
// the acting user's role priority: an actor may only touch roles at or
// below their own authority.
type Service struct {
	repo    Repository
	users   authz.UserDirectory
	counter UserCounter
	perms   PermissionStore
	tree    authz.ModuleTree
	finder  authz.PermissionFinder
	audit   audit.Recorder
}

// NewService builds Service instance.
func NewService(repo Repository, users authz.UserDirectory, counter UserCounter, perms PermissionStore, tree authz.ModuleTree, finder authz.PermissionFinder, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{repo: repo, users: users, counter: counter, perms: perms, tree: tree, finder: finder, audit: recorder}
}

// Create inserts a new custom role. The actor must hold authority at or
// above the new role's priority, and the base-role chain must be acyclic.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (Role, error) {
	actor, err := s.actorRole(ctx, actorID)
	if err != nil {
		return Role{}, err
	}
	if !authz.CanActOn(actor.Priority, req.Priority) {
		return Role{}, shared.Authorizationf("cannot create a role stronger than your own (priority %d < %d)", req.Priority, actor.Priority)
	}
	if req.BaseRoleID != nil {
		if err := s.validateLineage(ctx, *req.BaseRoleID, nil); err != nil {
			return Role{}, err
		}
	}
	name := strings.TrimSpace(req.Name)
	if err := s.ensureNameAvailable(ctx, name); err != nil {
		return Role{}, err
	}

	created, err := s.repo.Create(ctx, Role{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Priority:    req.Priority,
		BaseRoleID:  req.BaseRoleID,
		Level:       req.Level,
	})
	if err != nil {
		return Role{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "role.create",
		Entity: "role", EntityID: created.Name,
	})
	return created, nil
}

// Get fetches a role by id.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all roles, strongest authority first.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// Update changes role fields. System roles only accept description and
// active-flag changes; name, priority and lineage stay fixed.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, actorID int64) (Role, error) {
	actor, err := s.actorRole(ctx, actorID)
	if err != nil {
		return Role{}, err
	}
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if !authz.CanActOn(actor.Priority, existing.Priority) {
		return Role{}, shared.Authorizationf("cannot modify role %q above your authority", existing.Name)
	}
	if existing.IsSystem && (req.Name != nil || req.Priority != nil || req.BaseRoleID != nil) {
		return Role{}, shared.Authorizationf("system role %q accepts only description and active-flag changes", existing.Name)
	}

	next := existing
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		next.Description = strings.TrimSpace(*req.Description)
	}
	if req.Priority != nil {
		if !authz.CanActOn(actor.Priority, *req.Priority) {
			return Role{}, shared.Authorizationf("cannot raise role %q above your authority", existing.Name)
		}
		next.Priority = *req.Priority
	}
	if req.BaseRoleID != nil {
		if err := s.validateLineage(ctx, *req.BaseRoleID, &id); err != nil {
			return Role{}, err
		}
		next.BaseRoleID = req.BaseRoleID
	}
	if req.IsActive != nil {
		next.IsActive = *req.IsActive
	}

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Role{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "role.update",
		Entity: "role", EntityID: updated.Name,
	})
	return updated, nil
}

// Delete soft-deletes a role. System roles are undeletable, and a role
// still referenced by active users is a conflict, not a cascade.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	actor, err := s.actorRole(ctx, actorID)
	if err != nil {
		return err
	}
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return shared.Authorizationf("system role %q cannot be deleted", existing.Name)
	}
	if !authz.CanActOn(actor.Priority, existing.Priority) {
		return shared.Authorizationf("cannot delete role %q above your authority", existing.Name)
	}
	count, err := s.counter.CountActiveUsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return shared.Conflictf("role %q is assigned to %d active users", existing.Name, count)
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "role.delete",
		Entity: "role", EntityID: existing.Name,
	})
	return nil
}

// Clone derives a custom role from a base role. The clone's priority is one
// step weaker than both the actor and the base, so cloning can never mint
// authority. Level is inherited. With an explicit permission list, exactly
// those permissions are granted and no cascade runs; without one, the base
// role's grants are copied verbatim.
func (s *Service) Clone(ctx context.Context, baseID int64, req CloneRequest, actorID int64) (Role, error) {
	actor, err := s.actorRole(ctx, actorID)
	if err != nil {
		return Role{}, err
	}
	base, err := s.repo.GetByID(ctx, baseID)
	if err != nil {
		return Role{}, err
	}

	priority := actor.Priority
	if base.Priority > priority {
		priority = base.Priority
	}
	priority++

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s (clone)", base.Name)
	}
	if err := s.ensureNameAvailable(ctx, name); err != nil {
		return Role{}, err
	}

	var grantIDs []int64
	if req.PermissionIDs != nil {
		if _, err := s.resolvePermissions(ctx, req.PermissionIDs); err != nil {
			return Role{}, err
		}
		grantIDs = req.PermissionIDs
	} else {
		grantIDs, err = s.repo.ListGrantIDs(ctx, baseID)
		if err != nil {
			return Role{}, err
		}
	}

	var clone Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		created, err := repo.Create(ctx, Role{
			Name:        name,
			Description: strings.TrimSpace(req.Description),
			Priority:    priority,
			BaseRoleID:  &baseID,
			Level:       base.Level,
		})
		if err != nil {
			return err
		}
		if err := repo.AddGrants(ctx, created.ID, grantIDs); err != nil {
			return err
		}
		clone = created
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "role.clone",
		Entity: "role", EntityID: clone.Name,
		Meta: map[string]any{"baseRoleId": baseID, "grants": len(grantIDs)},
	})
	return clone, nil
}

// ListGrants returns the permissions currently granted to a role.
func (s *Service) ListGrants(ctx context.Context, roleID int64) ([]permissions.Permission, error) {
	if _, err := s.repo.GetByID(ctx, roleID); err != nil {
		return nil, err
	}
	ids, err := s.repo.ListGrantIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []permissions.Permission{}, nil
	}
	return s.perms.GetByIDs(ctx, ids)
}

// AssignPermissions replaces a role's full grant set. Each assigned
// permission is expanded top-down: granting an action on a module also
// grants the same action on every descendant module that has a matching
// catalog entry.
func (s *Service) AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64, actorID int64) ([]int64, error) {
	role, err := s.gateGrantChange(ctx, roleID, actorID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolvePermissions(ctx, permissionIDs)
	if err != nil {
		return nil, err
	}

	expanded, err := s.expandDescendants(ctx, resolved)
	if err != nil {
		return nil, err
	}
	final := authz.UnionIDs(permissionIDs, expanded)

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.ReplaceGrants(ctx, roleID, final)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "role.assign_permissions",
		Entity: "role", EntityID: role.Name,
		Meta: map[string]any{"requested": len(permissionIDs), "granted": len(final)},
	})
	return final, nil
}

// AddPermission grants one permission plus its descendant expansion.
func (s *Service) AddPermission(ctx context.Context, roleID, permissionID int64, actorID int64) ([]int64, error) {
	role, err := s.gateGrantChange(ctx, roleID, actorID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolvePermissions(ctx, []int64{permissionID})
	if err != nil {
		return nil, err
	}

	expanded, err := s.expandDescendants(ctx, resolved)
	if err != nil {
		return nil, err
	}
	final := authz.UnionIDs([]int64{permissionID}, expanded)

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.AddGrants(ctx, roleID, final)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "role.add_permission",
		Entity: "role", EntityID: role.Name,
		Meta: map[string]any{"permissionId": strconv.FormatInt(permissionID, 10), "granted": len(final)},
	})
	return final, nil
}

// RemovePermission revokes one permission plus its same-action ancestors,
// so an ancestor-level grant cannot silently re-admit access to the
// revoked module.
func (s *Service) RemovePermission(ctx context.Context, roleID, permissionID int64, actorID int64) ([]int64, error) {
	role, err := s.gateGrantChange(ctx, roleID, actorID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolvePermissions(ctx, []int64{permissionID})
	if err != nil {
		return nil, err
	}

	ancestors, err := authz.ExpandAncestors(ctx, s.tree, s.finder, resolved[0].ModuleID, resolved[0].Action)
	if err != nil {
		return nil, err
	}
	final := authz.UnionIDs([]int64{permissionID}, ancestors)

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.RemoveGrants(ctx, roleID, final)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "role.remove_permission",
		Entity: "role", EntityID: role.Name,
		Meta: map[string]any{"permissionId": strconv.FormatInt(permissionID, 10), "revoked": len(final)},
	})
	return final, nil
}

// gateGrantChange loads the role and checks the actor's authority over it.
func (s *Service) gateGrantChange(ctx context.Context, roleID, actorID int64) (Role, error) {
	actor, err := s.actorRole(ctx, actorID)
	if err != nil {
		return Role{}, err
	}
	role, err := s.repo.GetByID(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystem {
		return Role{}, shared.Authorizationf("grants of system role %q are fixed", role.Name)
	}
	if !authz.CanActOn(actor.Priority, role.Priority) {
		return Role{}, shared.Authorizationf("cannot change grants of role %q above your authority", role.Name)
	}
	return role, nil
}

// expandDescendants collects the top-down cascade for each permission.
func (s *Service) expandDescendants(ctx context.Context, perms []permissions.Permission) ([]int64, error) {
	var out []int64
	for _, p := range perms {
		ids, err := authz.ExpandDescendants(ctx, s.tree, s.finder, p.ModuleID, p.Action)
		if err != nil {
			return nil, err
		}
		out = authz.UnionIDs(out, ids)
	}
	return out, nil
}

// resolvePermissions loads the referenced catalog rows and rejects ids that
// do not exist or are inactive.
func (s *Service) resolvePermissions(ctx context.Context, ids []int64) ([]permissions.Permission, error) {
	if len(ids) == 0 {
		return nil, shared.Validationf("empty permission list")
	}
	rows, err := s.perms.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(authz.UnionIDs(ids)) {
		found := make(map[int64]struct{}, len(rows))
		for _, row := range rows {
			found[row.ID] = struct{}{}
		}
		var missing []string
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				missing = append(missing, strconv.FormatInt(id, 10))
			}
		}
		return nil, shared.Validationf("unknown permissions: %s", strings.Join(missing, ", "))
	}
	var inactive []string
	for _, row := range rows {
		if !row.IsActive {
			inactive = append(inactive, row.Name)
		}
	}
	if len(inactive) > 0 {
		return nil, shared.Validationf("inactive permissions: %s", strings.Join(inactive, ", "))
	}
	return rows, nil
}

// ensureNameAvailable rejects a taken role name before anything is written.
func (s *Service) ensureNameAvailable(ctx context.Context, name string) error {
	_, err := s.repo.GetByName(ctx, name)
	if err == nil {
		return shared.Validationf("role %q already exists", name)
	}
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}

// actorRole resolves the acting user's role.
func (s *Service) actorRole(ctx context.Context, actorID int64) (Role, error) {
	user, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return Role{}, err
	}
	if user.IsDeleted || !user.IsActive {
		return Role{}, shared.Authorizationf("actor %d is not an active user", actorID)
	}
	if user.RoleID == nil {
		return Role{}, shared.Authorizationf("actor %d has no role", actorID)
	}
	return s.repo.GetByID(ctx, *user.RoleID)
}

// validateLineage walks the base-role chain from startID and rejects
// missing links and cycles. selfID is the role being edited, if any.
func (s *Service) validateLineage(ctx context.Context, startID int64, selfID *int64) error {
	visited := make(map[int64]struct{})
	current := startID
	for {
		if selfID != nil && current == *selfID {
			return shared.Validationf("role lineage cycle through role %d", current)
		}
		if _, seen := visited[current]; seen {
			return shared.Validationf("role lineage cycle through role %d", current)
		}
		visited[current] = struct{}{}
		role, err := s.repo.GetByID(ctx, current)
		if err != nil {
			return err
		}
		if role.BaseRoleID == nil {
			return nil
		}
		current = *role.BaseRoleID
	}
}
