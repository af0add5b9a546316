package overrides

import (
	"context"
	"strconv"
	"time"

	"github.com/lattice-hq/lattice/internal/audit"
	"github.com/lattice-hq/lattice/internal/authz"
	"github.com/lattice-hq/lattice/internal/permissions"
	"github.com/lattice-hq/lattice/internal/roles"
	"github.com/lattice-hq/lattice/internal/shared"
)

// RoleDirectory resolves roles for the authority checks.
type RoleDirectory interface {
	GetByID(ctx context.Context, id int64) (roles.Role, error)
}

// PermissionStore resolves the catalog rows an override points at.
type PermissionStore interface {
	GetByID(ctx context.Context, id int64) (permissions.Permission, error)
	GetByIDs(ctx context.Context, ids []int64) ([]permissions.Permission, error)
}

// Service handles override business logic. Granting runs a four-step gate:
// both granter and target must be active users with roles, the granter's
// role must clear the override-granting threshold, the granter must outrank
// the target, and the permission must exist, be active and not be a system
// permission.
type Service struct {
	repo   Repository
	users  authz.UserDirectory
	roles  RoleDirectory
	perms  PermissionStore
	tree   authz.ModuleTree
	finder authz.PermissionFinder
	audit  audit.Recorder
}

// NewService builds Service instance.
func NewService(repo Repository, users authz.UserDirectory, roleDir RoleDirectory, perms PermissionStore, tree authz.ModuleTree, finder authz.PermissionFinder, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{repo: repo, users: users, roles: roleDir, perms: perms, tree: tree, finder: finder, audit: recorder}
}

// Create validates and upserts one override. With Cascade set, an allow
// also covers the permission's action on every descendant module, and a
// deny also covers it on every ancestor module, all written in one
// transaction with the same effect, reason, granter and expiry.
func (s *Service) Create(ctx context.Context, userID int64, req CreateRequest, actorID int64) ([]Override, error) {
	if !authz.ValidEffect(req.Effect) {
		return nil, shared.Validationf("unknown effect %q", req.Effect)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, shared.Validationf("expiry must be in the future")
	}

	perm, err := s.validateGrant(ctx, actorID, userID, req.PermissionID)
	if err != nil {
		return nil, err
	}

	permissionIDs := []int64{req.PermissionID}
	if req.Cascade {
		expanded, err := s.expand(ctx, perm, req.Effect)
		if err != nil {
			return nil, err
		}
		permissionIDs = authz.UnionIDs(permissionIDs, expanded)
	}

	created := make([]Override, 0, len(permissionIDs))
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		for _, permissionID := range permissionIDs {
			o, err := repo.Upsert(ctx, Override{
				UserID:       userID,
				PermissionID: permissionID,
				Effect:       req.Effect,
				Reason:       req.Reason,
				GrantedBy:    actorID,
				ExpiresAt:    req.ExpiresAt,
			})
			if err != nil {
				return err
			}
			created = append(created, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "override." + string(req.Effect),
		Entity: "user", EntityID: strconv.FormatInt(userID, 10),
		Meta: map[string]any{"permission": perm.Name, "cascade": req.Cascade, "written": len(created)},
	})
	return created, nil
}

// BulkCreate applies several overrides to one user atomically. The
// actor/target gate runs once for the whole batch; every entry is then
// validated, cascades included, before anything is written.
func (s *Service) BulkCreate(ctx context.Context, userID int64, reqs []CreateRequest, actorID int64) ([]Override, error) {
	if len(reqs) == 0 {
		return nil, shared.Validationf("empty override batch")
	}
	if err := s.gateActor(ctx, actorID, userID); err != nil {
		return nil, err
	}

	type planned struct {
		permissionIDs []int64
		req           CreateRequest
	}
	plans := make([]planned, 0, len(reqs))
	for _, req := range reqs {
		if !authz.ValidEffect(req.Effect) {
			return nil, shared.Validationf("unknown effect %q", req.Effect)
		}
		if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
			return nil, shared.Validationf("expiry must be in the future")
		}
		perm, err := s.resolvePermission(ctx, req.PermissionID)
		if err != nil {
			return nil, err
		}
		ids := []int64{req.PermissionID}
		if req.Cascade {
			expanded, err := s.expand(ctx, perm, req.Effect)
			if err != nil {
				return nil, err
			}
			ids = authz.UnionIDs(ids, expanded)
		}
		plans = append(plans, planned{permissionIDs: ids, req: req})
	}

	var created []Override
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		for _, plan := range plans {
			for _, permissionID := range plan.permissionIDs {
				o, err := repo.Upsert(ctx, Override{
					UserID:       userID,
					PermissionID: permissionID,
					Effect:       plan.req.Effect,
					Reason:       plan.req.Reason,
					GrantedBy:    actorID,
					ExpiresAt:    plan.req.ExpiresAt,
				})
				if err != nil {
					return err
				}
				created = append(created, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "override.bulk",
		Entity: "user", EntityID: strconv.FormatInt(userID, 10),
		Meta: map[string]any{"requested": len(reqs), "written": len(created)},
	})
	return created, nil
}

// ListForUser returns the user's unexpired overrides.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]Override, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListForUser(ctx, userID)
}

// Delete removes one override. The actor needs the same authority over the
// target as for granting.
func (s *Service) Delete(ctx context.Context, userID, permissionID int64, actorID int64) error {
	if err := s.gateActor(ctx, actorID, userID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, permissionID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "override.delete",
		Entity: "user", EntityID: strconv.FormatInt(userID, 10),
		Meta: map[string]any{"permissionId": strconv.FormatInt(permissionID, 10)},
	})
	return nil
}

// DeleteAll removes every override of a user and reports the count.
func (s *Service) DeleteAll(ctx context.Context, userID int64, actorID int64) (int64, error) {
	if err := s.gateActor(ctx, actorID, userID); err != nil {
		return 0, err
	}
	count, err := s.repo.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "override.delete_all",
		Entity: "user", EntityID: strconv.FormatInt(userID, 10),
		Meta: map[string]any{"deleted": count},
	})
	return count, nil
}

// validateGrant runs the full grant gate and returns the resolved
// permission.
func (s *Service) validateGrant(ctx context.Context, actorID, targetID, permissionID int64) (permissions.Permission, error) {
	if err := s.gateActor(ctx, actorID, targetID); err != nil {
		return permissions.Permission{}, err
	}
	return s.resolvePermission(ctx, permissionID)
}

// resolvePermission loads the catalog row and rejects ones an override may
// not target. System permissions are never overridable.
func (s *Service) resolvePermission(ctx context.Context, permissionID int64) (permissions.Permission, error) {
	perm, err := s.perms.GetByID(ctx, permissionID)
	if err != nil {
		return permissions.Permission{}, err
	}
	if !perm.IsActive {
		return permissions.Permission{}, shared.Validationf("permission %q is inactive", perm.Name)
	}
	if perm.IsSystem {
		return permissions.Permission{}, shared.Authorizationf("system permission %q cannot be overridden", perm.Name)
	}
	return perm, nil
}

// gateActor checks the actor's standing and authority over the target.
func (s *Service) gateActor(ctx context.Context, actorID, targetID int64) error {
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.IsDeleted || !actor.IsActive {
		return shared.Authorizationf("actor %d is not an active user", actorID)
	}
	if actor.RoleID == nil {
		return shared.Authorizationf("actor %d has no role", actorID)
	}
	actorRole, err := s.roles.GetByID(ctx, *actor.RoleID)
	if err != nil {
		return err
	}
	if !authz.MayGrantOverrides(actorRole.Priority) {
		return shared.Authorizationf("role %q may not manage overrides", actorRole.Name)
	}

	target, err := s.users.GetUser(ctx, targetID)
	if err != nil {
		return err
	}
	if target.IsDeleted || !target.IsActive {
		return shared.Validationf("target user %d is not an active user", targetID)
	}
	if target.RoleID == nil {
		return shared.Authorizationf("target user %d has no role", targetID)
	}
	targetRole, err := s.roles.GetByID(ctx, *target.RoleID)
	if err != nil {
		return err
	}
	if !authz.CanActOn(actorRole.Priority, targetRole.Priority) {
		return shared.Authorizationf("cannot manage overrides for a user with stronger role %q", targetRole.Name)
	}
	return nil
}

// expand returns the cascade set for one override. Allows spread top-down,
// denies spread bottom-up; both stay within the same action, and system
// permissions are left out of the cascade.
func (s *Service) expand(ctx context.Context, perm permissions.Permission, effect authz.Effect) ([]int64, error) {
	var ids []int64
	var err error
	if effect == authz.EffectDeny {
		ids, err = authz.ExpandAncestors(ctx, s.tree, s.finder, perm.ModuleID, perm.Action)
	} else {
		ids, err = authz.ExpandDescendants(ctx, s.tree, s.finder, perm.ModuleID, perm.Action)
	}
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	rows, err := s.perms.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(rows))
	for _, row := range rows {
		if row.IsSystem {
			continue
		}
		out = append(out, row.ID)
	}
	return out, nil
}
