package permissions

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/lattice-hq/lattice/internal/audit"
	"github.com/lattice-hq/lattice/internal/authz"
	"github.com/lattice-hq/lattice/internal/shared"
)

// Service handles permission catalog business logic.
type Service struct {
	repo  Repository
	tree  authz.ModuleTree
	audit audit.Recorder
}

// NewService builds Service instance.
func NewService(repo Repository, tree authz.ModuleTree, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{repo: repo, tree: tree, audit: recorder}
}

// Create validates and inserts one permission. The key is derived from the
// module-code path and the action before any write.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (Permission, error) {
	name, err := s.deriveName(ctx, req.ModuleID, req.Action)
	if err != nil {
		return Permission{}, err
	}
	if _, err := s.repo.GetByName(ctx, name); err == nil {
		return Permission{}, shared.Validationf("permission %q already exists", name)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Permission{}, err
	}

	created, err := s.repo.Create(ctx, Permission{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		ModuleID:    req.ModuleID,
		Action:      req.Action,
		IsSystem:    req.IsSystem,
	})
	if err != nil {
		return Permission{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "permission.create",
		Entity: "permission", EntityID: created.Name,
	})
	return created, nil
}

// BulkCreate validates the whole batch, against itself and against existing
// rows, before inserting anything. All inserts run in one transaction.
func (s *Service) BulkCreate(ctx context.Context, reqs []CreateRequest, actorID int64) ([]Permission, error) {
	if len(reqs) == 0 {
		return nil, shared.Validationf("empty permission batch")
	}

	names := make([]string, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		name, err := s.deriveName(ctx, req.ModuleID, req.Action)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			return nil, shared.Validationf("duplicate permission %q in batch", name)
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	existing, err := s.repo.ExistingNames(ctx, names)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, shared.Validationf("permissions already exist: %s", strings.Join(existing, ", "))
	}

	created := make([]Permission, 0, len(reqs))
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		for i, req := range reqs {
			p, err := repo.Create(ctx, Permission{
				Name:        names[i],
				Description: strings.TrimSpace(req.Description),
				ModuleID:    req.ModuleID,
				Action:      req.Action,
				IsSystem:    req.IsSystem,
			})
			if err != nil {
				return err
			}
			created = append(created, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "permission.bulk_create",
		Entity: "permission", EntityID: strconv.Itoa(len(created)),
		Meta: map[string]any{"names": names},
	})
	return created, nil
}

// Get fetches a permission by id.
func (s *Service) Get(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByKey fetches a permission by its derived key.
func (s *Service) GetByKey(ctx context.Context, key string) (Permission, error) {
	if _, _, err := authz.ParseKey(key); err != nil {
		return Permission{}, err
	}
	return s.repo.GetByName(ctx, key)
}

// List returns catalog entries matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Permission, error) {
	if filters.Action != nil && !authz.ValidAction(*filters.Action) {
		return nil, shared.Validationf("unknown action %q", *filters.Action)
	}
	return s.repo.List(ctx, filters)
}

// Update changes description and active flag. System permissions are
// immutable.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, actorID int64) (Permission, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if existing.IsSystem {
		return Permission{}, shared.Authorizationf("system permission %q is immutable", existing.Name)
	}

	description := existing.Description
	if req.Description != nil {
		description = strings.TrimSpace(*req.Description)
	}
	isActive := existing.IsActive
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	updated, err := s.repo.Update(ctx, id, description, isActive)
	if err != nil {
		return Permission{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "permission.update",
		Entity: "permission", EntityID: updated.Name,
	})
	return updated, nil
}

// Delete soft-deletes a permission. System permissions are undeletable.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return shared.Authorizationf("system permission %q cannot be deleted", existing.Name)
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actorID, Action: "permission.delete",
		Entity: "permission", EntityID: existing.Name,
	})
	return nil
}

// deriveName validates the module and action and computes the canonical key.
func (s *Service) deriveName(ctx context.Context, moduleID int64, action authz.Action) (string, error) {
	if !authz.ValidAction(action) {
		return "", shared.Validationf("unknown action %q", action)
	}
	path, err := authz.ModulePath(ctx, s.tree, moduleID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", shared.Validationf("module %d does not exist", moduleID)
		}
		return "", err
	}
	return authz.BuildKey(path, action), nil
}
