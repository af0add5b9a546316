package authz

import (
	"context"

	"github.com/lattice-hq/lattice/internal/directory"
)

// ModuleTree exposes the external module catalog.
type ModuleTree interface {
	GetModule(ctx context.Context, id int64) (directory.Module, error)
	Children(ctx context.Context, parentID int64) ([]directory.Module, error)
}

// PermissionFinder locates catalog rows by module and action.
type PermissionFinder interface {
	// FindPermissionID returns the id of the permission for (moduleID, action)
	// and whether such a permission exists in the catalog.
	FindPermissionID(ctx context.Context, moduleID int64, action Action) (int64, bool, error)
}

// ExpandDescendants walks the module tree top-down from moduleID and returns
// the permission ids for the same action on every descendant module that has
// a matching catalog entry. The starting module itself is excluded. Used when
// assigning a coarse permission so sub-modules automatically receive the
// matching fine-grained permission.
func ExpandDescendants(ctx context.Context, tree ModuleTree, finder PermissionFinder, moduleID int64, action Action) ([]int64, error) {
	visited := map[int64]struct{}{moduleID: {}}
	queue := []int64{moduleID}
	var ids []int64
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := tree.Children(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			queue = append(queue, child.ID)
			permID, ok, err := finder.FindPermissionID(ctx, child.ID, action)
			if err != nil {
				return nil, err
			}
			if ok {
				ids = append(ids, permID)
			}
		}
	}
	return ids, nil
}

// ExpandAncestors walks the parent chain bottom-up from moduleID and returns
// the permission ids for the same action on every ancestor module that has a
// matching catalog entry. The starting module itself is excluded. Used when
// revoking or denying, since an ancestor-level grant for the same action
// would otherwise silently re-admit access to the revoked module.
func ExpandAncestors(ctx context.Context, tree ModuleTree, finder PermissionFinder, moduleID int64, action Action) ([]int64, error) {
	visited := map[int64]struct{}{moduleID: {}}
	var ids []int64
	current, err := tree.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	for current.ParentID != nil {
		parentID := *current.ParentID
		if _, seen := visited[parentID]; seen {
			break
		}
		visited[parentID] = struct{}{}
		permID, ok, err := finder.FindPermissionID(ctx, parentID, action)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, permID)
		}
		current, err = tree.GetModule(ctx, parentID)
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// UnionIDs merges id slices into one set, preserving first-seen order.
func UnionIDs(sets ...[]int64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, set := range sets {
		for _, id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
