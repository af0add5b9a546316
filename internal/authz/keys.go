package authz

import (
	"context"
	"strings"

	"github.com/lattice-hq/lattice/internal/shared"
)

// Permission keys are derived values, never hand-maintained strings: the
// dotted module-code path joined with the action, e.g.
// "accounting.invoices.delete".

// BuildKey joins a module path and action into the canonical permission key.
func BuildKey(modulePath string, action Action) string {
	return modulePath + "." + string(action)
}

// ParseKey splits a permission key into its module path and action.
func ParseKey(key string) (string, Action, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", shared.Validationf("permission key is empty")
	}
	idx := strings.LastIndex(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", shared.Validationf("permission key %q must be <module-path>.<action>", key)
	}
	path, action := key[:idx], Action(key[idx+1:])
	if !ValidAction(action) {
		return "", "", shared.Validationf("permission key %q has unknown action %q", key, action)
	}
	return path, action, nil
}

// CandidateKeys returns the coarser-action permission keys sharing the key's
// module path, ordered nearest first. The key itself is excluded.
func CandidateKeys(key string) ([]string, error) {
	path, action, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	coarser := CoarserActions(action)
	out := make([]string, 0, len(coarser))
	for _, a := range coarser {
		out = append(out, BuildKey(path, a))
	}
	return out, nil
}

// ModulePath computes the dotted code path for a module by walking its parent
// chain. A visited set guards against defective tree data.
func ModulePath(ctx context.Context, tree ModuleTree, moduleID int64) (string, error) {
	var codes []string
	visited := make(map[int64]struct{})
	id := moduleID
	for {
		if _, seen := visited[id]; seen {
			return "", shared.Validationf("module tree cycle detected at module %d", id)
		}
		visited[id] = struct{}{}
		module, err := tree.GetModule(ctx, id)
		if err != nil {
			return "", err
		}
		codes = append(codes, module.Code)
		if module.ParentID == nil {
			break
		}
		id = *module.ParentID
	}
	// codes were collected leaf-to-root
	for i, j := 0, len(codes)-1; i < j; i, j = i+1, j-1 {
		codes[i], codes[j] = codes[j], codes[i]
	}
	return strings.Join(codes, "."), nil
}
