// Package authz implements the authorization decision engine and its pure
// building blocks: the action hierarchy, the module-tree cascade expander and
// the role-hierarchy gate.
package authz

// Action is one entry of the closed action set.
type Action string

// The closed action set, finest first.
const (
	ActionRead    Action = "read"
	ActionList    Action = "list"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
	ActionApprove Action = "approve"
	ActionManage  Action = "manage"
	ActionAdmin   Action = "admin"
)

// orderedActions lists every action, finest first. Coarse actions come last
// so CoarserActions returns nearest-first candidates.
var orderedActions = []Action{
	ActionRead,
	ActionList,
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionExport,
	ActionApprove,
	ActionManage,
	ActionAdmin,
}

// actionImplies is the fixed implication table: a grant for the key action
// also satisfies requests for every listed action. Not user-editable.
var actionImplies = map[Action][]Action{
	ActionManage: {
		ActionRead, ActionList, ActionCreate, ActionUpdate,
		ActionDelete, ActionExport, ActionApprove,
	},
	ActionAdmin: {
		ActionRead, ActionList, ActionCreate, ActionUpdate,
		ActionDelete, ActionExport, ActionApprove, ActionManage,
	},
}

// Actions returns the closed action set in canonical order.
func Actions() []Action {
	out := make([]Action, len(orderedActions))
	copy(out, orderedActions)
	return out
}

// ValidAction reports whether a belongs to the closed action set.
func ValidAction(a Action) bool {
	for _, known := range orderedActions {
		if known == a {
			return true
		}
	}
	return false
}

// CoarserActions returns the ordered actions whose grant would also satisfy a
// request for the given action, nearest first and excluding the action itself.
func CoarserActions(a Action) []Action {
	var out []Action
	for _, coarse := range orderedActions {
		if coarse == a {
			continue
		}
		for _, implied := range actionImplies[coarse] {
			if implied == a {
				out = append(out, coarse)
				break
			}
		}
	}
	return out
}
