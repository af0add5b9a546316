package authz

// Priority is an authority ranking: lower value means stronger authority.

// MaxOverrideGranterPriority is the weakest role priority still allowed to
// grant per-user overrides. Actors with a higher priority value may never
// create overrides, regardless of the target.
const MaxOverrideGranterPriority = 50

// CanActOn reports whether an actor with granterPriority may create, edit or
// delete a role (or manage a user) at targetPriority. Equal authority is
// sufficient.
func CanActOn(granterPriority, targetPriority int) bool {
	return granterPriority <= targetPriority
}

// MayGrantOverrides reports whether the actor meets the fixed
// minimum-authority threshold for creating overrides.
func MayGrantOverrides(granterPriority int) bool {
	return granterPriority <= MaxOverrideGranterPriority
}
