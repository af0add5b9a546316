// Package directory exposes read-only views of the external user directory
// and module tree. Both are owned by other subsystems and referenced by id.
package directory

// User is the minimal account view the engine needs.
type User struct {
	ID        int64
	RoleID    *int64
	IsActive  bool
	IsDeleted bool
}

// Module is one node of the product module/feature tree.
type Module struct {
	ID       int64
	Code     string
	ParentID *int64
	IsActive bool
}
