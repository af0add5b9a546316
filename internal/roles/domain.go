// Package roles owns the role catalog, the role→permission grant edges and
// role cloning. Priority is the authority ranking: lower value means
// stronger authority.
package roles

import "time"

// Role is a named authority level.
type Role struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	BaseRoleID  *int64     `json:"baseRoleId,omitempty"`
	Level       *string    `json:"level,omitempty"`
	IsSystem    bool       `json:"isSystem"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// CreateRequest describes a new role.
type CreateRequest struct {
	Name        string  `json:"name" validate:"required,min=2,max=100"`
	Description string  `json:"description"`
	Priority    int     `json:"priority" validate:"min=0"`
	BaseRoleID  *int64  `json:"baseRoleId"`
	Level       *string `json:"level"`
}

// UpdateRequest carries the mutable role fields.
type UpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=100"`
	Description *string `json:"description"`
	Priority    *int    `json:"priority" validate:"omitempty,min=0"`
	BaseRoleID  *int64  `json:"baseRoleId"`
	IsActive    *bool   `json:"isActive"`
}

// CloneRequest describes a clone-to-custom-role operation. When
// PermissionIDs is nil the base role's grants are copied verbatim; when it
// is set, exactly those permissions are assigned with no cascade.
type CloneRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permissionIds"`
}
