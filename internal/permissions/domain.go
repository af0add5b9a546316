// Package permissions owns the catalog of grantable capabilities. Each
// permission ties one module to one action; its key is derived from the
// module-code path and the action and is never hand-maintained.
package permissions

import (
	"time"

	"github.com/lattice-hq/lattice/internal/authz"
)

// Permission is a grantable capability.
type Permission struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	ModuleID    int64        `json:"moduleId"`
	Action      authz.Action `json:"action"`
	IsSystem    bool         `json:"isSystem"`
	IsActive    bool         `json:"isActive"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	DeletedAt   *time.Time   `json:"deletedAt,omitempty"`
}

// CreateRequest describes a new permission. The key is derived, not supplied.
type CreateRequest struct {
	ModuleID    int64        `json:"moduleId" validate:"required"`
	Action      authz.Action `json:"action" validate:"required"`
	Description string       `json:"description"`
	IsSystem    bool         `json:"isSystem"`
}

// UpdateRequest carries the only mutable fields. The derived key and the
// module/action binding are immutable after creation.
type UpdateRequest struct {
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

// ListFilters narrows catalog listings.
type ListFilters struct {
	ModuleID *int64
	Action   *authz.Action
	Search   string
}
