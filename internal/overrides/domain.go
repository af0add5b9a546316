// Package overrides owns per-user permission exceptions. An override pins
// one permission to allow or deny for one user, optionally until an expiry
// time, and beats whatever the user's role says.
package overrides

import (
	"time"

	"github.com/lattice-hq/lattice/internal/authz"
)

// Override is one user-level exception.
type Override struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"userId"`
	PermissionID int64        `json:"permissionId"`
	Effect       authz.Effect `json:"effect"`
	Reason       string       `json:"reason"`
	GrantedBy    int64        `json:"grantedBy"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// CreateRequest describes a new override for a user taken from the route.
// Cascade expands the override across the module tree: allows spread
// top-down to descendants, denies spread bottom-up to ancestors.
type CreateRequest struct {
	PermissionID int64        `json:"permissionId" validate:"required"`
	Effect       authz.Effect `json:"effect" validate:"required"`
	Reason       string       `json:"reason"`
	ExpiresAt    *time.Time   `json:"expiresAt"`
	Cascade      bool         `json:"cascade"`
}
