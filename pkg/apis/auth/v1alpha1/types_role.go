package v1alpha1

import (
	"go.wharfapis.com/wharf/internal/resource"
)

// Role is an opaque subject grouping. Users become members through
// RoleAttachments; policies bind to it through PolicyAttachment subjects of
// kind Role.
type Role struct {
	resource.TypeMeta
	Metadata resource.Metadata `json:"metadata"`
	Spec     RoleSpec          `json:"spec"`
}

// RoleSpec is currently empty; the role's identity is its name.
type RoleSpec struct {
	// Description is informational and optional.
	Description string `json:"description,omitempty"`
}

// GetMetadata implements resource.Object.
func (r *Role) GetMetadata() *resource.Metadata { return &r.Metadata }

// NewRole builds a Role with its TypeMeta stamped.
func NewRole(name string) *Role {
	return &Role{TypeMeta: RoleTypeMeta, Metadata: resource.Metadata{Name: name}}
}
