package v1alpha1

import (
	"go.wharfapis.com/wharf/internal/resource"
)

// RoleAttachment makes one user a member of one role. Membership is the only
// relation between users and roles; roles do not nest.
type RoleAttachment struct {
	resource.TypeMeta
	Metadata resource.Metadata  `json:"metadata"`
	Spec     RoleAttachmentSpec `json:"spec"`
}

// RoleAttachmentSpec is the user-authored half of a RoleAttachment.
type RoleAttachmentSpec struct {
	RoleRef string `json:"roleRef"`
	UserRef string `json:"userRef"`
}

// GetMetadata implements resource.Object.
func (a *RoleAttachment) GetMetadata() *resource.Metadata { return &a.Metadata }

// NewRoleAttachment builds a RoleAttachment with its TypeMeta stamped.
func NewRoleAttachment(name, roleRef, userRef string) *RoleAttachment {
	return &RoleAttachment{
		TypeMeta: RoleAttachmentTypeMeta,
		Metadata: resource.Metadata{Name: name},
		Spec:     RoleAttachmentSpec{RoleRef: roleRef, UserRef: userRef},
	}
}
