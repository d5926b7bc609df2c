// Package v1alpha1 defines the identity and access-control resource kinds of
// the auth group: User, Role, Policy, PolicyAttachment, and RoleAttachment.
package v1alpha1

import (
	"go.wharfapis.com/wharf/internal/resource"
)

// GroupName is the API group; it doubles as the physical database name.
const GroupName = "auth"

// Version is the schema version of this package.
const Version = "v1alpha1"

// APIVersion is the canonical "<group>/<version>" string for this package.
const APIVersion = GroupName + "/" + Version

func typeMeta(kind, plural string) resource.TypeMeta {
	return resource.TypeMeta{APIVersion: APIVersion, Kind: kind, KindPlural: plural}
}

var (
	// UserTypeMeta identifies the User kind.
	UserTypeMeta = typeMeta("User", "users")
	// RoleTypeMeta identifies the Role kind.
	RoleTypeMeta = typeMeta("Role", "roles")
	// PolicyTypeMeta identifies the Policy kind.
	PolicyTypeMeta = typeMeta("Policy", "policies")
	// PolicyAttachmentTypeMeta identifies the PolicyAttachment kind.
	PolicyAttachmentTypeMeta = typeMeta("PolicyAttachment", "policyattachments")
	// RoleAttachmentTypeMeta identifies the RoleAttachment kind.
	RoleAttachmentTypeMeta = typeMeta("RoleAttachment", "roleattachments")
)
