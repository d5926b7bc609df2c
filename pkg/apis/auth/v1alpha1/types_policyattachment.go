package v1alpha1

import (
	"go.wharfapis.com/wharf/internal/resource"
)

// SubjectKind discriminates PolicyAttachment subjects.
type SubjectKind string

const (
	// SubjectUser binds a policy directly to a user.
	SubjectUser SubjectKind = "User"
	// SubjectRole binds a policy to every member of a role.
	SubjectRole SubjectKind = "Role"
)

// Subject names one grantee of a PolicyAttachment.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	Name string      `json:"name"`
}

// PolicyAttachment binds a Policy, by name, to a set of subjects. The
// attachment and the policy are separate documents; the reference is resolved
// when the decision model is compiled.
type PolicyAttachment struct {
	resource.TypeMeta
	Metadata resource.Metadata    `json:"metadata"`
	Spec     PolicyAttachmentSpec `json:"spec"`
}

// PolicyAttachmentSpec is the user-authored half of a PolicyAttachment.
type PolicyAttachmentSpec struct {
	PolicyRef string    `json:"policyRef"`
	Subjects  []Subject `json:"subjects"`
}

// GetMetadata implements resource.Object.
func (a *PolicyAttachment) GetMetadata() *resource.Metadata { return &a.Metadata }

// NewPolicyAttachment builds a PolicyAttachment with its TypeMeta stamped.
func NewPolicyAttachment(name, policyRef string, subjects ...Subject) *PolicyAttachment {
	return &PolicyAttachment{
		TypeMeta: PolicyAttachmentTypeMeta,
		Metadata: resource.Metadata{Name: name},
		Spec:     PolicyAttachmentSpec{PolicyRef: policyRef, Subjects: subjects},
	}
}
