package v1alpha1

import (
	"go.wharfapis.com/wharf/internal/resource"
)

// Policy is a named set of allow rules. A rule grants its actions on every
// resource matching one of its patterns; policies carry no subjects of their
// own and take effect only through PolicyAttachments.
type Policy struct {
	resource.TypeMeta
	Metadata resource.Metadata `json:"metadata"`
	Spec     PolicySpec        `json:"spec"`
}

// PolicySpec is the user-authored half of a Policy.
type PolicySpec struct {
	Rules []PolicyRule `json:"rules"`
}

// PolicyRule grants Actions on Resources. Each resource is a
// "<group>/<version>/<kindPlural>/<name>" pattern where "*" matches any
// value in that segment; an action of "*" matches any action.
type PolicyRule struct {
	Resources []string `json:"resources"`
	Actions   []string `json:"actions"`
}

// GetMetadata implements resource.Object.
func (p *Policy) GetMetadata() *resource.Metadata { return &p.Metadata }

// NewPolicy builds a Policy with its TypeMeta stamped.
func NewPolicy(name string, rules ...PolicyRule) *Policy {
	return &Policy{
		TypeMeta: PolicyTypeMeta,
		Metadata: resource.Metadata{Name: name},
		Spec:     PolicySpec{Rules: rules},
	}
}
