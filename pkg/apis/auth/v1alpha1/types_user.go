package v1alpha1

import (
	"go.wharfapis.com/wharf/internal/resource"
)

// User is a platform account. Its status converges toward the user-authored
// spec: a disabled user stays authenticated nowhere even while the document
// still exists.
type User struct {
	resource.TypeMeta
	Metadata resource.Metadata `json:"metadata"`
	Spec     UserSpec          `json:"spec"`
	Status   *UserStatus       `json:"status,omitempty"`
}

// UserSpec is the user-authored half of a User.
type UserSpec struct {
	// Enabled gates every credential and session belonging to the user.
	Enabled bool `json:"enabled"`
	// Email is informational and optional.
	Email string `json:"email,omitempty"`
	// DisplayName is informational and optional.
	DisplayName string `json:"displayName,omitempty"`
}

// UserStatus is the controller-authored half of a User.
type UserStatus struct {
	Enabled bool `json:"enabled"`
}

// GetMetadata implements resource.Object.
func (u *User) GetMetadata() *resource.Metadata { return &u.Metadata }

// NewUser builds a User with its TypeMeta stamped.
func NewUser(name string) *User {
	return &User{TypeMeta: UserTypeMeta, Metadata: resource.Metadata{Name: name}}
}
