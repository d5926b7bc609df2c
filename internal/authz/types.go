// Package authz implements access-control enforcement over the stored policy
// kinds. A Loader compiles the raw documents into an immutable in-memory
// Model; an Enforcer answers allow/deny checks against an atomically swapped
// model snapshot; Wiring keeps the snapshot fresh by following the store's
// change feed.
package authz

import (
	"fmt"
	"strings"

	"go.wharfapis.com/wharf/pkg/apis/auth/v1alpha1"
)

// RootSubject bypasses every check.
const RootSubject = "user:root"

// UserSubject returns the subject key for a user.
func UserSubject(name string) string { return "user:" + name }

// RoleSubject returns the subject key for a role.
func RoleSubject(name string) string { return "role:" + name }

// SubjectKey returns the subject key for an attachment subject. Keys must
// match the ones Model lookups build through UserSubject and RoleSubject.
func SubjectKey(s v1alpha1.Subject) string {
	if s.Kind == v1alpha1.SubjectRole {
		return RoleSubject(s.Name)
	}
	return UserSubject(s.Name)
}

// ObjectRef identifies the resource a check targets.
type ObjectRef struct {
	Group      string
	Version    string
	KindPlural string
	Name       string
}

// String renders the reference in pattern notation.
func (r ObjectRef) String() string {
	return r.Group + "/" + r.Version + "/" + r.KindPlural + "/" + r.Name
}

// Wildcard matches any value in a pattern segment.
const Wildcard = "*"

// Pattern is a compiled resource pattern. Each segment is Wildcard or a
// literal; there is no partial-segment matching.
type Pattern struct {
	Group      string
	Version    string
	KindPlural string
	Name       string
}

// ParsePattern compiles "<group>/<version>/<kindPlural>/<name>".
func ParsePattern(s string) (Pattern, error) {
	if err := v1alpha1.ValidateResourcePattern(s); err != nil {
		return Pattern{}, err
	}
	parts := strings.SplitN(s, "/", 4)
	return Pattern{
		Group:      parts[0],
		Version:    parts[1],
		KindPlural: parts[2],
		Name:       parts[3],
	}, nil
}

// Matches reports whether the pattern covers the reference.
func (p Pattern) Matches(ref ObjectRef) bool {
	return segmentMatches(p.Group, ref.Group) &&
		segmentMatches(p.Version, ref.Version) &&
		segmentMatches(p.KindPlural, ref.KindPlural) &&
		segmentMatches(p.Name, ref.Name)
}

func segmentMatches(pattern, value string) bool {
	return pattern == Wildcard || pattern == value
}

// DeniedError reports a failed check with enough detail for an audit line.
type DeniedError struct {
	Subject string
	Action  string
	Object  ObjectRef
}

// Error implements error.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("subject %q is not allowed to %q on %s", e.Subject, e.Action, e.Object)
}
