package v1alpha1

import (
	"fmt"
	"strings"
)

// patternSegments is the fixed shape of a resource pattern:
// group/version/kindPlural/name.
const patternSegments = 4

// ValidateResourcePattern checks the "<group>/<version>/<kindPlural>/<name>"
// shape. Each segment is either "*" or a non-empty literal; no other
// wildcarding is supported.
func ValidateResourcePattern(pattern string) error {
	parts := strings.Split(pattern, "/")
	if len(parts) != patternSegments {
		return fmt.Errorf("resource pattern %q must have exactly %d segments", pattern, patternSegments)
	}
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("resource pattern %q has an empty segment", pattern)
		}
		if part != "*" && strings.Contains(part, "*") {
			return fmt.Errorf("resource pattern %q mixes a wildcard with a literal; a segment is either %q or an exact value", pattern, "*")
		}
	}
	return nil
}

// ValidatePolicy rejects policies whose rules could never grant anything or
// whose patterns are malformed.
func ValidatePolicy(p *Policy) error {
	if len(p.Spec.Rules) == 0 {
		return fmt.Errorf("policy %q has no rules", p.Metadata.Name)
	}
	for i, rule := range p.Spec.Rules {
		if len(rule.Resources) == 0 {
			return fmt.Errorf("policy %q rule %d has no resources", p.Metadata.Name, i)
		}
		if len(rule.Actions) == 0 {
			return fmt.Errorf("policy %q rule %d has no actions", p.Metadata.Name, i)
		}
		for _, pattern := range rule.Resources {
			if err := ValidateResourcePattern(pattern); err != nil {
				return fmt.Errorf("policy %q rule %d: %w", p.Metadata.Name, i, err)
			}
		}
		for _, action := range rule.Actions {
			if action == "" {
				return fmt.Errorf("policy %q rule %d has an empty action", p.Metadata.Name, i)
			}
		}
	}
	return nil
}

// ValidatePolicyAttachment rejects attachments with no reference or no
// subjects. The policyRef is resolved at model compile time, not here.
func ValidatePolicyAttachment(a *PolicyAttachment) error {
	if a.Spec.PolicyRef == "" {
		return fmt.Errorf("policy attachment %q has no policyRef", a.Metadata.Name)
	}
	if len(a.Spec.Subjects) == 0 {
		return fmt.Errorf("policy attachment %q has no subjects", a.Metadata.Name)
	}
	for i, subject := range a.Spec.Subjects {
		if subject.Kind != SubjectUser && subject.Kind != SubjectRole {
			return fmt.Errorf("policy attachment %q subject %d has unknown kind %q", a.Metadata.Name, i, subject.Kind)
		}
		if subject.Name == "" {
			return fmt.Errorf("policy attachment %q subject %d has no name", a.Metadata.Name, i)
		}
	}
	return nil
}

// ValidateRoleAttachment rejects attachments missing either end of the
// membership relation.
func ValidateRoleAttachment(a *RoleAttachment) error {
	if a.Spec.RoleRef == "" {
		return fmt.Errorf("role attachment %q has no roleRef", a.Metadata.Name)
	}
	if a.Spec.UserRef == "" {
		return fmt.Errorf("role attachment %q has no userRef", a.Metadata.Name)
	}
	return nil
}
