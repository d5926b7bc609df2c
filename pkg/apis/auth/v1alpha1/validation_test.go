package v1alpha1

import (
	"testing"
)

func TestValidateResourcePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{name: "all literals", pattern: "auth/v1alpha1/users/alice"},
		{name: "all wildcards", pattern: "*/*/*/*"},
		{name: "wildcard name", pattern: "auth/v1alpha1/users/*"},
		{name: "wildcard kind", pattern: "auth/v1alpha1/*/alice"},
		{name: "too few segments", pattern: "auth/v1alpha1/users", wantErr: true},
		{name: "too many segments", pattern: "auth/v1alpha1/users/alice/extra", wantErr: true},
		{name: "empty segment", pattern: "auth//users/alice", wantErr: true},
		{name: "partial wildcard", pattern: "auth/v1alpha1/users/ali*", wantErr: true},
		{name: "empty pattern", pattern: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResourcePattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateResourcePattern(%q) error = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePolicy(t *testing.T) {
	valid := NewPolicy("reader")
	valid.Spec.Rules = []PolicyRule{{
		Resources: []string{"auth/v1alpha1/users/*"},
		Actions:   []string{"get", "list"},
	}}
	if err := ValidatePolicy(valid); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{name: "no rules", mutate: func(p *Policy) { p.Spec.Rules = nil }},
		{name: "rule without resources", mutate: func(p *Policy) { p.Spec.Rules[0].Resources = nil }},
		{name: "rule without actions", mutate: func(p *Policy) { p.Spec.Rules[0].Actions = nil }},
		{name: "empty action", mutate: func(p *Policy) { p.Spec.Rules[0].Actions = []string{""} }},
		{name: "bad pattern", mutate: func(p *Policy) { p.Spec.Rules[0].Resources = []string{"users/alice"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy("reader")
			p.Spec.Rules = []PolicyRule{{
				Resources: []string{"auth/v1alpha1/users/*"},
				Actions:   []string{"get", "list"},
			}}
			tt.mutate(p)
			if err := ValidatePolicy(p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidatePolicyAttachment(t *testing.T) {
	valid := NewPolicyAttachment("readers-binding", "reader",
		Subject{Kind: SubjectUser, Name: "alice"},
		Subject{Kind: SubjectRole, Name: "auditors"},
	)
	if err := ValidatePolicyAttachment(valid); err != nil {
		t.Fatalf("valid attachment rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*PolicyAttachment)
	}{
		{name: "no policyRef", mutate: func(a *PolicyAttachment) { a.Spec.PolicyRef = "" }},
		{name: "no subjects", mutate: func(a *PolicyAttachment) { a.Spec.Subjects = nil }},
		{name: "unknown subject kind", mutate: func(a *PolicyAttachment) { a.Spec.Subjects[0].Kind = "group" }},
		{name: "empty subject name", mutate: func(a *PolicyAttachment) { a.Spec.Subjects[0].Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewPolicyAttachment("readers-binding", "reader",
				Subject{Kind: SubjectUser, Name: "alice"},
			)
			tt.mutate(a)
			if err := ValidatePolicyAttachment(a); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateRoleAttachment(t *testing.T) {
	if err := ValidateRoleAttachment(NewRoleAttachment("alice-auditor", "auditors", "alice")); err != nil {
		t.Fatalf("valid attachment rejected: %v", err)
	}
	if err := ValidateRoleAttachment(NewRoleAttachment("x", "", "alice")); err == nil {
		t.Error("missing roleRef should be rejected")
	}
	if err := ValidateRoleAttachment(NewRoleAttachment("x", "auditors", "")); err == nil {
		t.Error("missing userRef should be rejected")
	}
}
